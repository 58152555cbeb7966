package lookup

import (
	"net/netip"
	"sync"
	"time"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
)

// GetPeers behaves like FindNode but also treats having collected enough
// direct peer results as a completion condition, and records the
// announce token each responding node hands back so a following Announce
// can replay it (spec.md §4.6's "added" component notes).
type GetPeers struct {
	K        int
	Alpha    int
	MaxPeers int

	responded *respondedTracker

	mu     sync.Mutex
	tokens map[kad.Key]string
	peers  map[string]struct{}
}

// NewGetPeers returns a GetPeers policy converging on target. A MaxPeers
// of 0 disables the peer-count completion shortcut, falling back to pure
// node convergence like FindNode.
func NewGetPeers(target kad.Key, k, alpha, maxPeers int) *GetPeers {
	return &GetPeers{
		K:         k,
		Alpha:     alpha,
		MaxPeers:  maxPeers,
		responded: newRespondedTracker(target, k),
		tokens:    make(map[kad.Key]string),
		peers:     make(map[string]struct{}),
	}
}

func (p *GetPeers) Update(t *task.Task) {
	drainTodo(t, p.responded, p.Alpha, func(e rtable.Entry) {
		t.RPCCall(rpc.Message{Method: "get_peers", Addr: e.Addr}, e.ID, nil)
	})
}

func (p *GetPeers) CallFinished(t *task.Task, call *rpc.Call, msg rpc.Message) {
	t.MarkFirstResult()
	p.responded.observe(rtable.Entry{
		ID:            call.ExpectedID,
		Addr:          call.Request.Addr,
		LastResponded: time.Now(),
	})
	t.RoutingTable().Observe(rtable.Entry{
		ID:            call.ExpectedID,
		Addr:          call.Request.Addr,
		LastResponded: time.Now(),
	})

	if msg.Token != "" {
		p.mu.Lock()
		p.tokens[call.ExpectedID] = msg.Token
		p.mu.Unlock()
	}

	if len(msg.Peers) > 0 {
		p.mu.Lock()
		for _, peer := range msg.Peers {
			p.peers[peer] = struct{}{}
		}
		p.mu.Unlock()
		return
	}

	for _, c := range msg.Contacts {
		addr, err := netip.ParseAddrPort(c.Addr)
		if err != nil {
			t.Logger().Debug("get_peers: skipping contact with unparsable address %q", c.Addr)
			continue
		}
		t.AddToTodo(rtable.Entry{ID: c.ID, Addr: addr, FirstSeen: time.Now()})
	}
}

func (p *GetPeers) CallTimeout(t *task.Task, call *rpc.Call) {
	t.Logger().Debug("get_peers: %s timed out", call.ExpectedID)
}

func (p *GetPeers) IsDone(t *task.Task) bool {
	if p.MaxPeers > 0 {
		p.mu.Lock()
		n := len(p.peers)
		p.mu.Unlock()
		if n >= p.MaxPeers {
			return t.OutstandingTotal() == 0
		}
	}
	return isConverged(t, p.responded)
}

// Peers returns the deduplicated peer addresses collected so far.
func (p *GetPeers) Peers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for peer := range p.peers {
		out = append(out, peer)
	}
	return out
}

// Responded returns the K closest nodes observed to have responded so
// far, closest first.
func (p *GetPeers) Responded() []rtable.Entry {
	return p.responded.snapshot()
}

// Tokens returns the announce token collected from each responding node
// that supplied one, for use by a following Announce.
func (p *GetPeers) Tokens() map[kad.Key]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[kad.Key]string, len(p.tokens))
	for k, v := range p.tokens {
		out[k] = v
	}
	return out
}
