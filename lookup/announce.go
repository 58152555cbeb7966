package lookup

import (
	"sync"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
)

type announcePhase int

const (
	phaseGettingPeers announcePhase = iota
	phaseAnnouncing
)

// Announce runs a GetPeers to convergence, then issues announce_peer
// probes to the converged set, replaying each node's collected token
// (spec.md §4.6's "added" component notes).
type Announce struct {
	getPeers *GetPeers

	mu      sync.Mutex
	phase   announcePhase
	toIssue []rtable.Entry
	tokens  map[kad.Key]string
}

// NewAnnounce returns an Announce policy converging on target via an
// embedded GetPeers, then announcing to the K closest responders found.
func NewAnnounce(target kad.Key, k, alpha int) *Announce {
	return &Announce{
		getPeers: NewGetPeers(target, k, alpha, 0),
	}
}

func (p *Announce) Update(t *task.Task) {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	if phase == phaseGettingPeers {
		p.getPeers.Update(t)
		if p.getPeers.IsDone(t) {
			p.enterAnnouncing(t)
		}
		return
	}
	p.issueAnnouncements(t)
}

func (p *Announce) enterAnnouncing(t *task.Task) {
	p.mu.Lock()
	if p.phase != phaseGettingPeers {
		p.mu.Unlock()
		return
	}
	p.phase = phaseAnnouncing
	p.toIssue = p.getPeers.Responded()
	p.tokens = p.getPeers.Tokens()
	p.mu.Unlock()

	p.issueAnnouncements(t)
}

func (p *Announce) issueAnnouncements(t *task.Task) {
	for t.CanDoRequest() {
		p.mu.Lock()
		if len(p.toIssue) == 0 {
			p.mu.Unlock()
			return
		}
		e := p.toIssue[0]
		p.toIssue = p.toIssue[1:]
		token := p.tokens[e.ID]
		p.mu.Unlock()

		t.RPCCall(rpc.Message{Method: "announce_peer", Addr: e.Addr, Token: token}, e.ID, nil)
	}
}

func (p *Announce) CallFinished(t *task.Task, call *rpc.Call, msg rpc.Message) {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	if phase == phaseGettingPeers {
		p.getPeers.CallFinished(t, call, msg)
		return
	}
	t.Logger().Debug("announce_peer: %s acknowledged", call.ExpectedID)
}

func (p *Announce) CallTimeout(t *task.Task, call *rpc.Call) {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	if phase == phaseGettingPeers {
		p.getPeers.CallTimeout(t, call)
		return
	}
	t.Logger().Debug("announce_peer: %s timed out", call.ExpectedID)
}

func (p *Announce) IsDone(t *task.Task) bool {
	p.mu.Lock()
	phase := p.phase
	remaining := len(p.toIssue)
	p.mu.Unlock()

	if phase == phaseGettingPeers {
		return false
	}
	return remaining == 0 && t.OutstandingTotal() == 0
}

// Peers returns the peer addresses collected during the get_peers phase.
func (p *Announce) Peers() []string {
	return p.getPeers.Peers()
}
