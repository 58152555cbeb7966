package lookup

import (
	"net/netip"
	"time"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
)

// FindNode is a pure node lookup: it converges on the K nodes closest to
// its target and reports no results of its own beyond the routing table
// observations it makes along the way (spec.md §4.6).
type FindNode struct {
	K     int
	Alpha int

	responded *respondedTracker
}

// NewFindNode returns a FindNode policy converging on target, keeping the
// k closest responders and issuing up to alpha probes per tick.
func NewFindNode(target kad.Key, k, alpha int) *FindNode {
	return &FindNode{
		K:         k,
		Alpha:     alpha,
		responded: newRespondedTracker(target, k),
	}
}

func (p *FindNode) Update(t *task.Task) {
	drainTodo(t, p.responded, p.Alpha, func(e rtable.Entry) {
		t.RPCCall(rpc.Message{Method: "find_node", Addr: e.Addr}, e.ID, nil)
	})
}

func (p *FindNode) CallFinished(t *task.Task, call *rpc.Call, msg rpc.Message) {
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

	for _, c := range msg.Contacts {
		addr, err := netip.ParseAddrPort(c.Addr)
		if err != nil {
			t.Logger().Debug("find_node: skipping contact with unparsable address %q", c.Addr)
			continue
		}
		t.AddToTodo(rtable.Entry{ID: c.ID, Addr: addr, FirstSeen: time.Now()})
	}
}

func (p *FindNode) CallTimeout(t *task.Task, call *rpc.Call) {
	t.Logger().Debug("find_node: %s timed out", call.ExpectedID)
}

func (p *FindNode) IsDone(t *task.Task) bool {
	return isConverged(t, p.responded)
}

// Responded returns the K closest nodes observed to have responded so
// far, closest first.
func (p *FindNode) Responded() []rtable.Entry {
	return p.responded.snapshot()
}
