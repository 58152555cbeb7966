package lookup

import (
	"sync"
	"time"

	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
)

// Ping is the minimal possible Task policy: a single-shot liveness probe
// against a todo seeded with exactly one candidate, done as soon as its
// one call reaches a terminal event (spec.md §4.6's "added" component
// notes — used as the cheapest exercise of the state machine).
type Ping struct {
	mu    sync.Mutex
	done  bool
	alive bool
}

// NewPing returns an unstarted Ping policy.
func NewPing() *Ping {
	return &Ping{}
}

func (p *Ping) Update(t *task.Task) {
	e, ok := t.Candidates().PopClosest()
	if !ok {
		return
	}
	t.Visited().Mark(e)
	t.RPCCall(rpc.Message{Method: "ping", Addr: e.Addr}, e.ID, nil)
}

func (p *Ping) CallFinished(t *task.Task, call *rpc.Call, msg rpc.Message) {
	t.MarkFirstResult()
	t.RoutingTable().Observe(rtable.Entry{
		ID:            call.ExpectedID,
		Addr:          call.Request.Addr,
		LastResponded: time.Now(),
	})

	p.mu.Lock()
	p.done = true
	p.alive = true
	p.mu.Unlock()
}

func (p *Ping) CallTimeout(t *task.Task, call *rpc.Call) {
	p.mu.Lock()
	p.done = true
	p.alive = false
	p.mu.Unlock()
}

func (p *Ping) IsDone(t *task.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Alive reports whether the probed node responded. It is only meaningful
// once IsDone reports true.
func (p *Ping) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}
