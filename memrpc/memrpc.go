// Package memrpc is a small, fully-functional in-memory reference
// implementation of the rpc.Server and rtable.RoutingTable capabilities the
// task engine consumes. It exists so the engine can be exercised end to end
// — by tests and by the demo command — without pulling in real socket I/O
// or a bencode codec, both of which stay out of scope for the engine
// itself.
package memrpc

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/buildkite/roko"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/logger"
	"github.com/kadcore/dhtengine/pool"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
)

// Responder synthesizes a response to an outbound request. It returns
// ok=false to simulate a dropped packet: the call is left pending and
// resolves only once its hard deadline fires.
type Responder func(req rpc.Message) (resp rpc.Message, ok bool)

// Config sizes the deadlines and capacity this server simulates.
type Config struct {
	// MaxConcurrent bounds how many calls this server processes at once,
	// modeling the "global RPC concurrency" budget shared by every task
	// using this server — distinct from any one task's own admission cap.
	MaxConcurrent int

	// SoftDeadline is how long a call waits before being promoted to
	// stalled. Zero disables stall promotion.
	SoftDeadline time.Duration

	// HardDeadline is how long a call waits before resolving as a timeout.
	// Zero disables timeout (the call must be answered by the Responder).
	HardDeadline time.Duration

	// DropRate is the per-sweep probability (0..1) that the housekeeping
	// goroutine force-resolves a pending call as a timeout early, modeling
	// packet loss during soak runs. Zero disables this behavior.
	DropRate float64
}

// Options carries the server's optional collaborators.
type Options struct {
	Log       logger.Logger
	Responder Responder
}

type pendingCall struct {
	softTimer *time.Timer
	hardTimer *time.Timer
}

// Server implements rpc.Server and rtable.RoutingTable over an in-memory
// model of the network: DoCall schedules soft/hard deadline timers and, if
// a Responder is configured, synthesizes a response.
type Server struct {
	cfg       Config
	responder Responder
	log       logger.Logger

	dispatch *pool.Pool

	mu      sync.Mutex
	pending map[*rpc.Call]*pendingCall

	declogMu  sync.Mutex
	declogCbs []func()

	observedMu sync.Mutex
	observed   map[kad.Key]rtable.Entry
}

// New returns a Server ready to accept calls. A zero Config.MaxConcurrent
// defaults to 64.
func New(cfg Config, opts Options) *Server {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard
	}
	responder := opts.Responder
	if responder == nil {
		responder = func(rpc.Message) (rpc.Message, bool) { return rpc.Message{}, false }
	}
	return &Server{
		cfg:       cfg,
		responder: responder,
		log:       log,
		dispatch:  pool.New(cfg.MaxConcurrent),
		pending:   make(map[*rpc.Call]*pendingCall),
		observed:  make(map[kad.Key]rtable.Entry),
	}
}

// scheduler is a trivial rpc.Scheduler that submits work on its own
// goroutine, matching the "fire and forget, never holding a task lock
// across submission" contract the engine relies on.
type scheduler struct{}

func (scheduler) Execute(fn func()) { go fn() }

// Scheduler implements rpc.Server.
func (s *Server) Scheduler() rpc.Scheduler { return scheduler{} }

// DoCall implements rpc.Server. It blocks the calling goroutine (which is
// always one dispatched via Scheduler.Execute, never a task's own
// goroutine) until the server's own concurrency budget admits the call,
// then arms the deadline timers and asks the Responder for an answer.
func (s *Server) DoCall(call *rpc.Call) {
	s.dispatch.Spawn(func() {
		s.process(call)
	})
}

func (s *Server) process(call *rpc.Call) {
	pc := &pendingCall{}

	if s.cfg.SoftDeadline > 0 {
		pc.softTimer = time.AfterFunc(s.cfg.SoftDeadline, func() { s.stall(call) })
	}
	if s.cfg.HardDeadline > 0 {
		pc.hardTimer = time.AfterFunc(s.cfg.HardDeadline, func() { s.timeout(call) })
	}

	s.mu.Lock()
	s.pending[call] = pc
	s.mu.Unlock()

	resp, ok := s.responder(call.Request)
	if !ok {
		return // left pending; the hard deadline (if any) resolves it
	}
	s.respond(call, resp)
}

func (s *Server) stall(call *rpc.Call) {
	s.mu.Lock()
	_, stillPending := s.pending[call]
	s.mu.Unlock()
	if !stillPending {
		return
	}
	// The listener marks the call stalled itself (rpc.Call.MarkStalled), so
	// it can tell this fresh stall apart; marking it here first would make
	// the listener see the stall as redundant.
	s.log.Debug("memrpc: call to %s stalled past soft deadline", call.ExpectedID)
	call.Listener.OnStall(call)
}

func (s *Server) respond(call *rpc.Call, msg rpc.Message) {
	pc := s.resolve(call)
	if pc == nil {
		return // already resolved by a timeout
	}
	call.Listener.OnResponse(call, msg)
}

func (s *Server) timeout(call *rpc.Call) {
	pc := s.resolve(call)
	if pc == nil {
		return
	}
	s.log.Debug("memrpc: call to %s timed out", call.ExpectedID)
	call.Listener.OnTimeout(call)
}

// resolve removes call from the pending set exactly once, stopping its
// timers and firing any queued OnDeclog callbacks. The dispatch slot is not
// held until this point: it is returned as soon as process has asked the
// Responder for an answer. A second resolution attempt
// (response racing a timeout) is a no-op, returning nil.
func (s *Server) resolve(call *rpc.Call) *pendingCall {
	s.mu.Lock()
	pc, ok := s.pending[call]
	if ok {
		delete(s.pending, call)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if pc.softTimer != nil {
		pc.softTimer.Stop()
	}
	if pc.hardTimer != nil {
		pc.hardTimer.Stop()
	}
	s.notifyDeclog()
	return pc
}

// OnDeclog implements rpc.Server: cb fires the next time this server
// resolves any call (by response, timeout, or housekeeping drop).
func (s *Server) OnDeclog(cb func()) {
	s.declogMu.Lock()
	s.declogCbs = append(s.declogCbs, cb)
	s.declogMu.Unlock()
}

func (s *Server) notifyDeclog() {
	s.declogMu.Lock()
	cbs := s.declogCbs
	s.declogCbs = nil
	s.declogMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Observe implements rtable.RoutingTable: it records the entry so it can
// be inspected later via Observed, standing in for a host process's real
// bucket-maintaining routing table.
func (s *Server) Observe(e rtable.Entry) {
	s.observedMu.Lock()
	s.observed[e.ID] = e
	s.observedMu.Unlock()
}

// Observed returns every entry reported to this server via Observe.
func (s *Server) Observed() []rtable.Entry {
	s.observedMu.Lock()
	defer s.observedMu.Unlock()
	out := make([]rtable.Entry, 0, len(s.observed))
	for _, e := range s.observed {
		out = append(out, e)
	}
	return out
}

// RunHousekeeping starts a background goroutine that periodically sweeps
// pending calls, force-resolving a DropRate-controlled fraction of them as
// timeouts to simulate a lossy network during soak runs. It stops when ctx
// is done. Each sweep attempt is itself wrapped in a roko retrier so a
// momentarily-contended pending-call map is retried with backoff instead
// of blocking the housekeeping goroutine outright.
func (s *Server) RunHousekeeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := roko.NewRetrier(
					roko.WithMaxAttempts(3),
					roko.WithStrategy(roko.Constant(25*time.Millisecond)),
					roko.WithJitter(),
				).DoWithContext(ctx, func(r *roko.Retrier) error {
					return s.sweep()
				})
				if err != nil {
					s.log.Warn("memrpc: housekeeping sweep gave up: %s", err)
				}
			}
		}
	}()
}

func (s *Server) sweep() error {
	if s.cfg.DropRate <= 0 {
		return nil
	}
	if !s.mu.TryLock() {
		return errors.New("memrpc: pending calls busy, deferring sweep")
	}
	var victims []*rpc.Call
	for call, pc := range s.pending {
		if rand.Float64() >= s.cfg.DropRate {
			continue
		}
		if pc.hardTimer != nil {
			pc.hardTimer.Stop()
		}
		if pc.softTimer != nil {
			pc.softTimer.Stop()
		}
		delete(s.pending, call)
		victims = append(victims, call)
	}
	s.mu.Unlock()

	for _, call := range victims {
		s.notifyDeclog()
		s.log.Debug("memrpc: housekeeping dropped call to %s", call.ExpectedID)
		call.Listener.OnTimeout(call)
	}
	return nil
}
