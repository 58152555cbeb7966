// Package task implements the Task state machine (spec.md §3, §4.5): the
// core lifecycle that drives a flood of concurrent RPC probes toward a
// target key, honors per-call flow control, admits candidates discovered
// from responses, and terminates on a well-defined completion predicate.
package task

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadcore/dhtengine/candidate"
	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/logger"
	"github.com/kadcore/dhtengine/metrics"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/visited"
)

// Policy supplies the four hooks a concrete lookup kind contributes to an
// otherwise-generic Task (spec.md §4.6, §9's tagged-variant guidance):
// which candidates to probe next, how to fold a response into state, how to
// react to a timeout, and when the lookup has converged.
type Policy interface {
	// Update is called whenever the task has spare concurrency budget. A
	// standard implementation drains todo into in-flight probes while
	// CanDoRequest holds, per spec.md §4.6.
	Update(t *Task)

	// CallFinished parses a successful response. It is never invoked once
	// the task has finished.
	CallFinished(t *Task, call *rpc.Call, msg rpc.Message)

	// CallTimeout reacts to a call resolving as a timeout. It is never
	// invoked once the task has finished.
	CallTimeout(t *Task, call *rpc.Call)

	// IsDone reports whether the task's completion predicate holds.
	IsDone(t *Task) bool
}

// Listener is notified exactly once when a Task finishes (spec.md §4.5,
// §9's "add_listener after termination" note).
type Listener interface {
	Finished(t *Task)
}

// Task is the per-lookup state machine. Exported methods are safe for
// concurrent use: listener callbacks arrive from the RpcServer's own
// goroutines and may race with ticks driven by Start or by other listener
// callbacks (spec.md §5).
type Task struct {
	id     uint64
	target kad.Key
	info   string

	server  rpc.Server
	rtable  rtable.RoutingTable
	policy  Policy
	maxConc int64

	candidates *candidate.Set
	visitedSet *visited.Set

	log       logger.Logger
	rec       *metrics.TaskRecorder
	setStatus func(string)
	doneStat  func()

	started  atomic.Bool
	finished atomic.Bool

	startTime       atomic.Int64
	firstResultTime atomic.Int64
	finishTime      atomic.Int64

	sent   atomic.Int64
	recv   atomic.Int64
	failed atomic.Int64

	outstandingTotal  atomic.Int64
	outstandingActive atomic.Int64

	listenersMu sync.Mutex
	listeners   []Listener
}

// Options carries the optional ambient collaborators a Task reports
// through (logging, metrics, status). All fields are optional; a zero
// Options yields a Task that is silent and unmonitored but fully
// functional.
type Options struct {
	Log       logger.Logger
	Rec       *metrics.TaskRecorder
	SetStatus func(string)
	Done      func()
}

// New constructs a queued, not-yet-started Task. server must not be nil —
// per spec.md §7, invalid construction fails immediately and the task is
// never observable in any state.
func New(id uint64, target kad.Key, info string, server rpc.Server, rt rtable.RoutingTable, policy Policy, maxConcurrentRequests int, visited *visited.Set, opts Options) (*Task, error) {
	if server == nil {
		return nil, fmt.Errorf("task: nil RpcServer")
	}
	if rt == nil {
		rt = rtable.Discard
	}
	if policy == nil {
		return nil, fmt.Errorf("task: nil Policy")
	}
	if maxConcurrentRequests <= 0 {
		return nil, fmt.Errorf("task: maxConcurrentRequests must be positive, got %d", maxConcurrentRequests)
	}

	log := opts.Log
	if log == nil {
		log = logger.Discard
	}
	setStatus := opts.SetStatus
	if setStatus == nil {
		setStatus = func(string) {}
	}
	done := opts.Done
	if done == nil {
		done = func() {}
	}

	t := &Task{
		id:         id,
		target:     target,
		info:       info,
		server:     server,
		rtable:     rt,
		policy:     policy,
		maxConc:    int64(maxConcurrentRequests),
		candidates: candidate.New(target, visited),
		visitedSet: visited,
		log:        log.WithFields(logger.StringField("task_id", fmt.Sprintf("%d", id))),
		rec:        opts.Rec,
		setStatus:  setStatus,
		doneStat:   done,
	}
	return t, nil
}

// ID returns the monotonically-assigned task identifier used by
// TaskManager for FIFO ordering.
func (t *Task) ID() uint64 { return t.id }

// Target returns the 160-bit key this task is converging on.
func (t *Task) Target() kad.Key { return t.target }

// Info returns the human-readable description supplied at construction.
func (t *Task) Info() string { return t.info }

// Candidates exposes the task's CandidateSet to its Policy.
func (t *Task) Candidates() *candidate.Set { return t.candidates }

// Visited exposes the task's VisitedSet to its Policy.
func (t *Task) Visited() *visited.Set { return t.visitedSet }

// RoutingTable exposes the routing table to observe responding contacts.
func (t *Task) RoutingTable() rtable.RoutingTable { return t.rtable }

// Logger exposes the task-scoped logger to its Policy.
func (t *Task) Logger() logger.Logger { return t.log }

// StartTime returns the Unix-nanosecond timestamp start() stamped, or 0
// if the task has not started.
func (t *Task) StartTime() int64 { return t.startTime.Load() }

// FirstResultTime returns the Unix-nanosecond timestamp of the first
// useful response, or 0 if none has arrived yet.
func (t *Task) FirstResultTime() int64 { return t.firstResultTime.Load() }

// FinishTime returns 0 (not finished), -1 (killed), or a Unix-nanosecond
// timestamp greater than StartTime (naturally completed).
func (t *Task) FinishTime() int64 { return t.finishTime.Load() }

// Sent, Recv, and Failed return the monotonic RPC counters (spec.md §3).
func (t *Task) Sent() int64   { return t.sent.Load() }
func (t *Task) Recv() int64   { return t.recv.Load() }
func (t *Task) Failed() int64 { return t.failed.Load() }

// OutstandingTotal returns |in_flight ∪ stalled|.
func (t *Task) OutstandingTotal() int64 { return t.outstandingTotal.Load() }

// OutstandingActive returns |in_flight| (excluding stalled), the quantity
// gated against MAX_CONCURRENT_REQUESTS.
func (t *Task) OutstandingActive() int64 { return t.outstandingActive.Load() }

// TodoCount returns the number of unprobed candidates remaining.
func (t *Task) TodoCount() int { return t.candidates.TodoCount() }

// IsFinished reports whether the task has reached its terminal state.
func (t *Task) IsFinished() bool { return t.finished.Load() }

// IsQueued reports whether the task has not yet been started.
func (t *Task) IsQueued() bool { return !t.started.Load() }

// MarkFirstResult stamps first_result_time the first time a Policy
// observes a useful response (spec.md §4.6: "Stamp first_result_time on
// the first useful response"). Subsequent calls are no-ops.
func (t *Task) MarkFirstResult() {
	t.firstResultTime.CompareAndSwap(0, time.Now().UnixNano())
}

// CanDoRequest is the per-task admission predicate (spec.md §4.5):
// outstanding_excluding_stalled < MAX_CONCURRENT_REQUESTS.
func (t *Task) CanDoRequest() bool {
	return t.outstandingActive.Load() < t.maxConc
}

// AddToTodo admits e into the candidate set, subject to VisitedSet dedup.
func (t *Task) AddToTodo(e rtable.Entry) bool {
	return t.candidates.AddCandidate(e)
}

// AddDHTNode admits a bare address with no confirmed ID yet, as used to
// seed a lookup from a bootstrap contact whose ID is not yet known. Every
// such entry shares the kad.Zero placeholder ID, so todo's duplicate check
// must key on (ID, Addr) rather than ID alone — otherwise a second
// AddDHTNode call with a different address would be rejected as a
// duplicate of the first. The placeholder is not replaced once the contact
// answers: the policies in package lookup record a responder under the ID
// its probe expected, which for such an entry is kad.Zero.
func (t *Task) AddDHTNode(addr netip.AddrPort) bool {
	return t.AddToTodo(rtable.Entry{ID: kad.Zero, Addr: addr, FirstSeen: time.Now()})
}

// Start transitions queued → running exactly once, stamping start_time and
// running the first scheduling tick. Subsequent calls are no-ops.
func (t *Task) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	t.startTime.Store(time.Now().UnixNano())
	t.setStatus(fmt.Sprintf("starting lookup for %s", t.target))
	t.runTick()
}

// Kill transitions any state to finished, pinning finish_time to the -1
// sentinel before finished() runs, so the natural-completion timestamp is
// skipped (spec.md §4.5, §9). Subsequent calls are no-ops.
func (t *Task) Kill() {
	t.finishTime.CompareAndSwap(0, -1)
	t.finish()
}

// AddListener registers l to be notified when the task finishes. A
// listener added after termination is invoked synchronously at
// registration (spec.md §9).
func (t *Task) AddListener(l Listener) {
	t.listenersMu.Lock()
	if t.finished.Load() {
		t.listenersMu.Unlock()
		l.Finished(t)
		return
	}
	t.listeners = append(t.listeners, l)
	t.listenersMu.Unlock()
}

// RemoveListener unregisters l, if present.
func (t *Task) RemoveListener(l Listener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return
		}
	}
}

// RPCCall issues a probe for expectedID (spec.md §4.5 "Issuing a probe").
// If the task is over its concurrency budget, it registers a one-shot
// on_declog wake-up and returns false without submitting anything.
func (t *Task) RPCCall(req rpc.Message, expectedID kad.Key, modifier rpc.Modifier) bool {
	if !t.CanDoRequest() {
		t.server.OnDeclog(t.runTick)
		return false
	}

	call := &rpc.Call{Request: req, ExpectedID: expectedID, Listener: t}
	if modifier != nil {
		modifier(call)
	}

	t.candidates.MarkInFlight(expectedID, call)
	t.outstandingTotal.Add(1)
	t.outstandingActive.Add(1)
	t.sent.Add(1)
	t.reportGauges()
	if t.rec != nil {
		t.rec.IncSent()
	}

	t.server.Scheduler().Execute(func() {
		t.server.DoCall(call)
	})
	return true
}

// OnResponse implements rpc.Listener (spec.md §4.5's on_response row).
func (t *Task) OnResponse(call *rpc.Call, msg rpc.Message) {
	if !t.finished.Load() {
		t.invokePolicy(func() { t.policy.CallFinished(t, call, msg) })
	}

	t.candidates.Release(call.ExpectedID)
	wasStalled := call.Stalled()
	t.outstandingTotal.Add(-1)
	if !wasStalled {
		t.outstandingActive.Add(-1)
	}
	t.recv.Add(1)
	t.reportGauges()
	if t.rec != nil {
		t.rec.IncRecv()
	}

	t.runTick()
}

// OnStall implements rpc.Listener (spec.md §4.5's on_stall row).
func (t *Task) OnStall(call *rpc.Call) {
	if call.MarkStalled() {
		t.candidates.DemoteStalled(call.ExpectedID)
		t.outstandingActive.Add(-1)
		t.reportGauges()
		t.log.Debug("call to %s stalled", call.ExpectedID)
	}
	t.runTick()
}

// OnTimeout implements rpc.Listener (spec.md §4.5's on_timeout row).
func (t *Task) OnTimeout(call *rpc.Call) {
	t.candidates.Release(call.ExpectedID)
	wasStalled := call.Stalled()
	t.outstandingTotal.Add(-1)
	if !wasStalled {
		t.outstandingActive.Add(-1)
	}
	t.failed.Add(1)
	t.reportGauges()
	if t.rec != nil {
		t.rec.IncFailed()
	}
	t.log.Debug("call to %s timed out", call.ExpectedID)

	if !t.finished.Load() {
		t.invokePolicy(func() { t.policy.CallTimeout(t, call) })
	}

	t.runTick()
}

// runTick is the scheduling tick (spec.md §4.5 "Tick"): check completion,
// let the policy emit more probes if there is budget, then re-check
// completion in case update() drained todo without issuing anything.
func (t *Task) runTick() {
	if t.isDone() {
		t.finish()
		return
	}
	if t.CanDoRequest() && !t.finished.Load() {
		t.invokePolicy(func() { t.policy.Update(t) })
	}
	if t.isDone() {
		t.finish()
	}
}

func (t *Task) isDone() bool {
	return t.policy.IsDone(t)
}

// invokePolicy runs a Policy hook with panic recovery (spec.md §7:
// "Subclass callback throws: logged at error level; the tick resumes").
func (t *Task) invokePolicy(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("policy hook panicked: %v", r)
		}
	}()
	fn()
}

// finish is the idempotent finished() routine (spec.md §4.5, §9). The
// `finishTime != -1` guard is preserved verbatim per the source-observed
// ambiguity noted in spec.md §9: the kill path always sets the sentinel
// before calling finish, so the guard is redundant on that path, but is
// kept exactly as specified in case another path is ever made to pre-set
// it.
func (t *Task) finish() {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	if t.finishTime.Load() != -1 {
		t.finishTime.Store(time.Now().UnixNano())
	}
	t.setStatus(fmt.Sprintf("finished lookup for %s", t.target))
	t.doneStat()
	if t.rec != nil {
		t.rec.Forget()
	}
	t.notifyListeners()
}

func (t *Task) notifyListeners() {
	t.listenersMu.Lock()
	ls := make([]Listener, len(t.listeners))
	copy(ls, t.listeners)
	t.listenersMu.Unlock()

	for _, l := range ls {
		l.Finished(t)
	}
}

func (t *Task) reportGauges() {
	if t.rec == nil {
		return
	}
	t.rec.SetOutstandingTotal(t.outstandingTotal.Load())
	t.rec.SetOutstandingActive(t.outstandingActive.Load())
	t.rec.SetTodoCount(int64(t.candidates.TodoCount()))
}
