// Package candidate implements the per-task CandidateSet (spec.md §3,
// §4.3): three disjoint partitions — todo, in-flight, and stalled — over
// the routing-table entries a task has discovered while converging on a
// target key.
package candidate

import (
	"container/heap"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/visited"
)

// Set holds one task's todo/in-flight/stalled partitions. todo needs a
// distance-ordered pop-minimum that no pack dependency supplies, so it is a
// container/heap guarded by its own mutex (spec.md §5 explicitly allows an
// "intrinsic lock for bulk additions"); in_flight and stalled only need
// concurrent membership and move operations, which xsync.MapOf gives
// lock-free (same idiom as env.Environment, see DESIGN.md).
type Set struct {
	target  kad.Key
	visited *visited.Set

	todoMu sync.Mutex
	todo   *todoHeap

	inFlight *xsync.MapOf[*rpc.Call]
	stalled  *xsync.MapOf[*rpc.Call]
}

// New returns an empty Set converging on target, using v to reject
// already-visited entries at admission time.
func New(target kad.Key, v *visited.Set) *Set {
	return &Set{
		target:   target,
		visited:  v,
		todo:     &todoHeap{target: target},
		inFlight: xsync.NewMapOf[*rpc.Call](),
		stalled:  xsync.NewMapOf[*rpc.Call](),
	}
}

// AddCandidate admits e into todo unless its ID or IP has already been
// visited, or it is already present in todo. Reports whether it was added.
func (s *Set) AddCandidate(e rtable.Entry) bool {
	if s.visited.Has(e) {
		return false
	}

	s.todoMu.Lock()
	defer s.todoMu.Unlock()

	for _, existing := range s.todo.entries {
		if existing.ID.Equal(e.ID) && existing.Addr == e.Addr {
			return false // duplicate insertion is a no-op
		}
	}
	heap.Push(s.todo, e)
	return true
}

// PopClosest removes and returns the entry in todo closest to target, or
// false if todo is empty.
func (s *Set) PopClosest() (rtable.Entry, bool) {
	s.todoMu.Lock()
	defer s.todoMu.Unlock()

	if s.todo.Len() == 0 {
		return rtable.Entry{}, false
	}
	return heap.Pop(s.todo).(rtable.Entry), true
}

// TodoCount returns the number of unprobed candidates remaining.
func (s *Set) TodoCount() int {
	s.todoMu.Lock()
	defer s.todoMu.Unlock()
	return s.todo.Len()
}

// TodoFartherThan reports whether every entry remaining in todo is farther
// from target than kth (spec.md §4.6 is_done predicate).
func (s *Set) TodoFartherThan(kth kad.Key) bool {
	s.todoMu.Lock()
	defer s.todoMu.Unlock()
	for _, e := range s.todo.entries {
		if !kad.Less(s.target, kth, e.ID) {
			return false
		}
	}
	return true
}

// MarkInFlight records expectedID as having an outstanding probe.
func (s *Set) MarkInFlight(expectedID kad.Key, call *rpc.Call) {
	s.inFlight.Store(expectedID.String(), call)
}

// DemoteStalled moves expectedID from in-flight to stalled, returning the
// call and true if it was present in in-flight.
func (s *Set) DemoteStalled(expectedID kad.Key) (*rpc.Call, bool) {
	key := expectedID.String()
	call, ok := s.inFlight.LoadAndDelete(key)
	if !ok {
		return nil, false
	}
	s.stalled.Store(key, call)
	return call, true
}

// Release removes expectedID from both in-flight and stalled (response or
// timeout terminal event), returning the call and true if it was present
// in either partition.
func (s *Set) Release(expectedID kad.Key) (*rpc.Call, bool) {
	key := expectedID.String()
	if call, ok := s.inFlight.LoadAndDelete(key); ok {
		return call, true
	}
	if call, ok := s.stalled.LoadAndDelete(key); ok {
		return call, true
	}
	return nil, false
}

// OutstandingTotal returns |in_flight ∪ stalled|.
func (s *Set) OutstandingTotal() int {
	return s.inFlight.Size() + s.stalled.Size()
}

// OutstandingActive returns |in_flight| (excluding stalled).
func (s *Set) OutstandingActive() int {
	return s.inFlight.Size()
}

// todoHeap implements container/heap.Interface, ordering rtable.Entry
// values by kad.DistanceOrder(target).
type todoHeap struct {
	target  kad.Key
	entries []rtable.Entry
}

func (h *todoHeap) Len() int { return len(h.entries) }

func (h *todoHeap) Less(i, j int) bool {
	return kad.Less(h.target, h.entries[i].ID, h.entries[j].ID)
}

func (h *todoHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *todoHeap) Push(x any) {
	h.entries = append(h.entries, x.(rtable.Entry))
}

func (h *todoHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}
