// Package lookup provides the concrete iterative lookup policies
// (spec.md §4.6, §9's tagged-variant guidance): FindNode, GetPeers,
// Announce, and Ping. Each is a small struct implementing task.Policy; the
// Task state machine in package task stays completely agnostic of which
// kind of probe it is driving.
package lookup

import (
	"sync"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
)

// respondedTracker keeps the K closest nodes that have responded so far,
// in distance order, so policies can judge spec.md §4.6's is_done
// predicate ("every entry in todo is farther from target than the K-th
// closest entry that has already responded"). It is its own monitor since
// CallFinished may be invoked concurrently by the RpcServer for different
// in-flight calls (spec.md §9).
type respondedTracker struct {
	target kad.Key
	k      int

	mu        sync.Mutex
	responded []rtable.Entry
}

func newRespondedTracker(target kad.Key, k int) *respondedTracker {
	return &respondedTracker{target: target, k: k}
}

// observe records e as having responded, keeping only the K closest.
func (r *respondedTracker) observe(e rtable.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.responded {
		if existing.ID.Equal(e.ID) {
			return
		}
	}
	r.responded = append(r.responded, e)
	sortByDistance(r.target, r.responded)
	if len(r.responded) > r.k {
		r.responded = r.responded[:r.k]
	}
}

// kth returns the K-th closest responded entry's ID, and false if fewer
// than K nodes have responded yet.
func (r *respondedTracker) kth() (kad.Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responded) < r.k {
		return kad.Key{}, false
	}
	return r.responded[len(r.responded)-1].ID, true
}

// snapshot returns a copy of the entries observed so far, closest first.
func (r *respondedTracker) snapshot() []rtable.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rtable.Entry, len(r.responded))
	copy(out, r.responded)
	return out
}

func sortByDistance(target kad.Key, entries []rtable.Entry) {
	less := kad.DistanceOrder(target)
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j].ID, entries[j-1].ID); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// isConverged implements spec.md §4.6's is_done predicate in terms of a
// respondedTracker: no outstanding requests, and either todo is empty or
// every remaining candidate is farther than the K-th closest responder.
func isConverged(t *task.Task, r *respondedTracker) bool {
	if t.OutstandingTotal() != 0 {
		return false
	}
	if t.TodoCount() == 0 {
		return true
	}
	kth, ok := r.kth()
	if !ok {
		return false
	}
	return t.Candidates().TodoFartherThan(kth)
}

// drainTodo implements the standard Kademlia update() loop (spec.md
// §4.6): while there is concurrency budget, pop the closest unvisited
// candidate and hand it to issue. It stops early, pushing the popped
// candidate back unprobed, once the closest remaining candidate is no
// closer than the K-th responder seen so far (the "strictly closer than
// the K-th closest responded node" exploration bound) or once alpha
// probes have been issued this tick (the α parallelism margin).
func drainTodo(t *task.Task, r *respondedTracker, alpha int, issue func(e rtable.Entry)) {
	issued := 0
	for issued < alpha && t.CanDoRequest() {
		e, ok := t.Candidates().PopClosest()
		if !ok {
			return
		}
		if kth, hasKth := r.kth(); hasKth && !kad.Less(t.Target(), e.ID, kth) {
			t.Candidates().AddCandidate(e)
			return
		}
		t.Visited().Mark(e)
		issue(e)
		issued++
	}
}

