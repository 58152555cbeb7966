// Package visited implements the per-task VisitedSet (spec.md §3, §4.4): a
// dedup index keyed by both node ID and IP address, so that neither a
// single adversarial IP behind many IDs nor a single ID behind many IPs can
// force a lookup to revisit ground it has already covered.
package visited

import (
	"net/netip"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rtable"
)

// Set is the visited-IDs/visited-IPs pair for one task's lifetime. It only
// grows; there is no unmark operation, matching spec.md's "monotonically
// grows for the task's lifetime."
type Set struct {
	ids *xsync.MapOf[struct{}]
	ips *xsync.MapOf[struct{}]
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		ids: xsync.NewMapOf[struct{}](),
		ips: xsync.NewMapOf[struct{}](),
	}
}

// Mark inserts both e.ID and e.Addr's IP into the set.
func (s *Set) Mark(e rtable.Entry) {
	s.ids.Store(e.ID.String(), struct{}{})
	s.ips.Store(e.Addr.Addr().String(), struct{}{})
}

// Has reports whether e's ID or e's IP has been seen before — either is
// enough to reject the entry (spec.md §4.3, §4.4).
func (s *Set) Has(e rtable.Entry) bool {
	return s.HasID(e.ID) || s.HasIP(e.Addr)
}

// HasID reports whether id alone has been marked visited.
func (s *Set) HasID(id kad.Key) bool {
	_, ok := s.ids.Load(id.String())
	return ok
}

// HasIP reports whether addr has been marked visited.
func (s *Set) HasIP(addr netip.AddrPort) bool {
	_, ok := s.ips.Load(addr.Addr().String())
	return ok
}
