// Package rtable defines the routing-table entry type and the RoutingTable
// capability consumed by lookup policies. The routing table implementation
// itself (K-buckets, eviction, refresh) is out of scope for the task engine
// (spec.md §1) — this package only describes the shape the engine hands to
// whatever routing table the host process owns.
package rtable

import (
	"net/netip"
	"time"

	"github.com/kadcore/dhtengine/kad"
)

// Entry is a known contact: a node ID paired with a reachable address and
// the timestamps a routing table needs to judge its freshness. Ordered
// containers compare entries using kad.DistanceOrder(target) over ID;
// dedup identity is the pair (ID, Addr.Addr()) — both must be unseen for an
// entry to be admitted into a CandidateSet (spec.md §3, §4.4).
type Entry struct {
	ID            kad.Key
	Addr          netip.AddrPort
	FirstSeen     time.Time
	LastResponded time.Time
}

// RoutingTable is the capability lookup policies use to report contacts
// that actually answered a probe, so the host's routing table can fold them
// in. It is intentionally the only method the engine needs from a routing
// table; bucket maintenance, refresh, and persistence belong to the host.
type RoutingTable interface {
	Observe(Entry)
}

// Discard is a RoutingTable that does nothing, useful for tests and
// single-shot tools (e.g. Ping) that don't maintain routing state.
var Discard RoutingTable = discardTable{}

type discardTable struct{}

func (discardTable) Observe(Entry) {}
