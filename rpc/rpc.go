// Package rpc describes the capability the task engine consumes from an RPC
// server (spec.md §4.2, §6): correlating an outbound request with its
// expected responder, and delivering exactly one terminal event per call.
// The wire codec, socket I/O, and retransmission policy live entirely on
// the Server side — this package only has the shapes the engine needs to
// talk to it.
package rpc

import (
	"net/netip"
	"sync/atomic"

	"github.com/kadcore/dhtengine/kad"
)

// Message is the opaque payload of a request or response. The task engine
// never inspects it directly; concrete lookup policies (package lookup)
// know how to read the fields relevant to their own probe kind. Keeping it
// a plain struct (rather than `any`) avoids type assertions at every call
// site while still letting the wire codec (out of scope here) fill in only
// the fields a given message kind uses.
type Message struct {
	// Method names the query or response kind, e.g. "find_node", "get_peers",
	// "announce_peer", "ping". Left blank on a synthetic/error response.
	Method string

	// Contacts are node contacts returned by a find_node/get_peers response.
	Contacts []Contact

	// Peers are values returned by a successful get_peers response that
	// found peers directly (as opposed to closer nodes).
	Peers []string

	// Token is the opaque announce token a get_peers response hands back,
	// later replayed in an announce_peer request to the same node.
	Token string

	// Addr is the destination address of an outbound request, populated by
	// the lookup policy from the candidate entry being probed. The task
	// engine never reads it; it is transport plumbing carried alongside the
	// query so a Server implementation knows where to send it. On a
	// response Message it is left zero.
	Addr netip.AddrPort
}

// Contact is the wire shape of a node contact inside a Message; lookup
// policies translate these into rtable.Entry values before admitting them
// to a CandidateSet.
type Contact struct {
	ID   kad.Key
	Addr string // host:port, left as a string since address-family parsing is a transport concern
}

// Listener receives the terminal (and optional stall) events for calls it
// issued. A Task implements Listener for the calls it owns (spec.md §3,
// "RpcCall ... listener: Task"). The server invokes exactly one of
// OnResponse/OnTimeout per call, optionally preceded by exactly one
// OnStall.
type Listener interface {
	OnResponse(call *Call, msg Message)
	OnStall(call *Call)
	OnTimeout(call *Call)
}

// Call correlates an outbound request with its expected responder and the
// listener to notify. It is created when a probe is emitted and resolved
// exactly once, by whichever of {response, timeout} the server observes
// first.
type Call struct {
	Request    Message
	ExpectedID kad.Key
	Listener   Listener

	stalled atomic.Bool
}

// Stalled reports whether the call has been promoted past its soft
// deadline. It is a monotonic, one-way flag: once set it is never cleared.
func (c *Call) Stalled() bool { return c.stalled.Load() }

// MarkStalled sets the stalled flag, returning true the first time it is
// set (so callers can tell a fresh stall from a redundant one).
func (c *Call) MarkStalled() bool { return c.stalled.CompareAndSwap(false, true) }

// Modifier mutates a Call before it is submitted, letting concrete lookup
// policies attach behavior (e.g. marking a probe low-priority) without the
// engine core knowing about policy-specific concerns (spec.md §4.5 step 2).
type Modifier func(*Call)

// Scheduler decouples listener execution context from submission, so a
// Task never calls into the server while holding its own lock (spec.md
// §4.5 step 3: "submission must not hold any task-level lock").
type Scheduler interface {
	Execute(func())
}

// Server is the RPC server capability the task engine consumes (spec.md
// §4.2, §6). Implementations own retransmit-free single-shot delivery, the
// soft deadline that promotes a call to stalled, and the hard deadline that
// resolves it as a timeout.
type Server interface {
	// DoCall submits call for asynchronous transmission. The server must
	// eventually invoke exactly one of call.Listener.OnResponse or
	// call.Listener.OnTimeout, optionally preceded by one OnStall.
	DoCall(call *Call)

	// OnDeclog registers a one-shot callback invoked the next time the
	// server frees at least one global RPC slot. Used to wake a task that
	// was previously refused a slot (spec.md §4.5 step 1).
	OnDeclog(cb func())

	// Scheduler returns an executor for fire-and-forget submission.
	Scheduler() Scheduler
}
