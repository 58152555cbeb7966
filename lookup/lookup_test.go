package lookup_test

import (
	"net/netip"
	"sync"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
)

type inlineScheduler struct{}

func (inlineScheduler) Execute(fn func()) { fn() }

// behavior decides what a fakeServer does with a freshly submitted call.
type behavior func(call *rpc.Call)

// fakeServer is a minimal rpc.Server double shared by the lookup policy
// tests, mirroring task package's own test double.
type fakeServer struct {
	mu  sync.Mutex
	act map[string]behavior // keyed by expected node id, falls back to "" for a default

	calls []*rpc.Call
}

func (s *fakeServer) DoCall(call *rpc.Call) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	act := s.act[call.ExpectedID.String()]
	if act == nil {
		act = s.act[""]
	}
	s.mu.Unlock()
	if act != nil {
		act(call)
	}
}

func (s *fakeServer) OnDeclog(cb func()) {}

func (s *fakeServer) Scheduler() rpc.Scheduler { return inlineScheduler{} }

func key(hex string) kad.Key { return kad.MustParseKey(hex) }

func entry(id, addr string) rtable.Entry {
	return rtable.Entry{ID: key(id), Addr: netip.MustParseAddrPort(addr)}
}
