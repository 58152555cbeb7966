package visited

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/rtable"
)

func entry(id string, addr string) rtable.Entry {
	return rtable.Entry{
		ID:   kad.MustParseKey(id),
		Addr: netip.MustParseAddrPort(addr),
	}
}

func TestMarkAndHas(t *testing.T) {
	s := New()
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")

	assert.False(t, s.Has(e1))
	s.Mark(e1)
	assert.True(t, s.Has(e1))
	assert.True(t, s.HasID(e1.ID))
	assert.True(t, s.HasIP(e1.Addr))
}

// TestIPDedupBlocksSameAddressDifferentID is scenario S6: a new contact
// sharing an already-visited IP must be rejected even with a fresh ID.
func TestIPDedupBlocksSameAddressDifferentID(t *testing.T) {
	s := New()
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	e2 := entry("0000000000000000000000000000000000000002", "10.0.0.1:6881")

	s.Mark(e1)
	assert.True(t, s.Has(e2), "same IP as a visited entry must count as visited")
	assert.False(t, s.HasID(e2.ID), "e2's own ID was never marked")
}

func TestIDDedupBlocksSameIDDifferentAddress(t *testing.T) {
	s := New()
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	e2 := entry("0000000000000000000000000000000000000001", "10.0.0.2:6881")

	s.Mark(e1)
	assert.True(t, s.Has(e2))
}
