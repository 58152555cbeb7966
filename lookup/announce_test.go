package lookup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/lookup"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
	"github.com/kadcore/dhtengine/visited"
)

func respondWithToken(token string) behavior {
	return func(call *rpc.Call) {
		switch call.Request.Method {
		case "get_peers":
			call.Listener.OnResponse(call, rpc.Message{Token: token})
		case "announce_peer":
			call.Listener.OnResponse(call, rpc.Message{})
		}
	}
}

func TestAnnounceRunsGetPeersThenAnnouncesWithCollectedTokens(t *testing.T) {
	target := kad.Zero
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	e2 := entry("00000000000000000000000000000000000000ff", "10.0.0.2:6881")

	server := &fakeServer{act: map[string]behavior{
		e1.ID.String(): respondWithToken("tok-e1"),
		e2.ID.String(): respondWithToken("tok-e2"),
	}}

	policy := lookup.NewAnnounce(target, 2, 2)
	tk, err := task.New(1, target, "announce", server, rtable.Discard, policy, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	tk.AddToTodo(e1)
	tk.AddToTodo(e2)

	tk.Start()

	assert.True(t, tk.IsFinished())
	assert.EqualValues(t, 4, tk.Sent(), "2 get_peers probes, then 2 announce_peer probes")
	assert.EqualValues(t, 4, tk.Recv())

	server.mu.Lock()
	defer server.mu.Unlock()
	var announceCalls int
	for _, c := range server.calls {
		if c.Request.Method == "announce_peer" {
			announceCalls++
			assert.Contains(t, []string{"tok-e1", "tok-e2"}, c.Request.Token, "each announce_peer replays the token collected from that node")
		}
	}
	assert.Equal(t, 2, announceCalls)
}
