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

func TestGetPeersFinishesOnceMaxPeersReached(t *testing.T) {
	target := kad.Zero
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")

	server := &fakeServer{act: map[string]behavior{
		e1.ID.String(): func(call *rpc.Call) {
			call.Listener.OnResponse(call, rpc.Message{
				Peers: []string{"1.2.3.4:7000", "5.6.7.8:7001"},
				Token: "tok-e1",
			})
		},
	}}

	policy := lookup.NewGetPeers(target, 8, 3, 2)
	tk, err := task.New(1, target, "get_peers", server, rtable.Discard, policy, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	tk.AddToTodo(e1)

	tk.Start()

	assert.True(t, tk.IsFinished(), "collecting MaxPeers results finishes the lookup on its own")
	assert.ElementsMatch(t, []string{"1.2.3.4:7000", "5.6.7.8:7001"}, policy.Peers())

	tokens := policy.Tokens()
	assert.Equal(t, "tok-e1", tokens[e1.ID])
}

func TestGetPeersFallsBackToNodeConvergenceWithoutPeers(t *testing.T) {
	target := kad.Zero
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	e2 := entry("00000000000000000000000000000000000000ff", "10.0.0.2:6881")

	server := &fakeServer{act: map[string]behavior{
		e1.ID.String(): func(call *rpc.Call) {
			call.Listener.OnResponse(call, rpc.Message{}) // no peers, no further contacts
		},
	}}

	policy := lookup.NewGetPeers(target, 1, 3, 5)
	tk, err := task.New(1, target, "get_peers", server, rtable.Discard, policy, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	tk.AddToTodo(e1)
	tk.AddToTodo(e2)

	tk.Start()

	assert.True(t, tk.IsFinished(), "node convergence still applies when MaxPeers is never reached")
	assert.Empty(t, policy.Peers())
}
