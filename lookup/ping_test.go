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

func TestPingAliveOnResponse(t *testing.T) {
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	server := &fakeServer{act: map[string]behavior{
		e1.ID.String(): func(call *rpc.Call) {
			call.Listener.OnResponse(call, rpc.Message{})
		},
	}}

	policy := lookup.NewPing()
	tk, err := task.New(1, kad.Zero, "ping", server, rtable.Discard, policy, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	tk.AddToTodo(e1)

	tk.Start()

	assert.True(t, tk.IsFinished())
	assert.True(t, policy.Alive())
	assert.EqualValues(t, 1, tk.Sent())
}

func TestPingDeadOnTimeout(t *testing.T) {
	e1 := entry("0000000000000000000000000000000000000001", "10.0.0.1:6881")
	server := &fakeServer{act: map[string]behavior{
		e1.ID.String(): func(call *rpc.Call) {
			call.Listener.OnTimeout(call)
		},
	}}

	policy := lookup.NewPing()
	tk, err := task.New(1, kad.Zero, "ping", server, rtable.Discard, policy, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	tk.AddToTodo(e1)

	tk.Start()

	assert.True(t, tk.IsFinished())
	assert.False(t, policy.Alive())
	assert.EqualValues(t, 1, tk.Failed())
}
