package manager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcore/dhtengine/kad"
	"github.com/kadcore/dhtengine/manager"
	"github.com/kadcore/dhtengine/rpc"
	"github.com/kadcore/dhtengine/rtable"
	"github.com/kadcore/dhtengine/task"
	"github.com/kadcore/dhtengine/visited"
)

type inlineScheduler struct{}

func (inlineScheduler) Execute(fn func()) { fn() }

// fakeServer never answers anything; tests drive completion via Kill.
type fakeServer struct{}

func (fakeServer) DoCall(call *rpc.Call)    {}
func (fakeServer) OnDeclog(cb func())       {}
func (fakeServer) Scheduler() rpc.Scheduler { return inlineScheduler{} }

// neverDonePolicy only finishes when killed.
type neverDonePolicy struct{}

func (neverDonePolicy) Update(t *task.Task)                                   {}
func (neverDonePolicy) CallFinished(t *task.Task, c *rpc.Call, m rpc.Message) {}
func (neverDonePolicy) CallTimeout(t *task.Task, c *rpc.Call)                 {}
func (neverDonePolicy) IsDone(t *task.Task) bool                              { return false }

func newTask(t *testing.T, id uint64) *task.Task {
	t.Helper()
	tk, err := task.New(id, kad.Zero, "manager-test", fakeServer{}, rtable.Discard, neverDonePolicy{}, 8, visited.New(), task.Options{})
	require.NoError(t, err)
	return tk
}

func TestEnqueueStartsImmediatelyWhenSlotFree(t *testing.T) {
	m := manager.New(2, manager.Options{})

	tk1 := newTask(t, m.NextTaskID())
	tk2 := newTask(t, m.NextTaskID())

	m.Enqueue(tk1)
	m.Enqueue(tk2)

	assert.False(t, tk1.IsQueued())
	assert.False(t, tk2.IsQueued())
	assert.Equal(t, 0, m.QueueLen())
	assert.Equal(t, 2, m.RunningCount())
}

func TestEnqueueQueuesPastCapAndPromotesFIFOOnCompletion(t *testing.T) {
	m := manager.New(1, manager.Options{})

	tk1 := newTask(t, m.NextTaskID())
	tk2 := newTask(t, m.NextTaskID())
	tk3 := newTask(t, m.NextTaskID())

	m.Enqueue(tk1)
	m.Enqueue(tk2)
	m.Enqueue(tk3)

	assert.False(t, tk1.IsQueued(), "first task starts immediately")
	assert.True(t, tk2.IsQueued())
	assert.True(t, tk3.IsQueued())
	assert.Equal(t, 2, m.QueueLen())
	assert.Equal(t, 1, m.RunningCount())

	tk1.Kill()

	assert.False(t, tk2.IsQueued(), "tk2 promoted first, FIFO order")
	assert.True(t, tk3.IsQueued())
	assert.Equal(t, 1, m.QueueLen())
	assert.Equal(t, 1, m.RunningCount())

	tk2.Kill()

	assert.False(t, tk3.IsQueued())
	assert.Equal(t, 0, m.QueueLen())
	assert.Equal(t, 1, m.RunningCount())
}

func TestFinishedWithEmptyQueueReturnsSlot(t *testing.T) {
	m := manager.New(1, manager.Options{})
	tk1 := newTask(t, m.NextTaskID())
	m.Enqueue(tk1)
	require.Equal(t, 1, m.RunningCount())

	tk1.Kill()

	assert.Equal(t, 0, m.RunningCount())

	tk2 := newTask(t, m.NextTaskID())
	m.Enqueue(tk2)
	assert.False(t, tk2.IsQueued(), "the returned slot is available for a fresh task")
}

func TestNextTaskIDIsMonotonic(t *testing.T) {
	m := manager.New(4, manager.Options{})
	a := m.NextTaskID()
	b := m.NextTaskID()
	assert.Less(t, a, b)
}
