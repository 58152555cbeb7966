// Package manager implements the brief TaskManager component (spec.md
// §3, §4.7): a FIFO queue of queued tasks promoted into a running set
// bounded by a global concurrency cap.
package manager

import (
	"fmt"
	"slices"
	"sync"

	"github.com/kadcore/dhtengine/logger"
	"github.com/kadcore/dhtengine/task"
)

// Manager enqueues, starts, and retires tasks against a shared RpcServer,
// honoring a global cap on how many run simultaneously (spec.md §4.7).
// Tasks are promoted in the order they were assigned an ID by NextTaskID,
// giving FIFO ordering within the queue.
type Manager struct {
	log logger.Logger

	// sem is a buffered channel semaphore sized to the running-task cap,
	// adapted from pool.Pool's "fill the channel with tokens, acquire by
	// receive" shape — generalized here from bounding concurrent funcs to
	// bounding concurrent Tasks.
	sem chan struct{}

	mu     sync.Mutex
	nextID uint64
	queue  []*task.Task

	setStatus func(string)
}

// Options carries the optional ambient collaborators a Manager reports
// through.
type Options struct {
	Log       logger.Logger
	SetStatus func(string)
}

// New returns a Manager that runs at most maxConcurrentTasks tasks at
// once.
func New(maxConcurrentTasks int, opts Options) *Manager {
	sem := make(chan struct{}, maxConcurrentTasks)
	for range maxConcurrentTasks {
		sem <- struct{}{}
	}

	log := opts.Log
	if log == nil {
		log = logger.Discard
	}
	setStatus := opts.SetStatus
	if setStatus == nil {
		setStatus = func(string) {}
	}

	return &Manager{
		log:       log,
		sem:       sem,
		setStatus: setStatus,
	}
}

// NextTaskID returns the next monotonically-assigned task identifier,
// used both for external display and for this Manager's FIFO ordering.
func (m *Manager) NextTaskID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// Enqueue registers tk with the manager and either starts it immediately
// (if a slot is free) or inserts it into the queue, which is kept ordered
// by task ID. The manager adds
// itself as a listener so it learns of tk's completion and can promote
// the next queued task.
func (m *Manager) Enqueue(tk *task.Task) {
	tk.AddListener(m)

	select {
	case <-m.sem:
		m.log.Debug("starting task %d immediately", tk.ID())
		tk.Start()
	default:
		m.mu.Lock()
		i := len(m.queue)
		for i > 0 && m.queue[i-1].ID() > tk.ID() {
			i--
		}
		m.queue = slices.Insert(m.queue, i, tk)
		m.mu.Unlock()
		m.log.Debug("queued task %d, no free slot", tk.ID())
	}
	m.reportStatus()
}

// Finished implements task.Listener. On completion of any task, the
// manager promotes the next queued task by invoking Start(), or — if the
// queue is empty — returns the freed slot to the semaphore.
func (m *Manager) Finished(tk *task.Task) {
	m.mu.Lock()
	var next *task.Task
	if len(m.queue) > 0 {
		next = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if next != nil {
		m.log.Debug("task %d finished, promoting queued task %d", tk.ID(), next.ID())
		// Hand the slot tk just vacated directly to the next queued task,
		// rather than returning it to the semaphore and re-acquiring it —
		// avoids a window where a concurrent Enqueue could steal the slot
		// out from under the task that's next in FIFO order.
		next.Start()
	} else {
		m.log.Debug("task %d finished, no queued task to promote", tk.ID())
		m.sem <- struct{}{}
	}
	m.reportStatus()
}

// QueueLen returns the number of tasks waiting for a free running slot.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// RunningCount returns the number of tasks currently occupying a slot.
func (m *Manager) RunningCount() int {
	return cap(m.sem) - len(m.sem)
}

func (m *Manager) reportStatus() {
	m.setStatus(fmt.Sprintf("%d running, %d queued", m.RunningCount(), m.QueueLen()))
}
