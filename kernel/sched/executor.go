package sched

import (
	"orrery/kernel/cpu"
	"orrery/kernel/sync"
	"sync/atomic"
)

// readyQueueCapacity bounds the number of pending wakeups the executor can
// buffer at once. A wakeup that arrives while the queue is full is dropped;
// this is harmless because a task can only be enqueued while it is still
// present in the task map, so a duplicate or lost wakeup for an
// already-ready task never stalls forward progress permanently as long as
// at least one of the duplicate wakes is delivered.
const readyQueueCapacity = 256

// Executor is a single-threaded, cooperative task scheduler. It owns every
// Task spawned into it and drives them to completion one poll at a time;
// it is never re-entered from an interrupt handler.
type Executor struct {
	lock   sync.Spinlock
	tasks  map[uint64]*Task
	ready  chan uint64
	nextID uint64

	shutdown uint32

	// haltFn is invoked when the ready queue is empty and the executor
	// has nothing else to do. It is a function variable so tests can run
	// the scheduling loop on the host without executing privileged
	// instructions, following the same idiom as cpuHaltFn in kfmt/panic.go.
	haltFn func()
}

// NewExecutor creates an empty executor ready to accept tasks via Spawn.
func NewExecutor() *Executor {
	return &Executor{
		tasks: make(map[uint64]*Task),
		ready: make(chan uint64, readyQueueCapacity),
		haltFn: func() {
			cpu.EnableInterrupts()
			cpu.Halt()
		},
	}
}

// Spawn registers future as a new task and marks it ready to run
// immediately. It returns the task's id.
func (e *Executor) Spawn(future Future) uint64 {
	e.lock.Acquire()
	e.nextID++
	id := e.nextID
	e.tasks[id] = &Task{id: id, future: future}
	e.lock.Release()

	e.wake(id)
	return id
}

// wake pushes id onto the ready queue. It is the Waker handed to a task's
// Future while it is being polled.
func (e *Executor) wake(id uint64) {
	select {
	case e.ready <- id:
	default:
		// Ready queue saturated; see readyQueueCapacity's doc comment.
	}
}

// Shutdown asks Run to return once the currently pending wakeups have
// drained. It is typically invoked by a task itself (e.g. a shell
// "shutdown" command) and is safe to call from any context.
func (e *Executor) Shutdown() {
	atomic.StoreUint32(&e.shutdown, 1)
}

func (e *Executor) isShutdown() bool {
	return atomic.LoadUint32(&e.shutdown) != 0
}

// TaskCount returns the number of tasks currently registered with the
// executor (running or pending).
func (e *Executor) TaskCount() int {
	e.lock.Acquire()
	defer e.lock.Release()
	return len(e.tasks)
}

// Run drives the executor until Shutdown is called: pop a ready task id,
// poll it, delete it from the map on completion, and repeat. When the ready
// queue is empty and no shutdown has been requested, Run halts the CPU to
// wait for the next interrupt rather than busy-spinning.
func (e *Executor) Run() {
	for {
		select {
		case id := <-e.ready:
			e.pollTask(id)
		default:
			if e.isShutdown() {
				return
			}
			e.haltFn()
		}
	}
}

// pollTask looks up id, polls its Future once and removes the task from the
// executor if the Future reports Ready. A missing id (already completed, or
// a stale duplicate wakeup) is silently ignored.
func (e *Executor) pollTask(id uint64) {
	e.lock.Acquire()
	task, ok := e.tasks[id]
	e.lock.Release()
	if !ok {
		return
	}

	waker := func() { e.wake(id) }
	if task.future.Poll(waker) == Ready {
		e.lock.Acquire()
		delete(e.tasks, id)
		e.lock.Release()
	}
}
