// Package sched implements the kernel's cooperative, single-threaded task
// executor. There is no preemption and no goroutines: a Task only suspends
// at an explicit point inside its Future, exactly like the single CPU this
// kernel targets can only ever be doing one thing at a time. Interrupts
// (the APIC timer, the keyboard IRQ) feed the executor through lock-free
// primitives (ScancodeStream, TimerStream) rather than by re-entering it.
package sched

// PollState is returned by a Future each time the executor drives it
// forward by one step.
type PollState uint8

const (
	// Pending indicates the Future is not done; it must have already
	// arranged for wake to be called once it can make progress.
	Pending PollState = iota

	// Ready indicates the Future has completed. The owning Task is
	// removed from the executor and never polled again.
	Ready
)

// Waker lets a pending Future tell the executor it should be polled again.
// It is safe to call from interrupt context and never blocks.
type Waker func()

// Future is the suspendable computation driven by a Task. An implementation
// must only return Pending after it has registered wake with whatever
// resource it is waiting on (a stream, a timer); otherwise the task can be
// left asleep forever (a lost wakeup).
type Future interface {
	Poll(wake Waker) PollState
}

// FutureFunc adapts a plain poll function to the Future interface.
type FutureFunc func(wake Waker) PollState

// Poll implements Future.
func (f FutureFunc) Poll(wake Waker) PollState { return f(wake) }

// Task wraps a Future with a unique, monotonically increasing id. Tasks are
// created by Executor.Spawn and destroyed the moment their Future yields
// Ready.
type Task struct {
	id     uint64
	future Future
}

// ID returns the task's unique identifier.
func (t *Task) ID() uint64 { return t.id }
