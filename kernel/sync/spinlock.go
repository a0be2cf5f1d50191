// Package sync provides the spinlock primitive that guards state shared
// between tasks and interrupt handlers.
package sync

import "sync/atomic"

// Spinlock is a busy-waiting mutual exclusion lock; the zero value is
// unlocked. Acquiring a lock already held by the current context deadlocks.
// The lock does not touch the interrupt flag itself — callers whose
// critical section can race an interrupt handler disable interrupts around
// Acquire/Release (see kfmt's output lock).
type Spinlock struct {
	state uint32
}

// cpuRelaxFn is invoked between failed acquisition attempts. Tests swap in
// runtime.Gosched so goroutines contending on one OS thread still make
// progress.
var cpuRelaxFn = cpuRelax

// Acquire spins until the caller holds the lock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		cpuRelaxFn()
	}
}

// TryToAcquire takes the lock if it is free and reports whether it did.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release unlocks the lock. Releasing a free lock has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// cpuRelax executes the PAUSE spin-wait hint.
func cpuRelax()
