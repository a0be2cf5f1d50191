package sched

import "orrery/kernel/sync"

// TimerFrequency is the rate (Hz) the APIC timer is calibrated to fire at:
// 100 Hz, i.e. a 10ms tick. It is the unit SleepFor converts milliseconds
// into.
const TimerFrequency = 100

// timerEntry tracks a single pending sleep_for deadline.
type timerEntry struct {
	remaining uint64
	waker     Waker
	done      bool
}

// TimerTasksManager tracks every pending sleep_for deadline in units of
// timer ticks. Tick is invoked once per APIC timer interrupt; it decrements
// every live entry and fires the waker for any that reach zero.
type TimerTasksManager struct {
	lock    sync.Spinlock
	entries map[uint64]*timerEntry
	nextID  uint64
}

// NewTimerTasksManager creates an empty manager.
func NewTimerTasksManager() *TimerTasksManager {
	return &TimerTasksManager{entries: make(map[uint64]*timerEntry)}
}

// Register schedules waker to fire once ticks timer ticks have elapsed (a
// deadline of 0 fires on the very next Tick) and returns a handle that
// identifies the registration to Ready/Remove.
func (m *TimerTasksManager) Register(ticks uint64, waker Waker) uint64 {
	m.lock.Acquire()
	defer m.lock.Release()

	m.nextID++
	id := m.nextID
	m.entries[id] = &timerEntry{remaining: ticks, waker: waker}
	return id
}

// Ready reports whether the deadline identified by id has elapsed.
func (m *TimerTasksManager) Ready(id uint64) bool {
	m.lock.Acquire()
	defer m.lock.Release()

	entry, ok := m.entries[id]
	return ok && entry.done
}

// Remove forgets a registration. Sleeping futures call this once they have
// observed Ready(id) == true.
func (m *TimerTasksManager) Remove(id uint64) {
	m.lock.Acquire()
	defer m.lock.Release()
	delete(m.entries, id)
}

// Pending reports the number of registrations that have not yet fired.
func (m *TimerTasksManager) Pending() int {
	m.lock.Acquire()
	defer m.lock.Release()

	n := 0
	for _, entry := range m.entries {
		if !entry.done {
			n++
		}
	}
	return n
}

// Tick decrements every pending registration by one tick and collects the
// wakers of any that just reached zero. Wakers are invoked after the lock
// is released so a waker that re-enters the manager (e.g. to start another
// sleep) cannot deadlock.
func (m *TimerTasksManager) Tick() {
	m.lock.Acquire()
	var fired []Waker
	for _, entry := range m.entries {
		if entry.done {
			continue
		}
		if entry.remaining == 0 {
			entry.done = true
			fired = append(fired, entry.waker)
			continue
		}
		entry.remaining--
		if entry.remaining == 0 {
			entry.done = true
			fired = append(fired, entry.waker)
		}
	}
	m.lock.Release()

	for _, waker := range fired {
		waker()
	}
}

// SleepFor returns a Future that completes no earlier than ms milliseconds
// from when it is first polled, with a resolution of one timer tick. Any
// duration under a single tick still waits a full tick.
func SleepFor(timers *TimerTasksManager, ms uint64) Future {
	ticks := (ms * TimerFrequency) / 1000
	if ticks == 0 {
		ticks = 1
	}

	var (
		id         uint64
		registered bool
	)

	return FutureFunc(func(wake Waker) PollState {
		if !registered {
			id = timers.Register(ticks, wake)
			registered = true
		}

		if !timers.Ready(id) {
			return Pending
		}

		timers.Remove(id)
		return Ready
	})
}
