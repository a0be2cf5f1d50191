package sched

import "testing"

func newTestExecutor() *Executor {
	e := NewExecutor()
	// The host has no APIC; avoid actually halting the CPU by treating an
	// empty ready queue as "nothing more to do" instead of spinning.
	e.haltFn = func() { e.Shutdown() }
	return e
}

func TestSpawnRunsTaskToCompletion(t *testing.T) {
	e := newTestExecutor()

	polls := 0
	e.Spawn(FutureFunc(func(wake Waker) PollState {
		polls++
		if polls < 3 {
			wake()
			return Pending
		}
		return Ready
	}))

	e.Run()

	if polls != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
	if got := e.TaskCount(); got != 0 {
		t.Errorf("expected 0 remaining tasks, got %d", got)
	}
}

func TestExecutorRunsMultipleTasksIndependently(t *testing.T) {
	e := newTestExecutor()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		remaining := i + 1
		e.Spawn(FutureFunc(func(wake Waker) PollState {
			remaining--
			if remaining > 0 {
				wake()
				return Pending
			}
			order = append(order, i)
			return Ready
		}))
	}

	e.Run()

	if len(order) != 3 {
		t.Fatalf("expected all 3 tasks to complete, got %d", len(order))
	}
}

func TestShutdownStopsRun(t *testing.T) {
	e := NewExecutor()
	e.haltFn = func() {
		t.Fatal("haltFn should not be reached before shutdown is observed")
	}

	e.Spawn(FutureFunc(func(wake Waker) PollState {
		e.Shutdown()
		return Ready
	}))

	e.Run()

	if got := e.TaskCount(); got != 0 {
		t.Errorf("expected task to be removed, got %d remaining", got)
	}
}

func TestPendingTaskIsNotDeletedUntilReady(t *testing.T) {
	e := newTestExecutor()

	id := e.Spawn(FutureFunc(func(wake Waker) PollState {
		return Pending
	}))

	// Nothing re-wakes the task after its first poll, so the ready queue
	// drains and the executor halts (our stub shuts it down instead).
	e.Run()

	if e.TaskCount() != 1 {
		t.Fatalf("expected task %d to remain registered while pending", id)
	}
}
