package kmain

import (
	"orrery/kernel/kfmt"
	"orrery/kernel/sched"
)

// timerLoopTask returns a Future that never completes: it consumes one
// APIC timer tick at a time from ticks and advances every pending sleep
// deadline in timers. Running the decrement here, in task context, keeps
// the timer ISR down to setting the tick flag and raising a waker.
func timerLoopTask(timers *sched.TimerTasksManager, ticks *sched.TimerStream) sched.Future {
	return sched.FutureFunc(func(wake sched.Waker) sched.PollState {
		for ticks.PollNext(wake) {
			timers.Tick()
		}
		return sched.Pending
	})
}

// keyboardEchoTask returns a Future that never completes: it repeatedly
// waits for the next scancode from keys and logs it, re-arming itself each
// time the inner NextFuture resolves.
func keyboardEchoTask(keys *sched.ScancodeStream) sched.Future {
	var next sched.Future

	return sched.FutureFunc(func(wake sched.Waker) sched.PollState {
		if next == nil {
			next = keys.NextFuture(func(code byte) {
				kfmt.Printf("kbd: scancode 0x%02x\n", code)
			})
		}

		if next.Poll(wake) == sched.Ready {
			next = nil
		}
		return sched.Pending
	})
}
