package sched

import "sync/atomic"

// scancodeQueueCapacity bounds the number of keyboard scancodes buffered
// between the ISR and the task reading them.
const scancodeQueueCapacity = 100

// ScancodeStream delivers keyboard scancodes from the keyboard ISR to
// whichever task is awaiting input, preserving IRQ arrival order.
type ScancodeStream struct {
	queue chan byte
	waker atomic.Value
}

// NewScancodeStream creates an empty stream.
func NewScancodeStream() *ScancodeStream {
	return &ScancodeStream{queue: make(chan byte, scancodeQueueCapacity)}
}

// Push enqueues a scancode and wakes whichever task last called PollNext
// without finding data. It is safe to call from the keyboard ISR. A full
// queue drops the incoming byte rather than blocking the interrupt handler.
func (s *ScancodeStream) Push(code byte) {
	select {
	case s.queue <- code:
	default:
	}

	if w, ok := s.waker.Load().(Waker); ok && w != nil {
		w()
	}
}

// PollNext returns the next queued scancode. If the queue is empty it
// registers wake and retries once before reporting no data, which closes
// the race where a scancode arrives between the first empty check and the
// waker registration.
func (s *ScancodeStream) PollNext(wake Waker) (byte, bool) {
	select {
	case code := <-s.queue:
		return code, true
	default:
	}

	s.waker.Store(wake)

	select {
	case code := <-s.queue:
		return code, true
	default:
		return 0, false
	}
}

// NextFuture returns a Future that resolves to Ready the moment a scancode
// is available, handing it to onCode before completing.
func (s *ScancodeStream) NextFuture(onCode func(byte)) Future {
	return FutureFunc(func(wake Waker) PollState {
		code, ok := s.PollNext(wake)
		if !ok {
			return Pending
		}
		onCode(code)
		return Ready
	})
}

// TimerStream exposes the APIC timer tick as a single-shot flag: the timer
// ISR sets it once per tick and a task consumes it via PollNext.
type TimerStream struct {
	flag  uint32
	waker atomic.Value
}

// NewTimerStream creates an unset timer stream.
func NewTimerStream() *TimerStream {
	return &TimerStream{}
}

// Signal marks a tick as pending and wakes whichever task last called
// PollNext without finding one. It returns true if the previous tick had
// not yet been consumed (a missed tick), which the caller should log.
func (s *TimerStream) Signal() (missed bool) {
	missed = atomic.SwapUint32(&s.flag, 1) == 1

	if w, ok := s.waker.Load().(Waker); ok && w != nil {
		w()
	}
	return missed
}

// PollNext atomically consumes a pending tick (true -> false). If none is
// pending it registers wake and retries the CAS once before returning
// false, the same "register then recheck" idiom used by ScancodeStream.
func (s *TimerStream) PollNext(wake Waker) bool {
	if atomic.CompareAndSwapUint32(&s.flag, 1, 0) {
		return true
	}

	s.waker.Store(wake)
	return atomic.CompareAndSwapUint32(&s.flag, 1, 0)
}

// NextFuture returns a Future that resolves to Ready the moment a tick is
// observed.
func (s *TimerStream) NextFuture() Future {
	return FutureFunc(func(wake Waker) PollState {
		if !s.PollNext(wake) {
			return Pending
		}
		return Ready
	})
}
