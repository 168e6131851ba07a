package rtos

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ChanQueue is a channel-backed Queue: the reference "scheduler's normal
// primitive" Sim-based tasks construct through the container manager's
// isolated-object constructors.
type ChanQueue struct {
	ch chan any
}

// NewChanQueue returns a Queue with room for capacity unreceived items.
func NewChanQueue(capacity int) *ChanQueue {
	return &ChanQueue{ch: make(chan any, capacity)}
}

func (q *ChanQueue) Send(ctx context.Context, v any, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case q.ch <- v:
			return nil
		default:
			return ErrTimeout
		}
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case q.ch <- v:
		return nil
	case <-wctx.Done():
		return ErrTimeout
	}
}

func (q *ChanQueue) Receive(ctx context.Context, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		select {
		case v := <-q.ch:
			return v, nil
		default:
			return nil, ErrTimeout
		}
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case v := <-q.ch:
		return v, nil
	case <-wctx.Done():
		return nil, ErrTimeout
	}
}

// ChanSemaphore is a channel-backed counting Semaphore.
type ChanSemaphore struct {
	ch chan struct{}
}

// NewChanSemaphore returns a semaphore initialized with count tokens
// already available to Take.
func NewChanSemaphore(count int) *ChanSemaphore {
	s := &ChanSemaphore{ch: make(chan struct{}, count)}
	for i := 0; i < count; i++ {
		s.ch <- struct{}{}
	}
	return s
}

func (s *ChanSemaphore) Take(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-s.ch:
			return nil
		default:
			return ErrTimeout
		}
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-s.ch:
		return nil
	case <-wctx.Done():
		return ErrTimeout
	}
}

func (s *ChanSemaphore) Give() error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
		return errors.New("rtos: semaphore give exceeds its capacity")
	}
}

// ChanMutex is ChanSemaphore narrowed to a single token, exposed under the
// Lock/Unlock names the Mutex interface expects.
type ChanMutex struct {
	sem *ChanSemaphore
}

// NewChanMutex returns an unlocked mutex.
func NewChanMutex() *ChanMutex {
	return &ChanMutex{sem: NewChanSemaphore(1)}
}

func (m *ChanMutex) Lock(ctx context.Context, timeout time.Duration) error {
	return m.sem.Take(ctx, timeout)
}

func (m *ChanMutex) Unlock() error {
	return m.sem.Give()
}

// ChanEventGroup is a channel-backed EventGroup: SetBits broadcasts to
// every blocked WaitBits call by closing that call's private wake
// channel (a fresh channel per wait), the same close-to-broadcast
// mechanism rtos.Gate uses for startup synchronization.
type ChanEventGroup struct {
	mu   sync.Mutex
	bits uint32
	subs []chan struct{}
}

// NewChanEventGroup returns an event group with no bits set.
func NewChanEventGroup() *ChanEventGroup {
	return &ChanEventGroup{}
}

func (e *ChanEventGroup) SetBits(bits uint32) uint32 {
	e.mu.Lock()
	e.bits |= bits
	woken := e.subs
	e.subs = nil
	result := e.bits
	e.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}
	return result
}

func (e *ChanEventGroup) ClearBits(bits uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bits &^= bits
	return e.bits
}

func satisfies(current, want uint32, waitForAll bool) bool {
	if waitForAll {
		return current&want == want
	}
	return current&want != 0
}

func (e *ChanEventGroup) WaitBits(ctx context.Context, bits uint32, clearOnExit, waitForAll bool, timeout time.Duration) (uint32, error) {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		e.mu.Lock()
		if satisfies(e.bits, bits, waitForAll) {
			result := e.bits
			if clearOnExit {
				e.bits &^= bits
			}
			e.mu.Unlock()
			return result, nil
		}
		wake := make(chan struct{})
		e.subs = append(e.subs, wake)
		e.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-wctx.Done():
			return 0, ErrTimeout
		}
	}
}
