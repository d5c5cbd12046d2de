package router

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is a single timer wheel shared by dispatch timeouts and mission
// deadlines: one goroutine, one heap, no per-mission timer goroutines.
type Scheduler struct {
	mu    sync.Mutex
	queue timerQueue
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

type timerEntry struct {
	at time.Time
	fn func()
}

type timerQueue []timerEntry

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q timerQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)        { *q = append(*q, x.(timerEntry)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// NewScheduler starts the timer loop.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// After schedules fn to run once d elapses. fn runs on its own goroutine so
// a slow callback cannot delay other timers.
func (s *Scheduler) After(d time.Duration, fn func()) {
	s.At(time.Now().Add(d), fn)
}

// At schedules fn for an absolute time.
func (s *Scheduler) At(at time.Time, fn func()) {
	s.mu.Lock()
	heap.Push(&s.queue, timerEntry{at: at, fn: fn})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.queue) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.queue[0].at)
		}

		if wait <= 0 {
			e := heap.Pop(&s.queue).(timerEntry)
			s.mu.Unlock()
			go e.fn()
			continue
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Stop halts the timer loop; pending callbacks are discarded.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
}
