package main

import (
	"container/heap"
	"time"
)

// schedulerItem is a one-shot deferred action due at a fixed time.
type schedulerItem struct {
	due    time.Time
	action func()
	index  int
}

type schedulerHeap []*schedulerItem

func (h schedulerHeap) Len() int            { return len(h) }
func (h schedulerHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h schedulerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *schedulerHeap) Push(x any) {
	item := x.(*schedulerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *schedulerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Scheduler is a single-threaded, min-heap-ordered queue of one-shot
// deferred actions, drained from the main event loop between broker polls.
type Scheduler struct {
	heap schedulerHeap
	now  func() time.Time
}

// NewScheduler constructs an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now}
}

// Schedule queues action to run after delay, relative to now.
func (s *Scheduler) Schedule(delay time.Duration, action func()) {
	heap.Push(&s.heap, &schedulerItem{due: s.now().Add(delay), action: action})
}

// DrainDue pops and returns every action whose due time has passed,
// earliest first.
func (s *Scheduler) DrainDue() []func() {
	now := s.now()
	var due []func()
	for s.heap.Len() > 0 && !s.heap[0].due.After(now) {
		item := heap.Pop(&s.heap).(*schedulerItem)
		due = append(due, item.action)
	}
	return due
}

// Clear discards all pending actions.
func (s *Scheduler) Clear() {
	s.heap = nil
}

// Pending reports how many actions are still queued.
func (s *Scheduler) Pending() int {
	return s.heap.Len()
}
