package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestScheduler() (*Scheduler, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := NewScheduler()
	s.now = clock.now
	return s, clock
}

func TestScheduler_DrainsOnlyDueActions(t *testing.T) {
	s, clock := newTestScheduler()

	var fired []string
	s.Schedule(5*time.Second, func() { fired = append(fired, "a") })
	s.Schedule(10*time.Second, func() { fired = append(fired, "b") })

	clock.advance(6 * time.Second)
	due := s.DrainDue()
	assert.Len(t, due, 1)
	due[0]()
	assert.Equal(t, []string{"a"}, fired)

	clock.advance(10 * time.Second)
	due = s.DrainDue()
	assert.Len(t, due, 1)
	due[0]()
	assert.Equal(t, []string{"a", "b"}, fired)
}

func TestScheduler_EarliestFirst(t *testing.T) {
	s, clock := newTestScheduler()

	var order []int
	s.Schedule(3*time.Second, func() { order = append(order, 3) })
	s.Schedule(1*time.Second, func() { order = append(order, 1) })
	s.Schedule(2*time.Second, func() { order = append(order, 2) })

	clock.advance(10 * time.Second)
	for _, action := range s.DrainDue() {
		action()
	}

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestScheduler_Clear(t *testing.T) {
	s, clock := newTestScheduler()

	fired := false
	s.Schedule(1*time.Second, func() { fired = true })
	s.Clear()

	clock.advance(5 * time.Second)
	due := s.DrainDue()
	assert.Empty(t, due)
	assert.False(t, fired)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_NothingDueYet(t *testing.T) {
	s, _ := newTestScheduler()
	s.Schedule(60*time.Second, func() {})

	due := s.DrainDue()
	assert.Empty(t, due)
	assert.Equal(t, 1, s.Pending())
}
