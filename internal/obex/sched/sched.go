// Package sched abstracts single-shot timers so protocol state machines can
// run on an event loop in production and on a manual clock in tests.
package sched

import (
	"sort"
	"time"
)

// Timer is a stoppable single-shot timer.
type Timer interface {
	Stop() bool
}

// Scheduler arms timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Wall schedules callbacks on their own goroutines with time.AfterFunc.
type Wall struct{}

func (Wall) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Func adapts a function to Scheduler.
type Func func(d time.Duration, f func()) Timer

func (fn Func) AfterFunc(d time.Duration, f func()) Timer { return fn(d, f) }

// Manual is a Scheduler driven by Advance. It is not safe for concurrent
// use and is meant for deterministic tests.
type Manual struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// AfterFunc arms a timer relative to the manual clock.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires due timers in deadline order.
// Timers armed by a firing callback fire too if they fall due.
func (m *Manual) Advance(d time.Duration) int {
	target := m.now + d
	fired := 0
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.stopped = true
		next.f()
		fired++
	}
	m.now = target
	m.compact()
	return fired
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	var live []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && t.at <= target {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at != live[j].at {
			return live[i].at < live[j].at
		}
		return live[i].seq < live[j].seq
	})
	return live[0]
}

func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
}

// Single is a re-armable single-shot timer. Arming it again replaces the
// pending callback, and a callback whose timer was stopped or re-armed
// before it ran is discarded even if the underlying timer already fired.
// Like the state machines that own it, Single must only be used from one
// goroutine, and the Scheduler must run callbacks on that goroutine.
type Single struct {
	s   Scheduler
	t   Timer
	gen uint64
}

// NewSingle creates an unarmed timer on s. A nil s uses Wall.
func NewSingle(s Scheduler) *Single {
	if s == nil {
		s = Wall{}
	}
	return &Single{s: s}
}

// Arm schedules f after d, replacing any pending callback.
func (t *Single) Arm(d time.Duration, f func()) {
	t.Stop()
	gen := t.gen
	t.t = t.s.AfterFunc(d, func() {
		if gen != t.gen {
			return
		}
		t.t = nil
		t.gen++
		f()
	})
}

// Stop cancels the pending callback.
func (t *Single) Stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

// Armed reports whether a callback is pending.
func (t *Single) Armed() bool { return t.t != nil }
