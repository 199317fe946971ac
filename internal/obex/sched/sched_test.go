package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	var m Manual
	var order []string
	m.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	stopped := m.AfterFunc(2*time.Second, func() { order = append(order, "x") })
	m.AfterFunc(2*time.Second, func() {
		order = append(order, "b")
		m.AfterFunc(500*time.Millisecond, func() { order = append(order, "b2") })
	})

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	assert.Equal(t, 3, m.Advance(2500*time.Millisecond))
	assert.Equal(t, []string{"a", "b", "b2"}, order)
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "b2", "c"}, order)
	assert.Zero(t, m.Pending())
}

func TestFuncAdapter(t *testing.T) {
	called := false
	s := Func(func(d time.Duration, f func()) Timer {
		called = true
		return time.AfterFunc(d, f)
	})
	tm := s.AfterFunc(time.Hour, func() {})
	assert.True(t, called)
	assert.True(t, tm.Stop())
}

func TestSingleRearmDiscardsStale(t *testing.T) {
	var m Manual
	s := NewSingle(&m)

	fired := 0
	s.Arm(time.Second, func() { fired++ })
	s.Arm(2*time.Second, func() { fired += 10 })
	assert.True(t, s.Armed())

	m.Advance(time.Second)
	assert.Equal(t, 0, fired)

	m.Advance(time.Second)
	assert.Equal(t, 10, fired)
	assert.False(t, s.Armed())

	s.Arm(time.Second, func() { fired++ })
	s.Stop()
	m.Advance(time.Minute)
	assert.Equal(t, 10, fired)
}
