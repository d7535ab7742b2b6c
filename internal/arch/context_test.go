package arch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoroutineSwitcherTransfersControl(t *testing.T) {
	sw := NewGoroutineSwitcher()
	boot := NewBootstrapContext()

	var order []string
	var target *Context
	target = NewContext(func() {
		order = append(order, "target")
		sw.Switch(target, boot)
	})

	order = append(order, "before")
	sw.Switch(boot, target)
	order = append(order, "after")

	require.Equal(t, []string{"before", "target", "after"}, order,
		"switch must run the target entry and resume the caller on switch-back")
}

func TestGoroutineSwitcherSelfSwitchIsNoop(t *testing.T) {
	sw := NewGoroutineSwitcher()
	boot := NewBootstrapContext()

	done := make(chan struct{})
	go func() {
		sw.Switch(boot, boot)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("self-switch must not park the caller")
	}
}

func TestGoroutineSwitcherResumesSuspendedContext(t *testing.T) {
	sw := NewGoroutineSwitcher()
	boot := NewBootstrapContext()

	steps := 0
	var target *Context
	target = NewContext(func() {
		steps++
		sw.Switch(target, boot) // suspend
		steps++
		sw.Switch(target, boot)
	})

	sw.Switch(boot, target)
	require.Equal(t, 1, steps)
	sw.Switch(boot, target) // resume, not re-enter
	require.Equal(t, 2, steps, "second switch resumes after the suspension point")
}

func TestGoroutineSwitcherNilFromDoesNotPark(t *testing.T) {
	sw := NewGoroutineSwitcher()

	ran := make(chan struct{})
	target := NewContext(func() {
		close(ran)
	})

	returned := make(chan struct{})
	go func() {
		sw.Switch(nil, target) // exiting flow: resume target, don't park
		close(returned)
	}()

	for _, ch := range []chan struct{}{ran, returned} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("nil-from switch must resume the target and return to the caller")
		}
	}
}

func TestRecordingSwitcherCountsWithoutTransferring(t *testing.T) {
	sw := NewRecordingSwitcher()
	a := NewBootstrapContext()
	b := NewContext(func() { t.Error("entry must never run under the recording switcher") })

	for i := 0; i < 3; i++ {
		sw.Switch(a, b)
	}
	require.Equal(t, 3, sw.Switches())
}

func TestMonotonicClockNeverGoesBackwards(t *testing.T) {
	c := NewMonotonicClock()

	prev := c.Nanotime()
	for i := 0; i < 100; i++ {
		now := c.Nanotime()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestManualClockAdvances(t *testing.T) {
	c := NewManualClock()

	require.Zero(t, c.Nanotime())
	c.Advance(5 * time.Millisecond)
	require.Equal(t, int64(5*time.Millisecond), c.Nanotime())
	c.Advance(time.Nanosecond)
	require.Equal(t, int64(5*time.Millisecond)+1, c.Nanotime())
}
