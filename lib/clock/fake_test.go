// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-channel:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(5*time.Second))
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after firing, want 0", c.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-c.After(d):
		default:
			t.Errorf("After(%v) did not fire immediately", d)
		}
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine not released by Advance")
	}
}

func TestFakeSetBackwards(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(time.Minute)
	earlier := epoch.Add(-time.Hour)
	c.Set(earlier)

	if !c.Now().Equal(earlier) {
		t.Errorf("Now = %v, want %v", c.Now(), earlier)
	}
	select {
	case <-channel:
		t.Fatal("moving backwards fired a timer")
	default:
	}
}

func TestRealClockImplementsClock(t *testing.T) {
	var _ Clock = Real()
	var _ Clock = Fake(epoch)
}
