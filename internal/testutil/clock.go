package testutil

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Epoch is the fixed starting point of clocks returned by NewClock:
// 2025-01-01 00:00:00 UTC.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a mock clock initialized to the given time, or to Epoch
// when no time is provided. Advance it with Add; timers created through it
// fire only when the mock time passes their deadline.
func NewClock(now ...time.Time) *clock.Mock {
	t := Epoch
	if len(now) > 0 {
		t = now[0]
	}
	c := clock.NewMock()
	c.Set(t)
	return c
}
