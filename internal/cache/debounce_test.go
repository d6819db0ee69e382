package cache_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/phonebook/internal/cache"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_RunsLastTrigger(t *testing.T) {
	clk := clock.NewMock()
	d := cache.NewDebouncer(clk, 400*time.Millisecond)

	var got atomic.Int32
	for i := int32(1); i <= 3; i++ {
		d.Trigger(func() { got.Store(i) })
		clk.Add(100 * time.Millisecond)
	}
	assert.True(t, d.Pending())
	assert.Equal(t, int32(0), got.Load())

	clk.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return got.Load() == 3 }, time.Second, time.Millisecond)
	assert.False(t, d.Pending())
}

func TestDebouncer_Cancel(t *testing.T) {
	clk := clock.NewMock()
	d := cache.NewDebouncer(clk, 400*time.Millisecond)

	var runs atomic.Int32
	d.Trigger(func() { runs.Add(1) })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel(), "nothing left to cancel")

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}
