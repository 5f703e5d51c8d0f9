package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterThrottlesDownloadingEvents(t *testing.T) {
	var events []Event
	m := newMeter("jdk.tar.gz", 10*mib, 0, func(e Event) {
		events = append(events, e)
	})

	// small increments below the step stay silent
	for i := 0; i < 10; i++ {
		m.add(1024)
	}
	assert.Empty(t, events)

	// crossing the step emits once
	m.add(100 * 1024)
	require.Len(t, events, 1)
	assert.Equal(t, StatusDownloading, events[0].Status)
	assert.Equal(t, int64(110*1024), events[0].Downloaded)

	// quiet again until the next step worth of bytes
	m.add(1024)
	assert.Len(t, events, 1)
}

func TestMeterAlwaysEmitsAtCompletion(t *testing.T) {
	var events []Event
	total := int64(50 * 1024) // below one step
	m := newMeter("small.bin", total, 0, func(e Event) {
		events = append(events, e)
	})
	m.add(total)
	require.Len(t, events, 1)
	assert.Equal(t, total, events[0].Downloaded)
	assert.InDelta(t, 100.0, events[0].Percent, 0.001)
}

func TestMeterResumeStartsFromPriorBytes(t *testing.T) {
	m := newMeter("jdk.tar.gz", 10*mib, 4*mib, nil)
	assert.Equal(t, int64(4*mib), m.current())
	m.add(1024)
	assert.Equal(t, int64(4*mib+1024), m.current())
}

func TestMeterRateExcludesResumedBytes(t *testing.T) {
	var events []Event
	m := newMeter("jdk.tar.gz", 10*mib, 9*mib, func(e Event) {
		events = append(events, e)
	})

	// before this session transfers anything, the rate must be zero, not
	// nine mebibytes over a few microseconds
	m.emitStatus(StatusDownloading)
	require.Len(t, events, 1)
	assert.Zero(t, events[0].BytesPerSec)
	assert.Zero(t, events[0].ETASeconds)
	assert.InDelta(t, 90.0, events[0].Percent, 0.001)

	m.add(1024)
	m.started = time.Now().Add(-time.Second)
	m.emitStatus(StatusDownloading)
	last := events[len(events)-1]
	assert.InDelta(t, 1024, last.BytesPerSec, 200, "rate derives from session bytes only")
}

func TestMeterStatusEvents(t *testing.T) {
	var events []Event
	m := newMeter("jdk.tar.gz", mib, 0, func(e Event) {
		events = append(events, e)
	})
	m.emitStatus(StatusVerifying)
	m.emitStatus(StatusCompleted)
	require.Len(t, events, 2)
	assert.Equal(t, StatusVerifying, events[0].Status)
	assert.Equal(t, StatusCompleted, events[1].Status)
}

func TestAggregatorConcurrentCounts(t *testing.T) {
	agg := NewAggregator(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				agg.AddBytes(10)
			}
			agg.FileDone()
		}()
	}
	wg.Wait()
	totals := agg.Totals()
	assert.Equal(t, 8, totals.CompletedFiles)
	assert.Equal(t, 8, totals.TotalFiles)
	assert.Equal(t, int64(80000), totals.TotalBytes)
}
