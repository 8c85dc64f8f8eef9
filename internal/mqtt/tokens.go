package mqtt

import (
	"sync"
	"time"
)

// DailyTokens accumulates LLM token usage and resets at local
// midnight. Safe for concurrent use; the orchestrator's event
// consumer records into it while the publish loop reads.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	requests int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
}

// NewDailyTokens creates an accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTokens{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// OnTokens records token counts from one completed backend request.
// If the local date has changed since the last recording, counters
// reset before the new values are added.
func (d *DailyTokens) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(inputTokens)
	d.output += int64(outputTokens)
	d.requests++
}

// Snapshot returns the accumulated input tokens, output tokens and
// request count after checking for midnight rollover.
func (d *DailyTokens) Snapshot() (input, output, requests int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.requests
}

// maybeReset zeroes the accumulators if the local day-of-year has
// changed. Must be called with d.mu held.
func (d *DailyTokens) maybeReset() {
	day := time.Now().In(d.loc).YearDay()
	if day != d.resetDay {
		d.input = 0
		d.output = 0
		d.requests = 0
		d.resetDay = day
	}
}
