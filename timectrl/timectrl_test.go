package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestBatchRunAdvancesWithoutSleeping(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := NewController(start, time.Minute, Batch)

	var seen []time.Time
	c.AddListener(func(ts time.Time) { seen = append(seen, ts) })

	<-c.Run(context.Background(), 3)

	if len(seen) != 3 {
		t.Fatalf("listener fired %d times, want 3", len(seen))
	}
	for i, ts := range seen {
		want := start.Add(time.Duration(i+1) * time.Minute)
		if !ts.Equal(want) {
			t.Errorf("advance %d at %v, want %v", i, ts, want)
		}
	}
	if got := c.Now(); !got.Equal(start.Add(3 * time.Minute)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(3*time.Minute))
	}
}

func TestRealTimeRunStopsOnCancel(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := NewController(start, time.Hour, RealTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := c.Run(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop after cancel")
	}
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want start (no step should have elapsed)", got)
	}
}
