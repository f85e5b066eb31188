package timestamp

import (
	"context"
	"testing"
	"time"
)

func TestAdjusterExplicitTarget(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(500_000)
	if got := a.FirstSampleTimestampUs(); got != 500_000 {
		t.Errorf("FirstSampleTimestampUs() = %d, want 500000", got)
	}
	if got := a.TimestampOffsetUs(); got != TimeUnset {
		t.Errorf("TimestampOffsetUs() = %d, want TimeUnset before first sample", got)
	}
	if got := a.LastAdjustedTimestampUs(); got != TimeUnset {
		t.Errorf("LastAdjustedTimestampUs() = %d, want TimeUnset before first sample", got)
	}

	if got := a.AdjustSampleTimestamp(2_000_000); got != 500_000 {
		t.Errorf("first sample = %d, want 500000", got)
	}
	if got := a.TimestampOffsetUs(); got != -1_500_000 {
		t.Errorf("TimestampOffsetUs() = %d, want -1500000", got)
	}
	if got := a.AdjustSampleTimestamp(2_100_000); got != 600_000 {
		t.Errorf("second sample = %d, want 600000", got)
	}
	if got := a.LastAdjustedTimestampUs(); got != 600_000 {
		t.Errorf("LastAdjustedTimestampUs() = %d, want 600000", got)
	}
}

func TestAdjusterNoOffset(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(ModeNoOffset)
	if got := a.TimestampOffsetUs(); got != 0 {
		t.Errorf("TimestampOffsetUs() = %d, want 0 at construction", got)
	}
	if got := a.FirstSampleTimestampUs(); got != TimeUnset {
		t.Errorf("FirstSampleTimestampUs() = %d, want TimeUnset", got)
	}
	if got := a.AdjustSampleTimestamp(1_234_567); got != 1_234_567 {
		t.Errorf("AdjustSampleTimestamp = %d, want passthrough 1234567", got)
	}
}

func TestAdjusterTsWraparound(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(0)
	if got := a.AdjustTsTimestamp(0); got != 0 {
		t.Fatalf("first sample = %d, want 0", got)
	}
	// Largest forward step that still reads as forward motion.
	if got := a.AdjustTsTimestamp(1 << 32); got != 47_721_858_844 {
		t.Fatalf("half-range sample = %d, want 47721858844", got)
	}
	// One second shy of the wrap point.
	if got := a.AdjustTsTimestamp(MaxPtsPlusOne - 90_000); got != 95_442_717_688 {
		t.Fatalf("pre-wrap sample = %d, want 95442717688", got)
	}
	// One second past the wrap point: output keeps moving forward.
	got := a.AdjustTsTimestamp(90_000)
	if got != 95_444_717_688 {
		t.Fatalf("post-wrap sample = %d, want 95444717688", got)
	}
	if got <= 95_442_717_688 {
		t.Errorf("timeline moved backward across the wrap boundary")
	}
}

func TestAdjusterTsReorderTolerance(t *testing.T) {
	t.Parallel()

	// A presentation timestamp just below the wrap point arriving after
	// one just above it must unwrap to a small negative delta, not a full
	// 26.5 hour jump.
	a := NewAdjuster(ModeNoOffset)
	if got := a.AdjustTsTimestamp(90_000); got != 1_000_000 {
		t.Fatalf("first sample = %d, want 1000000", got)
	}
	if got := a.AdjustTsTimestamp(MaxPtsPlusOne - 90); got != -1_000 {
		t.Errorf("reordered sample = %d, want -1000", got)
	}
	if got := a.AdjustTsTimestamp(90); got != 1_000 {
		t.Errorf("recovered sample = %d, want 1000", got)
	}
}

func TestAdjusterTimeUnsetPassthrough(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(700)
	if got := a.AdjustTsTimestamp(TimeUnset); got != TimeUnset {
		t.Errorf("AdjustTsTimestamp(TimeUnset) = %d, want TimeUnset", got)
	}
	if got := a.AdjustSampleTimestamp(TimeUnset); got != TimeUnset {
		t.Errorf("AdjustSampleTimestamp(TimeUnset) = %d, want TimeUnset", got)
	}
	if got := a.TimestampOffsetUs(); got != TimeUnset {
		t.Errorf("offset = %d, want still unresolved after sentinel inputs", got)
	}
}

func TestAdjusterSharedConvergence(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(ModeShared)
	const (
		target   = int64(1_000_000)
		firstRaw = int64(3_000_000)
	)

	waiterAdjusted := make(chan int64, 1)
	go func() {
		if err := a.SharedInitializeOrWait(context.Background(), false, 0); err != nil {
			t.Errorf("waiter SharedInitializeOrWait: %v", err)
		}
		waiterAdjusted <- a.AdjustSampleTimestamp(5_000_000)
	}()

	if err := a.SharedInitializeOrWait(context.Background(), true, target); err != nil {
		t.Fatalf("initializer SharedInitializeOrWait: %v", err)
	}
	if got := a.AdjustSampleTimestamp(firstRaw); got != target {
		t.Errorf("initializing sample = %d, want %d", got, target)
	}

	wantOffset := target - firstRaw
	if got := a.TimestampOffsetUs(); got != wantOffset {
		t.Errorf("TimestampOffsetUs() = %d, want %d", got, wantOffset)
	}

	select {
	case got := <-waiterAdjusted:
		if want := 5_000_000 + wantOffset; got != want {
			t.Errorf("waiter sample = %d, want %d", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never observed the resolved offset")
	}

	// Once resolved, the call is a no-op for everyone.
	if err := a.SharedInitializeOrWait(context.Background(), false, 0); err != nil {
		t.Errorf("SharedInitializeOrWait after resolution: %v", err)
	}
}

func TestAdjusterSharedWaitCancel(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(ModeShared)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- a.SharedInitializeOrWait(ctx, false, 0)
	}()
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled waiter never returned")
	}
}

func TestAdjusterResetRearmsWaiters(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(ModeShared)
	errc := make(chan error, 1)
	go func() {
		errc <- a.SharedInitializeOrWait(context.Background(), false, 0)
	}()

	// A reset wakes blocked waiters onto the new epoch; they stay blocked
	// until that epoch resolves.
	a.Reset(ModeShared)
	if err := a.SharedInitializeOrWait(context.Background(), true, 0); err != nil {
		t.Fatalf("SharedInitializeOrWait: %v", err)
	}
	a.AdjustSampleTimestamp(42)
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("waiter err = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not observe resolution after reset")
	}
}

func TestAdjusterReset(t *testing.T) {
	t.Parallel()

	a := NewAdjuster(0)
	a.AdjustSampleTimestamp(9_000_000)
	a.Reset(250_000)
	if got := a.TimestampOffsetUs(); got != TimeUnset {
		t.Errorf("offset after reset = %d, want TimeUnset", got)
	}
	if got := a.LastAdjustedTimestampUs(); got != TimeUnset {
		t.Errorf("last adjusted after reset = %d, want TimeUnset", got)
	}
	if got := a.AdjustSampleTimestamp(1_000_000); got != 250_000 {
		t.Errorf("first sample after reset = %d, want 250000", got)
	}
}

func TestAdjusterPanics(t *testing.T) {
	t.Parallel()

	t.Run("shared call on explicit adjuster", func(t *testing.T) {
		t.Parallel()
		defer func() {
			if recover() == nil {
				t.Error("no panic")
			}
		}()
		a := NewAdjuster(0)
		a.SharedInitializeOrWait(context.Background(), true, 0)
	})

	t.Run("shared adjust without staged value", func(t *testing.T) {
		t.Parallel()
		defer func() {
			if recover() == nil {
				t.Error("no panic")
			}
		}()
		a := NewAdjuster(ModeShared)
		a.AdjustSampleTimestamp(1)
	})
}

func TestPtsMicrosecondConversions(t *testing.T) {
	t.Parallel()

	// The reduced ratio must agree exactly with the wide form
	// pts*1_000_000/90_000 wherever the wide form cannot overflow.
	pts := []int64{0, 1, 9, 90_000, MaxPtsPlusOne - 1, -90_000, -1}
	for _, p := range pts {
		if got, want := PtsToUs(p), p*1_000_000/90_000; got != want {
			t.Errorf("PtsToUs(%d) = %d, want %d", p, got, want)
		}
	}
	// Far past the range where the wide form would overflow.
	if got := PtsToUs(9_000_000_000_000_000); got != 100_000_000_000_000_000 {
		t.Errorf("PtsToUs(9e15) = %d, want 1e17", got)
	}
	us := []int64{0, 1_000_000, 95_442_717_688, -1_000}
	for _, u := range us {
		if got, want := UsToNonWrappedPts(u), u*90_000/1_000_000; got != want {
			t.Errorf("UsToNonWrappedPts(%d) = %d, want %d", u, got, want)
		}
	}
}
