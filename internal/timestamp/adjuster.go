// Package timestamp maps wrapping 90 kHz transport clocks onto a single
// monotonic microsecond timeline with a stable per-stream offset.
package timestamp

import (
	"context"
	"math"
	"sync"
)

// TimeUnset marks a missing timestamp. Adjust operations pass it through
// untouched and never resolve an offset from it.
const TimeUnset = math.MinInt64 + 1

// Mode sentinels for NewAdjuster and Reset. Any other value is an explicit
// microsecond target for the first adjusted sample.
const (
	// ModeNoOffset fixes the offset at zero immediately: wraparound is
	// corrected but samples are never shifted.
	ModeNoOffset = math.MaxInt64
	// ModeShared leaves the offset unresolved until one of the producers
	// sharing the timeline stages a start value and adjusts a sample.
	ModeShared = math.MaxInt64 - 1
)

// MaxPtsPlusOne is one past the largest 33-bit PTS value.
const MaxPtsPlusOne = int64(1) << 33

// Adjuster converts wrapping 33-bit 90 kHz timestamps into microseconds on
// one shared timeline. The offset between input and output resolves exactly
// once, on the first adjusted sample; in shared mode several producer
// goroutines coordinate so that the initializing producer anchors the
// timeline and every other producer observes the same offset. All methods
// are safe for concurrent use.
type Adjuster struct {
	mu         sync.Mutex
	firstUs    int64 // constructor parameter, mode sentinels included
	offsetUs   int64 // TimeUnset until resolved
	lastUs     int64 // last unadjusted input, TimeUnset before the first
	pendingUs  int64 // staged shared-mode start value
	hasPending bool
	resolved   chan struct{} // closed on resolution, replaced by Reset
}

// NewAdjuster returns an Adjuster in the mode selected by
// firstSampleTimestampUs: ModeNoOffset, ModeShared, or an explicit target
// in microseconds for the first adjusted sample.
func NewAdjuster(firstSampleTimestampUs int64) *Adjuster {
	a := &Adjuster{}
	a.Reset(firstSampleTimestampUs)
	return a
}

// Reset atomically reinitializes the adjuster with a new mode or target,
// clearing the offset, the last sample and any staged shared start value.
// Goroutines blocked in SharedInitializeOrWait wake and wait for the new
// timeline to resolve.
func (a *Adjuster) Reset(firstSampleTimestampUs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.resolved
	wasResolved := old != nil && a.offsetUs != TimeUnset
	a.firstUs = firstSampleTimestampUs
	a.offsetUs = TimeUnset
	a.lastUs = TimeUnset
	a.pendingUs = 0
	a.hasPending = false
	a.resolved = make(chan struct{})
	if firstSampleTimestampUs == ModeNoOffset {
		a.resolveLocked(0)
	}
	if old != nil && !wasResolved {
		close(old)
	}
}

// AdjustTsTimestamp unwraps a 33-bit 90 kHz timestamp and adjusts it onto
// the output timeline. When a previous sample exists, the wrap count is
// chosen so the unwrapped value lands closest to it, which keeps the
// timeline continuous across wrap boundaries and tolerates small backward
// steps from frame reordering. TimeUnset passes through.
func (a *Adjuster) AdjustTsTimestamp(pts90khz int64) int64 {
	if pts90khz == TimeUnset {
		return TimeUnset
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastUs != TimeUnset {
		lastPts := UsToNonWrappedPts(a.lastUs)
		closestWrapCount := (lastPts + MaxPtsPlusOne/2) / MaxPtsPlusOne
		below := pts90khz + MaxPtsPlusOne*(closestWrapCount-1)
		above := pts90khz + MaxPtsPlusOne*closestWrapCount
		if abs(below-lastPts) < abs(above-lastPts) {
			pts90khz = below
		} else {
			pts90khz = above
		}
	}
	return a.adjustSampleLocked(PtsToUs(pts90khz))
}

// AdjustSampleTimestamp adjusts a microsecond timestamp onto the output
// timeline, resolving the offset if this is the first sample. TimeUnset
// passes through without resolving or recording anything.
func (a *Adjuster) AdjustSampleTimestamp(timeUs int64) int64 {
	if timeUs == TimeUnset {
		return TimeUnset
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adjustSampleLocked(timeUs)
}

func (a *Adjuster) adjustSampleLocked(timeUs int64) int64 {
	if a.offsetUs == TimeUnset {
		desired := a.firstUs
		if a.firstUs == ModeShared {
			if !a.hasPending {
				panic("timestamp: shared timeline has no staged start value")
			}
			desired = a.pendingUs
		}
		a.resolveLocked(desired - timeUs)
	}
	a.lastUs = timeUs
	return timeUs + a.offsetUs
}

// SharedInitializeOrWait coordinates producers sharing one timeline and is
// legal only in shared mode. It returns immediately when the offset is
// already resolved. A producer that may anchor the timeline passes
// canInitialize true with the output timestamp its next sample should map
// to; the staged value takes effect on that producer's next
// AdjustSampleTimestamp call. Everyone else blocks until some producer
// resolves the offset, or until ctx is done.
func (a *Adjuster) SharedInitializeOrWait(ctx context.Context, canInitialize bool, nextSampleTimestampUs int64) error {
	a.mu.Lock()
	if a.firstUs != ModeShared {
		a.mu.Unlock()
		panic("timestamp: SharedInitializeOrWait on a non-shared adjuster")
	}
	if a.offsetUs != TimeUnset {
		a.mu.Unlock()
		return nil
	}
	if canInitialize {
		a.pendingUs = nextSampleTimestampUs
		a.hasPending = true
		a.mu.Unlock()
		return nil
	}
	for {
		ch := a.resolved
		a.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		a.mu.Lock()
		if a.offsetUs != TimeUnset {
			a.mu.Unlock()
			return nil
		}
		// A reset raced the wait; block on the new epoch.
	}
}

// FirstSampleTimestampUs returns the explicit first-sample target, or
// TimeUnset in the no-offset and shared modes.
func (a *Adjuster) FirstSampleTimestampUs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.firstUs == ModeNoOffset || a.firstUs == ModeShared {
		return TimeUnset
	}
	return a.firstUs
}

// LastAdjustedTimestampUs returns the adjusted value of the most recent
// sample, or TimeUnset when nothing has been adjusted yet.
func (a *Adjuster) LastAdjustedTimestampUs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastUs == TimeUnset {
		return TimeUnset
	}
	return a.lastUs + a.offsetUs
}

// TimestampOffsetUs returns the resolved offset, or TimeUnset while it is
// still unresolved.
func (a *Adjuster) TimestampOffsetUs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offsetUs
}

func (a *Adjuster) resolveLocked(offsetUs int64) {
	a.offsetUs = offsetUs
	close(a.resolved)
}

// PtsToUs converts 90 kHz ticks to microseconds. The reduced ratio keeps
// the product in range for unwrapped tick counts far beyond the 33-bit
// space.
func PtsToUs(pts int64) int64 {
	return pts * 100 / 9
}

// UsToNonWrappedPts converts microseconds to 90 kHz ticks without wrapping.
func UsToNonWrappedPts(us int64) int64 {
	return us * 9 / 100
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
