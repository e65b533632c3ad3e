// Package timeline turns per-turn timing evidence into segment boundaries
// on the full conversation recording.
package timeline

import (
	"math"
	"time"

	"voice-turns-go/internal/types"
)

// DefaultTailMs is the length given to a last turn that carries no timing evidence.
const DefaultTailMs int64 = 2000

// Calculator computes segments relative to a conversation anchor.
type Calculator struct {
	// TailMs is used for a trailing turn with no evidence. Zero means DefaultTailMs.
	TailMs int64
}

// Compute returns one segment per turn, in input order.
//
// Explicit bounds are used verbatim. A measured duration starts at the
// turn's offset from anchor. A turn without evidence runs until the next
// turn's offset, or for the tail length when it is last.
func (c Calculator) Compute(turns []types.Turn, anchor time.Time) []types.Segment {
	if len(turns) == 0 {
		return nil
	}
	tail := c.TailMs
	if tail <= 0 {
		tail = DefaultTailMs
	}
	segs := make([]types.Segment, 0, len(turns))
	for i, t := range turns {
		seg := types.Segment{
			TurnNumber: t.TurnNumber,
			Speaker:    t.Speaker,
			Source:     t.Timing.Kind(),
		}
		switch t.Timing.Kind() {
		case types.EvidenceExplicitBounds:
			seg.StartMs, seg.EndMs, _ = t.Timing.Bounds()
		case types.EvidenceMeasuredDuration:
			secs, _ := t.Timing.Duration()
			seg.StartMs = offsetMs(t.Timestamp, anchor)
			seg.EndMs = seg.StartMs + int64(math.Round(secs*1000))
		default:
			seg.StartMs = offsetMs(t.Timestamp, anchor)
			if i+1 < len(turns) {
				seg.EndMs = max(offsetMs(turns[i+1].Timestamp, anchor), seg.StartMs)
			} else {
				seg.EndMs = seg.StartMs + tail
			}
		}
		seg.DurationMs = seg.EndMs - seg.StartMs
		segs = append(segs, seg)
	}
	return segs
}

// offsetMs is ts-anchor clamped at zero. An unparsed (zero) timestamp sits on the anchor.
func offsetMs(ts, anchor time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return max(ts.Sub(anchor).Milliseconds(), 0)
}

// Compute is Calculator{}.Compute.
func Compute(turns []types.Turn, anchor time.Time) []types.Segment {
	return Calculator{}.Compute(turns, anchor)
}
