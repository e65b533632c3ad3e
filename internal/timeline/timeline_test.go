package timeline

import (
	"strconv"
	"testing"
	"time"

	"voice-turns-go/internal/types"
)

var t0 = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)

func ptrI(v int64) *int64     { return &v }
func ptrF(v float64) *float64 { return &v }

func at(ms int64) string {
	return t0.Add(time.Duration(ms) * time.Millisecond).Format(time.RFC3339Nano)
}

func resolve(recs []types.TurnRecord) []types.Turn {
	out := make([]types.Turn, len(recs))
	for i, r := range recs {
		out[i] = r.Turn()
	}
	return out
}

func TestComputeEmpty(t *testing.T) {
	if got := Compute(nil, t0); len(got) != 0 {
		t.Fatalf("Compute(nil) = %v, want empty", got)
	}
}

func TestComputeMeasuredDuration(t *testing.T) {
	segs := Compute(resolve([]types.TurnRecord{
		{TurnNumber: 1, Speaker: "agent", Timestamp: at(2500), DurationSec: ptrF(1.8)},
		{TurnNumber: 2, Speaker: "user", Timestamp: at(5000), DurationSec: ptrF(2.3)},
	}), t0)

	want := [][3]int64{{2500, 4300, 1800}, {5000, 7300, 2300}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i, w := range want {
		s := segs[i]
		if s.StartMs != w[0] || s.EndMs != w[1] || s.DurationMs != w[2] {
			t.Errorf("segment %d = {%d,%d,%d}, want %v", i, s.StartMs, s.EndMs, s.DurationMs, w)
		}
	}
}

func TestComputeNoEvidence(t *testing.T) {
	segs := Compute(resolve([]types.TurnRecord{
		{TurnNumber: 1, Timestamp: at(1000)},
		{TurnNumber: 2, Timestamp: at(4000)},
		{TurnNumber: 3, Timestamp: at(7000)},
	}), t0)

	want := []int64{3000, 3000, 2000}
	for i, w := range want {
		if segs[i].DurationMs != w {
			t.Errorf("segment %d duration = %d, want %d", i, segs[i].DurationMs, w)
		}
	}
	if segs[0].EndMs != segs[1].StartMs {
		t.Errorf("segment 0 end %d != segment 1 start %d", segs[0].EndMs, segs[1].StartMs)
	}
}

func TestComputeExplicitBoundsNotBlended(t *testing.T) {
	segs := Compute(resolve([]types.TurnRecord{
		{TurnNumber: 1, Timestamp: at(9000), BeginMs: ptrI(120), EndMs: ptrI(980), DurationSec: ptrF(30)},
		{TurnNumber: 2, Timestamp: at(9500)},
	}), t0)

	if segs[0].StartMs != 120 || segs[0].EndMs != 980 || segs[0].DurationMs != 860 {
		t.Fatalf("explicit bounds segment = %+v", segs[0])
	}
	if segs[0].Source != types.EvidenceExplicitBounds {
		t.Errorf("source = %v, want explicit_bounds", segs[0].Source)
	}
}

func TestComputeCustomTail(t *testing.T) {
	segs := Calculator{TailMs: 750}.Compute(resolve([]types.TurnRecord{
		{TurnNumber: 1, Timestamp: at(100)},
	}), t0)
	if segs[0].DurationMs != 750 {
		t.Fatalf("tail duration = %d, want 750", segs[0].DurationMs)
	}
}

func TestComputeClampsBeforeAnchor(t *testing.T) {
	segs := Compute(resolve([]types.TurnRecord{
		{TurnNumber: 1, Timestamp: at(-3000), DurationSec: ptrF(1)},
		{TurnNumber: 2, Timestamp: "garbage"},
	}), t0)
	if segs[0].StartMs != 0 || segs[0].EndMs != 1000 {
		t.Errorf("pre-anchor turn = %+v, want {0,1000}", segs[0])
	}
	if segs[1].StartMs != 0 || segs[1].DurationMs != DefaultTailMs {
		t.Errorf("unparsable turn = %+v", segs[1])
	}
}

func TestComputeInvariants(t *testing.T) {
	// Out-of-order and mixed evidence must still satisfy the segment invariants.
	recs := []types.TurnRecord{
		{TurnNumber: 1, Timestamp: at(8000)},
		{TurnNumber: 2, Timestamp: at(3000)},
		{TurnNumber: 3, Timestamp: at(3000), DurationSec: ptrF(0.0004)},
		{TurnNumber: 4, Timestamp: at(2000), BeginMs: ptrI(50), EndMs: ptrI(40)},
		{TurnNumber: 5, Timestamp: strconv.FormatInt(t0.Add(12*time.Second).UnixMilli(), 10)},
	}
	segs := Compute(resolve(recs), t0)
	if len(segs) != len(recs) {
		t.Fatalf("got %d segments, want %d", len(segs), len(recs))
	}
	for i, s := range segs {
		if s.TurnNumber != recs[i].TurnNumber {
			t.Errorf("segment %d turn = %d, want %d", i, s.TurnNumber, recs[i].TurnNumber)
		}
		if s.StartMs < 0 || s.EndMs < s.StartMs || s.DurationMs != s.EndMs-s.StartMs {
			t.Errorf("segment %d violates invariants: %+v", i, s)
		}
	}
	if segs[3].Source != types.EvidenceNone {
		t.Errorf("inverted bounds should resolve to none, got %v", segs[3].Source)
	}
	if segs[4].StartMs != 12000 {
		t.Errorf("epoch-ms timestamp start = %d, want 12000", segs[4].StartMs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		turns  []types.TurnRecord
		issues []int
	}{
		{
			name:  "empty",
			turns: nil,
		},
		{
			name: "increasing",
			turns: []types.TurnRecord{
				{TurnNumber: 1, Timestamp: at(0)},
				{TurnNumber: 2, Timestamp: at(10)},
			},
		},
		{
			name: "equal and decreasing",
			turns: []types.TurnRecord{
				{TurnNumber: 1, Timestamp: at(500)},
				{TurnNumber: 2, Timestamp: at(500)},
				{TurnNumber: 3, Timestamp: at(100)},
				{TurnNumber: 4, Timestamp: at(900)},
			},
			issues: []int{2, 3},
		},
		{
			name: "unparsable",
			turns: []types.TurnRecord{
				{TurnNumber: 1, Timestamp: at(0)},
				{TurnNumber: 2, Timestamp: "yesterday"},
				{TurnNumber: 3, Timestamp: at(50)},
			},
			issues: []int{2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.turns)
			if r.Valid != (len(tt.issues) == 0) {
				t.Errorf("Valid = %v, issues = %+v", r.Valid, r.Issues)
			}
			if len(r.Issues) != len(tt.issues) {
				t.Fatalf("got %d issues %+v, want turns %v", len(r.Issues), r.Issues, tt.issues)
			}
			for i, n := range tt.issues {
				if r.Issues[i].TurnNumber != n {
					t.Errorf("issue %d turn = %d, want %d", i, r.Issues[i].TurnNumber, n)
				}
			}
		})
	}
}
