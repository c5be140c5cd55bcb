package service

import (
	"testing"
	"time"
)

// testClock is a manually advanced clock for deterministic timer tests.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestIntegrityRecorderPasteCounting(t *testing.T) {
	r := NewIntegrityRecorder([]string{"q1", "q2"}, nil)

	if !r.RecordPaste("q1") {
		t.Fatal("RecordPaste(q1) = false, want true")
	}
	r.RecordPaste("q1")
	r.RecordPaste("q2")

	if got := r.PasteAttempts("q1"); got != 2 {
		t.Errorf("PasteAttempts(q1) = %d, want 2", got)
	}
	if got := r.PasteAttempts("q2"); got != 1 {
		t.Errorf("PasteAttempts(q2) = %d, want 1", got)
	}
	if r.RecordPaste("q9") {
		t.Error("RecordPaste(q9) = true for unknown question, want false")
	}
}

func TestIntegrityRecorderTimerFold(t *testing.T) {
	clock := newTestClock()
	r := NewIntegrityRecorder([]string{"q1"}, clock.Now)

	r.StartTimer("q1")
	clock.Advance(5 * time.Second)
	r.StopTimer("q1")

	if got := r.AccumulatedMs()["q1"]; got != 5000 {
		t.Fatalf("AccumulatedMs after one interval = %d, want 5000", got)
	}

	// Repeated blur must not fold the same interval twice.
	clock.Advance(3 * time.Second)
	r.StopTimer("q1")
	if got := r.AccumulatedMs()["q1"]; got != 5000 {
		t.Errorf("AccumulatedMs after double stop = %d, want 5000", got)
	}

	// A second interval accumulates onto the first.
	r.StartTimer("q1")
	clock.Advance(2 * time.Second)
	r.StopTimer("q1")
	if got := r.AccumulatedMs()["q1"]; got != 7000 {
		t.Errorf("AccumulatedMs after second interval = %d, want 7000", got)
	}
}

func TestIntegrityRecorderRepeatedFocusKeepsOriginalStart(t *testing.T) {
	clock := newTestClock()
	r := NewIntegrityRecorder([]string{"q1"}, clock.Now)

	r.StartTimer("q1")
	clock.Advance(4 * time.Second)
	// A duplicate focus event must not restart the interval.
	r.StartTimer("q1")
	clock.Advance(1 * time.Second)
	r.StopTimer("q1")

	if got := r.AccumulatedMs()["q1"]; got != 5000 {
		t.Errorf("AccumulatedMs = %d, want 5000", got)
	}
}

func TestIntegrityRecorderEffectiveMsIsIdempotent(t *testing.T) {
	clock := newTestClock()
	r := NewIntegrityRecorder([]string{"q1", "q2"}, clock.Now)

	r.StartTimer("q1")
	clock.Advance(10 * time.Second)
	r.StopTimer("q1")
	r.StartTimer("q2")
	clock.Advance(4 * time.Second)

	first := r.EffectiveMs()
	second := r.EffectiveMs()

	if first["q1"] != 10000 || first["q2"] != 4000 {
		t.Fatalf("EffectiveMs = %v, want q1=10000 q2=4000", first)
	}
	for id := range first {
		if first[id] != second[id] {
			t.Errorf("EffectiveMs changed between calls for %s: %d then %d", id, first[id], second[id])
		}
	}

	// The open interval must stay open: no fold happened.
	if got := r.AccumulatedMs()["q2"]; got != 0 {
		t.Errorf("AccumulatedMs(q2) = %d after EffectiveMs, want 0 (interval still open)", got)
	}
}

func TestIntegrityRecorderRestoreAccumulated(t *testing.T) {
	r := NewIntegrityRecorder([]string{"q1", "q2"}, nil)

	r.RestoreAccumulated(map[string]int64{
		"q1":      12000,
		"q2":      0,
		"unknown": 9000,
	})

	got := r.AccumulatedMs()
	if got["q1"] != 12000 {
		t.Errorf("AccumulatedMs(q1) = %d, want 12000", got["q1"])
	}
	if got["q2"] != 0 {
		t.Errorf("AccumulatedMs(q2) = %d, want 0", got["q2"])
	}
	if _, ok := got["unknown"]; ok {
		t.Error("restore grew the question set with an unknown id")
	}
}

func TestIntegrityRecorderFocusLossIsGlobal(t *testing.T) {
	r := NewIntegrityRecorder([]string{"q1", "q2"}, nil)

	r.RecordFocusLoss()
	r.RecordFocusLoss()
	r.RecordFocusLoss()

	if got := r.FocusLossCount(); got != 3 {
		t.Errorf("FocusLossCount = %d, want 3", got)
	}
}
