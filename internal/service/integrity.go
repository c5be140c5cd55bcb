package service

import "time"

// questionSignals holds the integrity telemetry for one question: paste
// attempts, the accumulated time from closed intervals, and the open timing
// interval, if any. Keeping them in one struct guarantees the three signals
// can never diverge onto different key sets.
type questionSignals struct {
	pasteAttempts int
	accumulated   time.Duration
	runningSince  *time.Time
}

// IntegrityRecorder tracks paste attempts, focus-loss events and per-question
// active time during the questions stage. It makes no remote calls and is not
// safe for concurrent use; the owning workflow serializes access.
//
// Accumulated time only ever increases: it grows by closing an open timing
// interval and is never decreased.
type IntegrityRecorder struct {
	signals   map[string]*questionSignals
	focusLoss int
	now       func() time.Time
}

// NewIntegrityRecorder creates a recorder with zeroed signals for the given
// question ids.
func NewIntegrityRecorder(questionIDs []string, now func() time.Time) *IntegrityRecorder {
	if now == nil {
		now = time.Now
	}
	signals := make(map[string]*questionSignals, len(questionIDs))
	for _, id := range questionIDs {
		signals[id] = &questionSignals{}
	}
	return &IntegrityRecorder{signals: signals, now: now}
}

// RecordPaste increments the paste counter for a question. This is telemetry
// only; rejecting the paste itself is the UI layer's job. Returns false for
// unknown question ids.
func (r *IntegrityRecorder) RecordPaste(questionID string) bool {
	s, ok := r.signals[questionID]
	if !ok {
		return false
	}
	s.pasteAttempts++
	return true
}

// StartTimer opens a timing interval for a question. Re-entering a question
// whose timer is already running is a no-op.
func (r *IntegrityRecorder) StartTimer(questionID string) {
	s, ok := r.signals[questionID]
	if !ok || s.runningSince != nil {
		return
	}
	t := r.now()
	s.runningSince = &t
}

// StopTimer closes the open timing interval for a question, folding the
// elapsed time into the accumulated total. Stopping a timer that is not
// running is a no-op.
func (r *IntegrityRecorder) StopTimer(questionID string) {
	s, ok := r.signals[questionID]
	if !ok || s.runningSince == nil {
		return
	}
	s.accumulated += r.now().Sub(*s.runningSince)
	s.runningSince = nil
}

// RecordFocusLoss increments the global focus-loss counter. The counter is
// shared across all questions.
func (r *IntegrityRecorder) RecordFocusLoss() {
	r.focusLoss++
}

// FocusLossCount returns the global focus-loss counter.
func (r *IntegrityRecorder) FocusLossCount() int {
	return r.focusLoss
}

// PasteAttempts returns the paste counter for one question.
func (r *IntegrityRecorder) PasteAttempts(questionID string) int {
	if s, ok := r.signals[questionID]; ok {
		return s.pasteAttempts
	}
	return 0
}

// PasteAttemptsByQuestion returns a copy of all paste counters.
func (r *IntegrityRecorder) PasteAttemptsByQuestion() map[string]int {
	out := make(map[string]int, len(r.signals))
	for id, s := range r.signals {
		out[id] = s.pasteAttempts
	}
	return out
}

// AccumulatedMs returns the closed-interval time for each question in
// milliseconds, excluding any interval still running. This is the value that
// gets persisted to the draft store.
func (r *IntegrityRecorder) AccumulatedMs() map[string]int64 {
	out := make(map[string]int64, len(r.signals))
	for id, s := range r.signals {
		out[id] = s.accumulated.Milliseconds()
	}
	return out
}

// EffectiveMs returns the time-spent snapshot used in the submitted payload:
// accumulated time plus the elapsed portion of any interval still running as
// of now. It does not mutate any timer, so calling it twice without new
// focus events yields the same values, and no value can be lower than the
// accumulated total.
func (r *IntegrityRecorder) EffectiveMs() map[string]int64 {
	now := r.now()
	out := make(map[string]int64, len(r.signals))
	for id, s := range r.signals {
		total := s.accumulated
		if s.runningSince != nil {
			total += now.Sub(*s.runningSince)
		}
		out[id] = total.Milliseconds()
	}
	return out
}

// RestoreAccumulated merges persisted time-spent values for known question
// ids. Restored values replace the zero seed, never an open interval.
func (r *IntegrityRecorder) RestoreAccumulated(timeSpentMs map[string]int64) {
	for id, ms := range timeSpentMs {
		if s, ok := r.signals[id]; ok && ms > 0 {
			s.accumulated = time.Duration(ms) * time.Millisecond
		}
	}
}
