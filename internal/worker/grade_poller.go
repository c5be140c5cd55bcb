package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/model"
)

// Polling policy for grade availability. The delays and attempt ceiling are
// part of the workflow contract, not tuning knobs, so they are constants
// rather than configuration.
const (
	InitialDelay = 3000 * time.Millisecond
	RetryDelay   = 2000 * time.Millisecond
	MaxAttempts  = 60
)

// GradeSource queries remote grades for a submission.
type GradeSource interface {
	Grades(ctx context.Context, submissionID string) ([]model.Grade, error)
}

// Result is the single terminal outcome of one polling run. Either Grades
// holds the full set, or Exhausted is true and grading is still in progress
// upstream — an exhausted run is not an error.
type Result struct {
	SubmissionID string
	Grades       []model.Grade
	Exhausted    bool
}

// GradePoller runs one bounded polling loop per submitted answer batch.
// A run is finite and not restartable; cancelling it abandons all
// outstanding and future attempts for that submission id.
type GradePoller struct {
	src GradeSource
	log zerolog.Logger

	// Overridable in tests; production runs use the package constants.
	initialDelay time.Duration
	retryDelay   time.Duration
	maxAttempts  int
}

// NewGradePoller creates a new GradePoller.
func NewGradePoller(src GradeSource, log zerolog.Logger) *GradePoller {
	return &GradePoller{
		src:          src,
		log:          log.With().Str("component", "grade_poller").Logger(),
		initialDelay: InitialDelay,
		retryDelay:   RetryDelay,
		maxAttempts:  MaxAttempts,
	}
}

// Start begins polling for a submission in its own goroutine and returns a
// cancel function. deliver is invoked at most once, from the polling
// goroutine, with the terminal Result; it is never invoked after cancel.
// The receiver of deliver must re-validate that the submission id is still
// the active one before applying the result.
func (p *GradePoller) Start(ctx context.Context, submissionID string, expected int, deliver func(Result)) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go p.run(ctx, submissionID, expected, deliver)
	return cancel
}

func (p *GradePoller) run(ctx context.Context, submissionID string, expected int, deliver func(Result)) {
	log := p.log.With().Str("submission_id", submissionID).Logger()
	log.Info().Int("expected", expected).Msg("Polling started")

	if !sleepCtx(ctx, p.initialDelay) {
		log.Debug().Msg("Polling cancelled before first attempt")
		return
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		grades, err := p.src.Grades(ctx, submissionID)
		if ctx.Err() != nil {
			log.Debug().Int("attempt", attempt).Msg("Polling cancelled")
			return
		}

		switch {
		case err == nil && len(grades) >= expected:
			log.Info().Int("attempt", attempt).Int("grades", len(grades)).Msg("All grades received")
			deliver(Result{SubmissionID: submissionID, Grades: grades})
			return
		case err != nil:
			// A transient query failure is treated identically to an
			// incomplete result: retry after the same delay.
			log.Debug().Err(err).Int("attempt", attempt).Msg("Grade query failed")
		default:
			log.Debug().Int("attempt", attempt).Int("grades", len(grades)).Msg("Grades incomplete")
		}

		if attempt == p.maxAttempts {
			break
		}
		if !sleepCtx(ctx, p.retryDelay) {
			log.Debug().Int("attempt", attempt).Msg("Polling cancelled")
			return
		}
	}

	log.Warn().Int("attempts", p.maxAttempts).Msg("Polling exhausted, grading still in progress")
	deliver(Result{SubmissionID: submissionID, Exhausted: true})
}

// sleepCtx waits for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
