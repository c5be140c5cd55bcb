package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/model"
	"github.com/cqbot/cqbot-backend/internal/worker"
)

// Workflow errors surfaced to the transport layer. Remote failures carry the
// upstream message; everything else is local and never touches the network.
var (
	ErrInvalidRepoURL    = errors.New("invalid repository url")
	ErrWorkflowBusy      = errors.New("another attempt is already in flight")
	ErrStageConflict     = errors.New("operation not allowed in current stage")
	ErrUnknownQuestion   = errors.New("question does not belong to the active submission")
	ErrAttemptSuperseded = errors.New("attempt superseded by reset or new submission")
)

// repoURLPattern matches https://github.com/<owner>/<repo> with an optional
// trailing slash.
var repoURLPattern = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+/?$`)

// RemotePhase names the remote call a failure happened in.
type RemotePhase string

const (
	PhaseVerify   RemotePhase = "verify"
	PhaseGenerate RemotePhase = "generate"
	PhaseSubmit   RemotePhase = "submit"
)

// RemoteFailure wraps a failed remote operation with the message to surface
// to the stage the user is currently in.
type RemoteFailure struct {
	Phase   RemotePhase
	Message string
	Err     error
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
}

func (e *RemoteFailure) Unwrap() error { return e.Err }

// IncompleteAnswersError reports the question ids whose trimmed draft was
// empty at submission time, in submission order.
type IncompleteAnswersError struct {
	QuestionIDs []string
}

func (e *IncompleteAnswersError) Error() string {
	return fmt.Sprintf("%d answers are empty", len(e.QuestionIDs))
}

// RemoteWorkflowAPI is the slice of the upstream surface the workflow
// consumes. None of these calls are retried here: verification, generation
// and batch submission fail as a whole, and grade polling belongs to the
// GradePoller.
type RemoteWorkflowAPI interface {
	VerifyRepo(ctx context.Context, repoURL string) error
	CreateSubmission(ctx context.Context, repoURL string) (*model.Submission, error)
	SubmitAnswers(ctx context.Context, records []model.AnswerRecord) error
}

// DraftStore persists in-progress answers per user and repository URL.
// Implementations are best-effort caches; a load returning (nil, nil) is a
// plain miss.
type DraftStore interface {
	Save(ctx context.Context, login, repoURL string, rec *model.DraftRecord) error
	Load(ctx context.Context, login, repoURL string) (*model.DraftRecord, error)
	Clear(ctx context.Context, login, repoURL string) error
}

// Poller runs the bounded grade polling loop for a submitted batch and
// reports the terminal outcome through deliver.
type Poller interface {
	Start(ctx context.Context, submissionID string, expected int, deliver func(worker.Result)) context.CancelFunc
}

// EventType tags workflow events pushed to stream subscribers.
type EventType string

const (
	EventStage  EventType = "stage"
	EventGrades EventType = "grades"
)

// WorkflowEvent is pushed to subscribers on stage transitions and when the
// grade poll reaches its terminal outcome.
type WorkflowEvent struct {
	Type     EventType           `json:"type"`
	Stage    model.Stage         `json:"stage"`
	SubPhase model.SubPhase      `json:"sub_phase"`
	Grading  *model.GradingState `json:"grading,omitempty"`
}

// answerState is the mutable per-question state owned by the questions
// stage: the draft text and its invalid marker.
type answerState struct {
	draft   string
	invalid bool
}

// flowState is one user's workflow: the authoritative Stage value plus
// everything the active submission owns. All fields are guarded by mu;
// remote calls happen outside the lock with the in-flight flags set.
type flowState struct {
	mu sync.Mutex

	stage      model.Stage
	subPhase   model.SubPhase
	submitting bool
	// epoch invalidates in-flight attempts when a reset or a new submission
	// wins the race.
	epoch int

	repoURL    string
	submission *model.Submission
	answers    map[string]*answerState
	integrity  *IntegrityRecorder

	grades          []model.Grade
	gradesPending   bool
	gradesExhausted bool
	pollSubmission  string
	pollCancel      context.CancelFunc

	watchers      map[int]chan WorkflowEvent
	nextWatcherID int
}

// WorkflowService owns the submission/answering/grading state machine, one
// flow per user.
type WorkflowService struct {
	remote RemoteWorkflowAPI
	drafts DraftStore
	poller Poller
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	flows map[string]*flowState
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(remote RemoteWorkflowAPI, drafts DraftStore, poller Poller, log zerolog.Logger) *WorkflowService {
	return &WorkflowService{
		remote: remote,
		drafts: drafts,
		poller: poller,
		log:    log.With().Str("component", "workflow").Logger(),
		now:    time.Now,
		flows:  make(map[string]*flowState),
	}
}

// flow returns the user's flow, creating an idle one on first use.
func (s *WorkflowService) flow(login string) *flowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[login]
	if !ok {
		f = &flowState{
			stage:    model.StageSubmit,
			subPhase: model.SubPhaseIdle,
			watchers: make(map[int]chan WorkflowEvent),
		}
		s.flows[login] = f
	}
	return f
}

// StartSubmission drives the submit → questions transition: syntactic URL
// validation, remote verification, remote question generation, then seeding
// of drafts, integrity signals and timers for exactly the returned question
// ids. Any previously active submission is discarded first; any remote
// failure returns the flow to submit/idle with no partial state.
func (s *WorkflowService) StartSubmission(ctx context.Context, login, repoURL string) error {
	f := s.flow(login)

	f.mu.Lock()
	if f.subPhase != model.SubPhaseIdle || f.submitting {
		f.mu.Unlock()
		return ErrWorkflowBusy
	}
	if !repoURLPattern.MatchString(repoURL) {
		// Local validation failure: no remote call, stage unchanged.
		f.mu.Unlock()
		return ErrInvalidRepoURL
	}

	f.cancelPollLocked()
	f.discardSubmissionLocked()
	f.epoch++
	epoch := f.epoch
	f.repoURL = repoURL
	f.subPhase = model.SubPhaseVerifying
	f.mu.Unlock()
	s.emit(f, s.stageEvent(f))

	if err := s.remote.VerifyRepo(ctx, repoURL); err != nil {
		return s.failStart(f, epoch, PhaseVerify, err)
	}

	if !s.advanceSubPhase(f, epoch, model.SubPhaseGenerating) {
		return ErrAttemptSuperseded
	}

	sub, err := s.remote.CreateSubmission(ctx, repoURL)
	if err != nil {
		return s.failStart(f, epoch, PhaseGenerate, err)
	}

	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return ErrAttemptSuperseded
	}
	f.submission = sub
	f.answers = make(map[string]*answerState, len(sub.Questions))
	for _, q := range sub.Questions {
		f.answers[q.ID] = &answerState{}
	}
	f.integrity = NewIntegrityRecorder(sub.QuestionIDs(), s.now)
	f.stage = model.StageQuestions
	f.subPhase = model.SubPhaseIdle
	f.mu.Unlock()

	s.restoreDrafts(ctx, login, f, epoch, repoURL)
	s.emit(f, s.stageEvent(f))
	s.log.Info().Str("login", login).Str("repo_url", repoURL).
		Int("questions", len(sub.Questions)).Msg("Submission created")
	return nil
}

// restoreDrafts merges a persisted draft record into the freshly seeded
// flow. Only keys belonging to the active question set are applied, so a
// stale record can never grow the maps past the submission.
func (s *WorkflowService) restoreDrafts(ctx context.Context, login string, f *flowState, epoch int, repoURL string) {
	rec, err := s.drafts.Load(ctx, login, repoURL)
	if err != nil {
		s.log.Warn().Err(err).Str("login", login).Msg("Draft load failed, starting clean")
		return
	}
	if rec == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch || f.stage != model.StageQuestions {
		return
	}
	for id, text := range rec.Answers {
		if a, ok := f.answers[id]; ok {
			a.draft = text
		}
	}
	f.integrity.RestoreAccumulated(rec.TimeSpent)
}

// failStart concludes a failed submission attempt: back to submit/idle with
// nothing retained from the attempt.
func (s *WorkflowService) failStart(f *flowState, epoch int, phase RemotePhase, err error) error {
	f.mu.Lock()
	if f.epoch == epoch {
		f.subPhase = model.SubPhaseIdle
	}
	f.mu.Unlock()
	s.emit(f, s.stageEvent(f))
	return &RemoteFailure{Phase: phase, Message: remoteMessage(err), Err: err}
}

// advanceSubPhase moves a live attempt to the next sub-phase. Returns false
// when the attempt has been superseded.
func (s *WorkflowService) advanceSubPhase(f *flowState, epoch int, phase model.SubPhase) bool {
	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return false
	}
	f.subPhase = phase
	f.mu.Unlock()
	s.emit(f, s.stageEvent(f))
	return true
}

// EditAnswer overwrites the draft for a question and clears its invalid
// marker. The updated record is persisted fire-and-forget.
func (s *WorkflowService) EditAnswer(ctx context.Context, login, questionID, text string) error {
	f := s.flow(login)

	f.mu.Lock()
	if f.stage != model.StageQuestions {
		f.mu.Unlock()
		return ErrStageConflict
	}
	a, ok := f.answers[questionID]
	if !ok {
		f.mu.Unlock()
		return ErrUnknownQuestion
	}
	a.draft = text
	a.invalid = false
	rec := f.draftRecordLocked()
	repoURL := f.repoURL
	f.mu.Unlock()

	s.persistDrafts(ctx, login, repoURL, rec)
	return nil
}

// RecordPaste increments a question's paste counter. Telemetry only; the UI
// layer rejects the paste action itself.
func (s *WorkflowService) RecordPaste(ctx context.Context, login, questionID string) error {
	f := s.flow(login)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stage != model.StageQuestions {
		return ErrStageConflict
	}
	if !f.integrity.RecordPaste(questionID) {
		return ErrUnknownQuestion
	}
	return nil
}

// QuestionFocused starts the question's active timer. Idempotent against
// repeated focus events.
func (s *WorkflowService) QuestionFocused(ctx context.Context, login, questionID string) error {
	f := s.flow(login)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stage != model.StageQuestions {
		return ErrStageConflict
	}
	if _, ok := f.answers[questionID]; !ok {
		return ErrUnknownQuestion
	}
	f.integrity.StartTimer(questionID)
	return nil
}

// QuestionBlurred stops the question's active timer, folding the elapsed
// time into its accumulated total, and persists the updated record.
// Idempotent against repeated blur events.
func (s *WorkflowService) QuestionBlurred(ctx context.Context, login, questionID string) error {
	f := s.flow(login)

	f.mu.Lock()
	if f.stage != model.StageQuestions {
		f.mu.Unlock()
		return ErrStageConflict
	}
	if _, ok := f.answers[questionID]; !ok {
		f.mu.Unlock()
		return ErrUnknownQuestion
	}
	f.integrity.StopTimer(questionID)
	rec := f.draftRecordLocked()
	repoURL := f.repoURL
	f.mu.Unlock()

	s.persistDrafts(ctx, login, repoURL, rec)
	return nil
}

// RecordFocusLoss increments the global focus-loss counter. Outside the
// questions stage there is nothing to record and the event is dropped.
func (s *WorkflowService) RecordFocusLoss(ctx context.Context, login string) error {
	f := s.flow(login)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stage != model.StageQuestions {
		return nil
	}
	f.integrity.RecordFocusLoss()
	return nil
}

// SubmitAnswers drives the questions → submitted transition: the
// empty-answer precondition, the effective time-spent snapshot, the ordered
// all-or-nothing batch call, then draft-cache clearing and grade polling.
// On remote failure the flow stays in questions with every draft intact.
func (s *WorkflowService) SubmitAnswers(ctx context.Context, login string) error {
	f := s.flow(login)

	f.mu.Lock()
	if f.stage != model.StageQuestions {
		f.mu.Unlock()
		return ErrStageConflict
	}
	if f.submitting {
		f.mu.Unlock()
		return ErrWorkflowBusy
	}

	var emptyIDs []string
	for _, q := range f.submission.Questions {
		if strings.TrimSpace(f.answers[q.ID].draft) == "" {
			emptyIDs = append(emptyIDs, q.ID)
		}
	}
	if len(emptyIDs) > 0 {
		// Mark exactly the offending ids; no remote call.
		marked := make(map[string]bool, len(emptyIDs))
		for _, id := range emptyIDs {
			marked[id] = true
		}
		for id, a := range f.answers {
			a.invalid = marked[id]
		}
		f.mu.Unlock()
		return &IncompleteAnswersError{QuestionIDs: emptyIDs}
	}

	// Fold running timers into the payload snapshot without mutating the
	// stored timer state.
	effective := f.integrity.EffectiveMs()
	focusLoss := f.integrity.FocusLossCount()

	records := make([]model.AnswerRecord, len(f.submission.Questions))
	for i, q := range f.submission.Questions {
		records[i] = model.AnswerRecord{
			SubmissionID:   f.submission.SubmissionID,
			QuestionID:     q.ID,
			AnswerText:     f.answers[q.ID].draft,
			TimeSpentMs:    effective[q.ID],
			PasteAttempts:  f.integrity.PasteAttempts(q.ID),
			FocusLossCount: focusLoss,
			TypingStats:    nil,
		}
	}

	f.submitting = true
	epoch := f.epoch
	repoURL := f.repoURL
	submissionID := f.submission.SubmissionID
	f.mu.Unlock()

	err := s.remote.SubmitAnswers(ctx, records)

	f.mu.Lock()
	f.submitting = false
	if f.epoch != epoch {
		f.mu.Unlock()
		return ErrAttemptSuperseded
	}
	if err != nil {
		f.mu.Unlock()
		return &RemoteFailure{Phase: PhaseSubmit, Message: remoteMessage(err), Err: err}
	}

	f.stage = model.StageSubmitted
	f.grades = nil
	f.gradesPending = true
	f.gradesExhausted = false
	f.pollSubmission = submissionID
	f.pollCancel = s.poller.Start(context.Background(), submissionID, len(records), func(res worker.Result) {
		s.applyPollResult(login, res)
	})
	f.mu.Unlock()

	// Batch accepted: this is the moment the draft cache entry goes away.
	if err := s.drafts.Clear(ctx, login, repoURL); err != nil {
		s.log.Warn().Err(err).Str("login", login).Msg("Draft clear failed")
	}
	s.emit(f, s.stageEvent(f))
	s.log.Info().Str("login", login).Str("submission_id", submissionID).
		Int("answers", len(records)).Msg("Answer batch submitted")
	return nil
}

// applyPollResult lands a terminal poll outcome on the flow. Results for a
// submission that is no longer the active one are dropped without effect.
func (s *WorkflowService) applyPollResult(login string, res worker.Result) {
	f := s.flow(login)

	f.mu.Lock()
	if f.stage != model.StageSubmitted || f.pollSubmission != res.SubmissionID {
		f.mu.Unlock()
		s.log.Debug().Str("login", login).Str("submission_id", res.SubmissionID).
			Msg("Dropping stale poll result")
		return
	}
	f.gradesPending = false
	f.pollCancel = nil
	if res.Exhausted {
		f.gradesExhausted = true
	} else {
		f.grades = res.Grades
	}
	grading := f.gradingStateLocked()
	f.mu.Unlock()

	s.emit(f, WorkflowEvent{Type: EventGrades, Stage: model.StageSubmitted, SubPhase: model.SubPhaseIdle, Grading: grading})
}

// Reset transitions the flow from any state back to submit, clearing the
// submission, drafts (memory and store) and integrity signals, and
// abandoning any outstanding grade poll.
func (s *WorkflowService) Reset(ctx context.Context, login string) error {
	f := s.flow(login)

	f.mu.Lock()
	f.cancelPollLocked()
	repoURL := f.repoURL
	f.epoch++
	f.discardSubmissionLocked()
	f.mu.Unlock()

	if repoURL != "" {
		if err := s.drafts.Clear(ctx, login, repoURL); err != nil {
			s.log.Warn().Err(err).Str("login", login).Msg("Draft clear failed")
		}
	}
	s.emit(f, s.stageEvent(f))
	return nil
}

// Drop performs a full reset and forgets the flow entirely. Used on logout.
func (s *WorkflowService) Drop(ctx context.Context, login string) {
	_ = s.Reset(ctx, login)
	s.mu.Lock()
	delete(s.flows, login)
	s.mu.Unlock()
}

// Snapshot returns a read-only view of the user's workflow state.
func (s *WorkflowService) Snapshot(login string) model.WorkflowSnapshot {
	f := s.flow(login)
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := model.WorkflowSnapshot{
		Stage:    f.stage,
		SubPhase: f.subPhase,
		RepoURL:  f.repoURL,
	}
	if f.submission == nil {
		return snap
	}

	snap.Submission = f.submission
	snap.Answers = make(map[string]string, len(f.answers))
	for id, a := range f.answers {
		snap.Answers[id] = a.draft
		if a.invalid {
			snap.InvalidQuestionIDs = append(snap.InvalidQuestionIDs, id)
		}
	}
	snap.PasteAttempts = f.integrity.PasteAttemptsByQuestion()
	snap.TimeSpentMs = f.integrity.AccumulatedMs()
	snap.FocusLossCount = f.integrity.FocusLossCount()
	snap.Grading = f.gradingStateLocked()
	return snap
}

// Subscribe registers a watcher for the user's workflow events. The
// returned cancel function must be called to release the channel. Events
// are dropped rather than blocking a slow consumer.
func (s *WorkflowService) Subscribe(login string) (<-chan WorkflowEvent, func()) {
	f := s.flow(login)

	f.mu.Lock()
	id := f.nextWatcherID
	f.nextWatcherID++
	ch := make(chan WorkflowEvent, 8)
	f.watchers[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		if _, ok := f.watchers[id]; ok {
			delete(f.watchers, id)
			close(ch)
		}
		f.mu.Unlock()
	}
}

// discardSubmissionLocked returns the flow to a clean submit stage. The
// caller holds f.mu and has already handled poll cancellation.
func (f *flowState) discardSubmissionLocked() {
	f.stage = model.StageSubmit
	f.subPhase = model.SubPhaseIdle
	f.submitting = false
	f.repoURL = ""
	f.submission = nil
	f.answers = nil
	f.integrity = nil
	f.grades = nil
	f.gradesPending = false
	f.gradesExhausted = false
	f.pollSubmission = ""
}

// cancelPollLocked abandons any outstanding grade poll.
func (f *flowState) cancelPollLocked() {
	if f.pollCancel != nil {
		f.pollCancel()
		f.pollCancel = nil
	}
	f.pollSubmission = ""
}

// draftRecordLocked builds the persistable draft record from current state.
func (f *flowState) draftRecordLocked() *model.DraftRecord {
	rec := &model.DraftRecord{
		Answers:   make(map[string]string, len(f.answers)),
		TimeSpent: f.integrity.AccumulatedMs(),
	}
	for id, a := range f.answers {
		rec.Answers[id] = a.draft
	}
	return rec
}

// gradingStateLocked reports poll progress; nil outside the submitted stage.
func (f *flowState) gradingStateLocked() *model.GradingState {
	if f.stage != model.StageSubmitted {
		return nil
	}
	state := &model.GradingState{
		Pending:   f.gradesPending,
		Exhausted: f.gradesExhausted,
	}
	if !f.gradesPending && len(f.grades) > 0 {
		state.Report = BuildGradeReport(f.grades)
	}
	return state
}

func (s *WorkflowService) persistDrafts(ctx context.Context, login, repoURL string, rec *model.DraftRecord) {
	if err := s.drafts.Save(ctx, login, repoURL, rec); err != nil {
		s.log.Warn().Err(err).Str("login", login).Msg("Draft save failed")
	}
}

func (s *WorkflowService) stageEvent(f *flowState) WorkflowEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WorkflowEvent{Type: EventStage, Stage: f.stage, SubPhase: f.subPhase, Grading: f.gradingStateLocked()}
}

func (s *WorkflowService) emit(f *flowState, ev WorkflowEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.watchers {
		select {
		case ch <- ev:
		default: // Slow consumer, drop.
		}
	}
}

// remoteMessage extracts the message to surface for a failed remote call.
func remoteMessage(err error) string {
	var ue interface{ UpstreamMessage() string }
	if errors.As(err, &ue) {
		return ue.UpstreamMessage()
	}
	return err.Error()
}
