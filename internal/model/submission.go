package model

// Stage enumerates the workflow stages. Exactly one stage is active at a
// time and it decides which entities are mutable.
type Stage string

const (
	StageSubmit    Stage = "submit"
	StageQuestions Stage = "questions"
	StageSubmitted Stage = "submitted"
)

// SubPhase tracks the progress of a repository submission attempt. It always
// returns to idle when the attempt concludes, success or failure.
type SubPhase string

const (
	SubPhaseIdle       SubPhase = "idle"
	SubPhaseVerifying  SubPhase = "verifying"
	SubPhaseGenerating SubPhase = "generating"
)

// Question is one generated comprehension question anchored to a code
// excerpt. Immutable once received.
type Question struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Excerpt   string `json:"excerpt"`
}

// Submission is one repository's generated question set plus its server-side
// identifier. At most one submission is active per user; it is discarded on
// reset or when a new repository submission starts.
type Submission struct {
	SubmissionID string     `json:"submission_id"`
	Status       string     `json:"status"`
	Questions    []Question `json:"questions"`
}

// QuestionIDs returns the question ids in submission order.
func (s *Submission) QuestionIDs() []string {
	ids := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}

// StartSubmissionRequest is the payload for starting a repository submission.
type StartSubmissionRequest struct {
	RepoURL string `json:"repo_url" binding:"required,max=300"`
}

// WorkflowEventRequest is the payload for integrity telemetry events.
// question_id is required for per-question events and ignored for focus_loss.
type WorkflowEventRequest struct {
	Type       string `json:"type" binding:"required,oneof=paste focus blur focus_loss"`
	QuestionID string `json:"question_id"`
}
