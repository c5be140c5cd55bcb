package model

// WorkflowSnapshot is a read-only view of one user's workflow state,
// assembled under the workflow lock and safe to serialize after release.
type WorkflowSnapshot struct {
	Stage              Stage             `json:"stage"`
	SubPhase           SubPhase          `json:"sub_phase"`
	RepoURL            string            `json:"repo_url,omitempty"`
	Submission         *Submission       `json:"submission,omitempty"`
	Answers            map[string]string `json:"answers,omitempty"`
	InvalidQuestionIDs []string          `json:"invalid_question_ids,omitempty"`
	PasteAttempts      map[string]int    `json:"paste_attempts,omitempty"`
	TimeSpentMs        map[string]int64  `json:"time_spent_ms,omitempty"`
	FocusLossCount     int               `json:"focus_loss_count"`
	Grading            *GradingState     `json:"grading,omitempty"`
}
