package model

import "encoding/json"

// AnswerRecord is one entry of the batch sent to the grading service.
// The batch is all-or-nothing: either every record is accepted or the call
// fails as a whole. Wire names follow the upstream API.
type AnswerRecord struct {
	SubmissionID   string          `json:"submission_id"`
	QuestionID     string          `json:"question_id"`
	AnswerText     string          `json:"answer_text"`
	TimeSpentMs    int64           `json:"time_spent_ms"`
	PasteAttempts  int             `json:"paste_attempts"`
	FocusLossCount int             `json:"focus_loss_count"`
	TypingStats    json.RawMessage `json:"typing_stats"`
}

// DraftRecord is the persisted shape of in-progress work for one repository
// URL: answer text and accumulated time per question id. It is a best-effort
// cache, never a source of truth; corrupt entries are discarded.
type DraftRecord struct {
	Answers   map[string]string `json:"answers"`
	TimeSpent map[string]int64  `json:"time_spent"`
}

// EditAnswerRequest is the payload for overwriting one draft answer.
type EditAnswerRequest struct {
	Text string `json:"text"`
}
