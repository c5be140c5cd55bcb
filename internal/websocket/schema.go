package websocket

import "github.com/cqbot/cqbot-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionEdit      Action = "edit"
	ActionPaste     Action = "paste"
	ActionFocus     Action = "focus"
	ActionBlur      Action = "blur"
	ActionFocusLoss Action = "focus_loss"
	ActionPing      Action = "ping"
)

// Request carries every client action. question_id is set for the
// per-question actions, text only for edit.
type Request struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Text       string `json:"text,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventGraded Event = "graded"
	EventError  Event = "error"
	EventPong   Event = "pong"
)

// StateResponse announces a stage or sub-phase transition.
type StateResponse struct {
	Event    Event          `json:"event"`
	Stage    model.Stage    `json:"stage"`
	SubPhase model.SubPhase `json:"sub_phase"`
}

// GradedResponse delivers the terminal grading outcome.
type GradedResponse struct {
	Event   Event               `json:"event"`
	Grading *model.GradingState `json:"grading"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
