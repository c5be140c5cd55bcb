package model

// Grade is the graded outcome for one submitted answer. Grades arrive
// asynchronously after batch submission and are immutable once received.
type Grade struct {
	AnswerID   string  `json:"answer_id"`
	Score      int     `json:"score"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// MaxScore is the per-answer score ceiling used for percentage reports.
const MaxScore = 5

// GradeReport is a display-only aggregate computed once all expected grades
// have arrived. It is never persisted.
type GradeReport struct {
	TotalScore    int     `json:"total_score"`
	MaxScore      int     `json:"max_score"`
	Percent       int     `json:"percent"`
	AvgConfidence int     `json:"avg_confidence"`
	Level         string  `json:"level"`
	Grades        []Grade `json:"grades"`
}

// GradingState reports poll progress to the UI. Exhausted polling is a
// terminal non-result, distinct from both an error and a completed report.
type GradingState struct {
	Pending   bool         `json:"pending"`
	Exhausted bool         `json:"exhausted"`
	Report    *GradeReport `json:"report,omitempty"`
}
