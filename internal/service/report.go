package service

import (
	"math"

	"github.com/cqbot/cqbot-backend/internal/model"
)

// Qualitative level buckets by score percentage.
const (
	LevelExcellent        = "Excellent"
	LevelGood             = "Good"
	LevelNeedsImprovement = "Needs Improvement"
	LevelInsufficient     = "Insufficient"
)

// BuildGradeReport aggregates a complete grade set into the display-only
// report: score percentage, average grading confidence and a qualitative
// level. Returns nil until at least one grade exists.
func BuildGradeReport(grades []model.Grade) *model.GradeReport {
	if len(grades) == 0 {
		return nil
	}

	total := 0
	confidence := 0.0
	for _, g := range grades {
		total += g.Score
		confidence += g.Confidence
	}

	maxScore := len(grades) * model.MaxScore
	pct := int(math.Round(float64(total) / float64(maxScore) * 100))
	avgConfidence := int(math.Round(confidence / float64(len(grades)) * 100))

	return &model.GradeReport{
		TotalScore:    total,
		MaxScore:      maxScore,
		Percent:       pct,
		AvgConfidence: avgConfidence,
		Level:         levelFor(pct),
		Grades:        grades,
	}
}

func levelFor(pct int) string {
	switch {
	case pct >= 80:
		return LevelExcellent
	case pct >= 60:
		return LevelGood
	case pct >= 40:
		return LevelNeedsImprovement
	default:
		return LevelInsufficient
	}
}
