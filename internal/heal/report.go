package heal

import (
	"time"

	"healbot/internal/models"
)

const (
	scoreBase           = 100
	speedBonusThreshold = 300 * time.Second
	speedBonusPoints    = 10
	penaltyFreeCommits  = 20
	penaltyPerCommit    = 2
)

// finalize stamps totals and the score breakdown onto the report.
func (l *Loop) finalize(st *runState) *models.RunReport {
	elapsed := l.now().Sub(st.started)
	st.report.TotalTimeSeconds = elapsed.Seconds()
	st.report.Score = ComputeScore(elapsed, st.commitsMade)
	if st.report.Fixes == nil {
		st.report.Fixes = []models.FixRecord{}
	}
	if st.report.Timeline == nil {
		st.report.Timeline = []models.Iteration{}
	}
	return st.report
}

// ComputeScore applies the scoring formula: base 100, +10 when the run
// finishes strictly under five minutes, −2 per commit beyond twenty.
func ComputeScore(elapsed time.Duration, commitsMade int) models.Score {
	s := models.Score{Base: scoreBase}
	if elapsed < speedBonusThreshold {
		s.SpeedBonus = speedBonusPoints
	}
	if commitsMade > penaltyFreeCommits {
		s.EfficiencyPenalty = penaltyPerCommit * (commitsMade - penaltyFreeCommits)
	}
	s.Total = s.Base + s.SpeedBonus - s.EfficiencyPenalty
	return s
}
