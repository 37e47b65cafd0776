package models

import "time"

// Task states for the HTTP surface.
const (
	RunStateRunning = "running"
	RunStateDone    = "done"
	RunStateError   = "error"
)

// HealRun is the persisted record of one healing run, keyed by task id.
type HealRun struct {
	ID         uint   `gorm:"primaryKey"`
	TaskID     string `gorm:"size:64;uniqueIndex;not null"`
	RepoURL    string `gorm:"size:512;not null"`
	TeamName   string `gorm:"size:255"`
	TeamLeader string `gorm:"size:255"`
	BranchName string `gorm:"size:255"`
	State      string `gorm:"size:32;not null"`
	Error      string `gorm:"type:text"`
	ReportJSON string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
