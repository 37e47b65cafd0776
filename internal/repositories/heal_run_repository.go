package repositories

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"healbot/internal/models"
)

type HealRunRepository interface {
	Create(run *models.HealRun) error
	GetByTaskID(taskID string) (*models.HealRun, error)
	MarkDone(taskID, reportJSON string) error
	MarkError(taskID, message string) error
	ListRecent(limit int) ([]models.HealRun, error)
}

type healRunRepository struct {
	db *gorm.DB
}

func NewHealRunRepository(db *gorm.DB) HealRunRepository {
	return &healRunRepository{db: db}
}

func (r *healRunRepository) Create(run *models.HealRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if run.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if run.State == "" {
		run.State = models.RunStateRunning
	}
	return r.db.Create(run).Error
}

func (r *healRunRepository) GetByTaskID(taskID string) (*models.HealRun, error) {
	var run models.HealRun
	res := r.db.Where("task_id = ?", taskID).Take(&run)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &run, nil
}

func (r *healRunRepository) MarkDone(taskID, reportJSON string) error {
	return r.db.Model(&models.HealRun{}).
		Where("task_id = ?", taskID).
		Updates(map[string]any{"state": models.RunStateDone, "report_json": reportJSON}).Error
}

func (r *healRunRepository) MarkError(taskID, message string) error {
	return r.db.Model(&models.HealRun{}).
		Where("task_id = ?", taskID).
		Updates(map[string]any{"state": models.RunStateError, "error": message}).Error
}

func (r *healRunRepository) ListRecent(limit int) ([]models.HealRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.HealRun
	res := r.db.Order("created_at desc").Limit(limit).Find(&runs)
	if res.Error != nil {
		return nil, res.Error
	}
	return runs, nil
}
