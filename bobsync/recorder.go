package bobsync

import (
	"errors"

	"gorm.io/gorm"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/models"
)

// RunRecorder persists run history rows. Reporting only: the batch state
// in the property store stays authoritative for progress.
type RunRecorder interface {
	CreateRun(run *models.BulkRun) error
	UpdateRun(runId uint, updates map[string]any) error
	GetRun(runId uint) (*models.BulkRun, error)
	// LastRetryableRun returns the most recent failed or partial run, or
	// nil when there is none.
	LastRetryableRun() (*models.BulkRun, error)
	RecordError(rowError *models.BulkRunError)
}

type GormRunRecorder struct {
	DB *gorm.DB
}

func (r *GormRunRecorder) CreateRun(run *models.BulkRun) error {
	if err := r.DB.Create(run).Error; err != nil {
		return &FatalInfrastructureError{Op: "create run row", Err: err}
	}
	return nil
}

func (r *GormRunRecorder) UpdateRun(runId uint, updates map[string]any) error {
	if err := r.DB.Model(&models.BulkRun{}).Where("id = ?", runId).Updates(updates).Error; err != nil {
		return &FatalInfrastructureError{Op: "update run row", Err: err}
	}
	return nil
}

func (r *GormRunRecorder) GetRun(runId uint) (*models.BulkRun, error) {
	var run models.BulkRun
	if err := r.DB.First(&run, runId).Error; err != nil {
		return nil, &FatalInfrastructureError{Op: "load run row", Err: err}
	}
	return &run, nil
}

func (r *GormRunRecorder) LastRetryableRun() (*models.BulkRun, error) {
	var run models.BulkRun
	err := r.DB.Where("status IN ?", []string{models.BulkRunStatusFailed, models.BulkRunStatusPartial}).
		Order("id DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &FatalInfrastructureError{Op: "load last failed run", Err: err}
	}
	return &run, nil
}

// RecordError is best effort; losing one error row must not fail the run.
func (r *GormRunRecorder) RecordError(rowError *models.BulkRunError) {
	if err := r.DB.Create(rowError).Error; err != nil {
		config.GetLogger().WithError(err).Warn("bobsync: run error row not recorded")
	}
}
