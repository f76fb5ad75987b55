package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when a job is not found
	ErrJobNotFound = errors.New("job not found")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue closed")
	// ErrEmpty is returned by Dequeue when a poll window passed without a job.
	ErrEmpty = errors.New("no job available")
	// ErrJobClaimed is returned by Start when the job is no longer pending,
	// e.g. because its ID was delivered twice.
	ErrJobClaimed = errors.New("job already claimed")
)

// Queue transports background jobs. The database row is the source of truth
// for a job's state; queues only carry job IDs.
type Queue interface {
	// Enqueue persists the job and hands it to a worker
	Enqueue(ctx context.Context, job *models.Job) error

	// Dequeue blocks for the next job. It returns ErrEmpty when it gave up
	// waiting without the context ending.
	Dequeue(ctx context.Context) (*models.Job, error)

	// GetStatus retrieves the current state of a job
	GetStatus(ctx context.Context, jobID uuid.UUID) (*models.Job, error)

	// Start claims a pending job and marks it running. It returns
	// ErrJobClaimed when the job is not pending any more.
	Start(ctx context.Context, jobID uuid.UUID) error

	// Recover re-delivers jobs that are still pending in the database,
	// such as jobs left behind by a restart. It returns how many it queued.
	Recover(ctx context.Context) (int, error)

	// Complete marks a job as completed and stores its result
	Complete(ctx context.Context, jobID uuid.UUID, result map[string]interface{}) error

	// Fail marks a job as failed
	Fail(ctx context.Context, jobID uuid.UUID, errorMsg string) error

	// Close releases resources. Pending Dequeue calls return.
	Close() error
}

// jobTable implements the status half of Queue on top of the jobs table.
type jobTable struct {
	db *gorm.DB
}

func (t jobTable) save(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := t.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to save job to database: %w", err)
	}
	return nil
}

// GetStatus retrieves the current status of a job from the database
func (t jobTable) GetStatus(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := t.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return &job, nil
}

func (t jobTable) update(ctx context.Context, jobID uuid.UUID, updates map[string]interface{}) error {
	result := t.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// pendingIDs lists pending jobs, oldest first.
func (t jobTable) pendingIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobStatusPending).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return ids, nil
}

// Start moves a pending job to running. Only one caller can win the claim.
func (t jobTable) Start(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now()
	result := t.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := t.GetStatus(ctx, jobID); err != nil {
			return err
		}
		return ErrJobClaimed
	}
	slog.Debug("Job started", "job_id", jobID)
	return nil
}

// Complete marks a job as completed in the database
func (t jobTable) Complete(ctx context.Context, jobID uuid.UUID, result map[string]interface{}) error {
	now := time.Now()
	err := t.update(ctx, jobID, map[string]interface{}{
		"status":       models.JobStatusCompleted,
		"result":       datatypes.JSONMap(result),
		"completed_at": now,
	})
	if err != nil {
		return err
	}
	slog.Info("Job completed", "job_id", jobID)
	return nil
}

// Fail marks a job as failed in the database
func (t jobTable) Fail(ctx context.Context, jobID uuid.UUID, errorMsg string) error {
	now := time.Now()
	err := t.update(ctx, jobID, map[string]interface{}{
		"status":       models.JobStatusFailed,
		"error":        errorMsg,
		"completed_at": now,
	})
	if err != nil {
		return err
	}
	slog.Error("Job failed", "job_id", jobID, "error", errorMsg)
	return nil
}
