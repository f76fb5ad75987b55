package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/queue"
	"github.com/nebari-dev/labgate/internal/service"
	"gorm.io/gorm"
)

// Job triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Options tunes a Worker.
type Options struct {
	// Workers bounds how many jobs run at once. Values below 1 mean 1.
	Workers int
	// Interval enqueues a scheduled autocheck every tick. Zero disables the scheduler.
	Interval time.Duration
}

// Worker processes jobs from the queue
type Worker struct {
	db         *gorm.DB
	queue      queue.Queue
	access     *service.AccessService
	audit      *audit.Recorder
	logger     *slog.Logger
	interval   time.Duration
	maxWorkers int
	semaphore  chan struct{}
	wg         sync.WaitGroup
}

// New creates a new worker instance
func New(gdb *gorm.DB, q queue.Queue, access *service.AccessService, rec *audit.Recorder, logger *slog.Logger, opts Options) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	maxWorkers := opts.Workers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Worker{
		db:         gdb,
		queue:      q,
		access:     access,
		audit:      rec,
		logger:     logger,
		interval:   opts.Interval,
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues an autocheck job on behalf of actor.
func (w *Worker) Submit(ctx context.Context, actor service.Actor, trigger string) (*models.Job, error) {
	job := &models.Job{
		Type:    models.JobTypeAutocheck,
		Status:  models.JobStatusPending,
		Trigger: trigger,
	}
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		job.RequestedBy = &id
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue autocheck: %w", err)
	}

	ev := audit.Event{
		ActorUserID: job.RequestedBy,
		ActorRole:   actor.Role,
		Action:      audit.ActionEnqueueAutocheck,
		Entity:      audit.EntityJob,
		EntityID:    job.ID.String(),
		Meta:        map[string]interface{}{"trigger": trigger},
	}
	w.audit.Record(ctx, ev)
	return job, nil
}

// Start begins processing jobs from the queue. It returns when ctx ends or
// the queue is closed, after in-flight jobs finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker started", "max_concurrent_jobs", w.maxWorkers, "interval", w.interval)

	if w.interval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.schedule(ctx)
		}()
	}

	if n, err := w.queue.Recover(ctx); err != nil {
		w.logger.Error("Failed to recover pending jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("Recovered pending jobs", "count", n)
	}

	defer w.wg.Wait()
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrEmpty):
				continue
			case errors.Is(err, queue.ErrClosed):
				w.logger.Info("Queue closed, worker stopping")
				return nil
			case ctx.Err() != nil:
				w.logger.Info("Worker shutting down, waiting for jobs to complete")
				return ctx.Err()
			}
			w.logger.Error("Failed to dequeue job", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		// Acquire semaphore slot (blocks if max workers reached)
		select {
		case w.semaphore <- struct{}{}:
			w.wg.Add(1)
			go func(j *models.Job) {
				defer w.wg.Done()
				defer func() { <-w.semaphore }()
				w.processJob(ctx, j)
			}(job)
		case <-ctx.Done():
			w.logger.Info("Context cancelled while waiting for worker slot")
			return ctx.Err()
		}
	}
}

func (w *Worker) schedule(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Submit(ctx, service.System, TriggerSchedule); err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to schedule autocheck", "error", err)
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic recovered in processJob", "job_id", job.ID, "panic", r)
			w.fail(job, fmt.Sprintf("job panicked: %v", r))
		}
	}()

	w.logger.Info("Processing job", "job_id", job.ID, "type", job.Type, "trigger", job.Trigger)
	if err := w.queue.Start(ctx, job.ID); err != nil {
		if errors.Is(err, queue.ErrJobClaimed) {
			w.logger.Debug("Job already claimed, skipping", "job_id", job.ID)
			return
		}
		w.logger.Error("Failed to mark job running", "job_id", job.ID, "error", err)
		return
	}

	result, err := w.execute(ctx, job)
	if err != nil {
		w.fail(job, err.Error())
		return
	}
	if err := w.queue.Complete(context.WithoutCancel(ctx), job.ID, result); err != nil {
		w.logger.Error("Failed to mark job completed", "job_id", job.ID, "error", err)
	}
}

// fail records the failure even when the worker context is already done.
func (w *Worker) fail(job *models.Job, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Fail(ctx, job.ID, msg); err != nil {
		w.logger.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	switch job.Type {
	case models.JobTypeAutocheck:
		res, err := w.RunAutocheck(ctx)
		if err != nil {
			return nil, err
		}
		return res.Map(), nil
	default:
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// RunAutocheck runs one sweep synchronously and stamps the last_autocheck setting.
func (w *Worker) RunAutocheck(ctx context.Context) (service.AutocheckResult, error) {
	res, err := w.access.Autocheck(ctx, service.System)
	if err != nil {
		return res, err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := db.PutSetting(w.db.WithContext(ctx), models.ServerConfigKeyLastAutocheck, stamp); err != nil {
		w.logger.Warn("Failed to store last autocheck time", "error", err)
	}
	return res, nil
}

// LastAutocheck reports when the last sweep finished, or the zero time if never.
func LastAutocheck(gdb *gorm.DB) (time.Time, error) {
	v, err := db.GetSetting(gdb, models.ServerConfigKeyLastAutocheck)
	if errors.Is(err, db.ErrSettingNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
