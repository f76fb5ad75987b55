package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/config"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/queue"
	"github.com/nebari-dev/labgate/internal/service"
	"github.com/nebari-dev/labgate/internal/store"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	db     *gorm.DB
	queue  *queue.MemoryQueue
	worker *Worker
}

func setup(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gdb, err := db.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	st := store.New(gdb)
	rec := audit.NewRecorder(nil, audit.NewDBSink(gdb))
	access := service.NewAccessService(st, compliance.New(st), rec, nil)
	q := queue.NewMemoryQueue(gdb, 8)
	t.Cleanup(func() { q.Close() })

	return &testEnv{db: gdb, queue: q, worker: New(gdb, q, access, rec, nil, opts)}
}

// seedPending creates a pending request for a lab with no requirements, so autocheck activates it.
func seedPending(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	eng := models.Engineer{EmployeeNo: "E1", Name: "Ava", Email: "ava@example.com"}
	lab := models.Lab{Code: "LAB-1", Name: "Lab"}
	if err := gdb.Create(&eng).Error; err != nil {
		t.Fatal(err)
	}
	if err := gdb.Create(&lab).Error; err != nil {
		t.Fatal(err)
	}
	reason := models.ReasonRequested
	row := models.LabAccess{EngineerID: eng.ID, LabID: lab.ID, Status: models.AccessPending, ReasonCode: &reason, EffectiveAt: time.Now()}
	if err := gdb.Create(&row).Error; err != nil {
		t.Fatal(err)
	}
}

// run starts the worker and returns a func that stops it and waits for Start to return.
func run(t *testing.T, w *Worker) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func waitForJob(t *testing.T, q queue.Queue, id uuid.UUID) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestWorker_ProcessesAutocheck(t *testing.T) {
	env := setup(t, Options{Workers: 2})
	seedPending(t, env.db)
	stop := run(t, env.worker)
	defer stop()

	actor := service.Actor{UserID: uuid.New(), Role: models.RoleManager}
	job, err := env.worker.Submit(context.Background(), actor, TriggerManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.RequestedBy == nil || *job.RequestedBy != actor.UserID {
		t.Errorf("job should record the requesting user")
	}

	done := waitForJob(t, env.queue, job.ID)
	if done.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", done.Status, done.Error)
	}
	if n, _ := done.Result["activated"].(json.Number); n.String() != "1" {
		t.Errorf("expected 1 activation, got %v", done.Result)
	}

	last, err := LastAutocheck(env.db)
	if err != nil {
		t.Fatalf("LastAutocheck: %v", err)
	}
	if last.IsZero() {
		t.Error("last_autocheck should be set after a sweep")
	}

	var enqueued int64
	env.db.Model(&models.AuditLog{}).Where("action = ? AND entity_id = ?", audit.ActionEnqueueAutocheck, job.ID.String()).Count(&enqueued)
	if enqueued != 1 {
		t.Errorf("expected one enqueue audit entry, got %d", enqueued)
	}
}

func TestWorker_RunsJobsLeftPending(t *testing.T) {
	env := setup(t, Options{})
	seedPending(t, env.db)

	// saved by an earlier process that stopped before delivering it
	orphan := models.Job{ID: uuid.New(), Type: models.JobTypeAutocheck, Status: models.JobStatusPending, Trigger: TriggerManual}
	if err := env.db.Create(&orphan).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}

	stop := run(t, env.worker)
	defer stop()

	done := waitForJob(t, env.queue, orphan.ID)
	if done.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", done.Status, done.Error)
	}
}

func TestWorker_UnknownJobTypeFails(t *testing.T) {
	env := setup(t, Options{})
	stop := run(t, env.worker)
	defer stop()

	job := &models.Job{Type: "reindex"}
	if err := env.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	done := waitForJob(t, env.queue, job.ID)
	if done.Status != models.JobStatusFailed || done.Error == "" {
		t.Errorf("expected failed job with error, got %+v", done)
	}
}

func TestWorker_Scheduler(t *testing.T) {
	env := setup(t, Options{Interval: 20 * time.Millisecond})
	stop := run(t, env.worker)

	deadline := time.Now().Add(5 * time.Second)
	var job models.Job
	for time.Now().Before(deadline) {
		err := env.db.Where(&models.Job{Trigger: TriggerSchedule, Status: models.JobStatusCompleted}).First(&job).Error
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	stop()

	if job.ID == uuid.Nil {
		t.Fatal("scheduler never completed an autocheck")
	}
	if job.RequestedBy != nil {
		t.Error("scheduled jobs have no requesting user")
	}
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	env := setup(t, Options{})
	done := make(chan error, 1)
	go func() { done <- env.worker.Start(context.Background()) }()

	env.queue.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestLastAutocheck_Never(t *testing.T) {
	env := setup(t, Options{})
	last, err := LastAutocheck(env.db)
	if err != nil || !last.IsZero() {
		t.Errorf("expected zero time, got %v %v", last, err)
	}
}
