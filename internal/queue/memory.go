package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
)

// MemoryQueue hands job IDs to workers in the same process.
type MemoryQueue struct {
	jobTable
	ids    chan uuid.UUID
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(db *gorm.DB, bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	q := &MemoryQueue{
		jobTable: jobTable{db: db},
		ids:      make(chan uuid.UUID, bufferSize),
		done:     make(chan struct{}),
	}

	slog.Info("Initialized in-memory job queue", "buffer_size", bufferSize)
	return q
}

// Enqueue adds a job to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if err := q.save(ctx, job); err != nil {
		return err
	}

	select {
	case q.ids <- job.ID:
		slog.Debug("Job enqueued", "job_id", job.ID, "type", job.Type)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("queue is full, could not enqueue job %s", job.ID)
	}
}

// Dequeue retrieves the next job from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	select {
	case id := <-q.ids:
		job, err := q.GetStatus(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrJobNotFound) {
				q.putBack(id)
			}
			return nil, err
		}
		slog.Debug("Job dequeued", "job_id", job.ID, "type", job.Type)
		return job, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// putBack returns an ID whose job could not be loaded. When the buffer is
// full the job stays pending in the database for the next Recover.
func (q *MemoryQueue) putBack(id uuid.UUID) {
	select {
	case q.ids <- id:
	default:
		slog.Warn("Queue full, job left pending", "job_id", id)
	}
}

// Recover queues pending jobs from the database without blocking. Jobs that
// do not fit in the buffer stay pending.
func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0, ErrClosed
	}

	ids, err := q.pendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		select {
		case q.ids <- id:
			n++
		default:
			slog.Warn("Queue full, leaving remaining jobs pending", "left", len(ids)-n)
			return n, nil
		}
	}
	return n, nil
}

// Close stops the queue. Jobs still buffered stay pending in the database.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	slog.Info("Memory queue closed")
	return nil
}
