package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/valkey-io/valkey-go"
	"gorm.io/gorm"
)

// DefaultValkeyKey is the list the job IDs are pushed to.
const DefaultValkeyKey = "labgate:jobs"

// ValkeyQueue implements a distributed job queue using Valkey.
// Valkey carries job IDs only; the database holds the job itself.
type ValkeyQueue struct {
	jobTable
	client valkey.Client
	key    string
	poll   time.Duration
}

type valkeyMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NewValkeyQueue creates a new Valkey-backed queue
func NewValkeyQueue(addr string, db *gorm.DB) (*ValkeyQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance is required for Valkey queue")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Valkey: %w", err)
	}

	q := &ValkeyQueue{
		jobTable: jobTable{db: db},
		client:   client,
		key:      DefaultValkeyKey,
		poll:     5 * time.Second,
	}

	slog.Info("Initialized Valkey job queue", "address", addr, "queue_key", q.key)
	return q, nil
}

// Enqueue saves the job and pushes its ID to the Valkey list (RPUSH for FIFO).
func (q *ValkeyQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := q.save(ctx, job); err != nil {
		return err
	}

	payload, err := json.Marshal(valkeyMessage{ID: job.ID.String(), Type: string(job.Type)})
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	cmd := q.client.B().Rpush().Key(q.key).Element(string(payload)).Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to push job to Valkey: %w", err)
	}

	slog.Debug("Job enqueued", "job_id", job.ID, "type", job.Type, "queue_key", q.key)
	return nil
}

// Dequeue blocks on BLPOP for one poll window and loads the job from the database.
func (q *ValkeyQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	cmd := q.client.B().Blpop().Key(q.key).Timeout(q.poll.Seconds()).Build()
	values, err := q.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if valkey.IsValkeyNil(err) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to pop job from Valkey: %w", err)
	}
	// BLPOP returns [key, value]
	if len(values) < 2 {
		return nil, fmt.Errorf("invalid BLPOP result: expected 2 values, got %d", len(values))
	}

	var msg valkeyMessage
	if err := json.Unmarshal([]byte(values[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	jobID, err := uuid.Parse(msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job ID: %w", err)
	}

	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			q.putBack(values[1])
		}
		return nil, err
	}
	slog.Debug("Job dequeued", "job_id", job.ID, "type", job.Type)
	return job, nil
}

// putBack returns a popped message to the head of the list.
func (q *ValkeyQueue) putBack(payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := q.client.B().Lpush().Key(q.key).Element(payload).Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		slog.Error("Failed to return job to Valkey, it stays pending", "error", err)
	}
}

// Recover pushes every pending job ID again. A job delivered twice is only
// run once because Start claims it.
func (q *ValkeyQueue) Recover(ctx context.Context) (int, error) {
	ids, err := q.pendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		payload, err := json.Marshal(valkeyMessage{ID: id.String()})
		if err != nil {
			return n, fmt.Errorf("failed to marshal job data: %w", err)
		}
		cmd := q.client.B().Rpush().Key(q.key).Element(string(payload)).Build()
		if err := q.client.Do(ctx, cmd).Error(); err != nil {
			return n, fmt.Errorf("failed to push job to Valkey: %w", err)
		}
		n++
	}
	return n, nil
}

// Close closes the Valkey connection
func (q *ValkeyQueue) Close() error {
	q.client.Close()
	slog.Info("Valkey queue closed")
	return nil
}
