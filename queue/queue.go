package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenmoh/servipalbackend/models"
)

// ErrEmpty is returned by Reserve when the block timeout elapses without a
// job becoming available.
var ErrEmpty = errors.New("queue: no job available")

// Queue is a reliable Redis list queue: jobs move atomically from the pending
// list to the processing list on reserve, and stay on the processing list
// until acknowledged or buried. Delivery is at-least-once; consumers must be
// idempotent.
type Queue struct {
	rc         redis.UniversalClient
	pending    string
	processing string
	failed     string
}

func New(rc redis.UniversalClient, pending, processing, failed string) *Queue {
	return &Queue{
		rc:         rc,
		pending:    pending,
		processing: processing,
		failed:     failed,
	}
}

// Enqueue pushes a job onto the pending list. Also used to push a job back
// for redelivery after a stale reservation is released.
func (q *Queue) Enqueue(ctx context.Context, job *models.ConversionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return q.rc.LPush(ctx, q.pending, payload).Err()
}

// Reserve blocks up to timeout for the next job and moves it to the
// processing list. The returned payload is the exact list entry; callers must
// hand it back unchanged to Ack or Bury so LREM can match it.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*models.ConversionJob, string, error) {
	payload, err := q.rc.BRPopLPush(ctx, q.pending, q.processing, timeout).Result()
	if err == redis.Nil {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", err
	}

	var job models.ConversionJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// A payload that never decodes can never be acknowledged by a
		// consumer; drop it here instead of leaking it into processing.
		q.rc.LRem(ctx, q.processing, 1, payload)
		return nil, "", fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, payload, nil
}

// Ack removes a reserved entry from the processing list.
func (q *Queue) Ack(ctx context.Context, payload string) error {
	return q.rc.LRem(ctx, q.processing, 1, payload).Err()
}

// Bury acknowledges a reserved entry and records it on the failed list as a
// dead letter.
func (q *Queue) Bury(ctx context.Context, payload string) error {
	if err := q.rc.LRem(ctx, q.processing, 1, payload).Err(); err != nil {
		return err
	}
	return q.rc.LPush(ctx, q.failed, payload).Err()
}

// ProcessingSnapshot returns the raw payloads currently reserved. Used by the
// recovery loop to find reservations whose worker died mid-job.
func (q *Queue) ProcessingSnapshot(ctx context.Context) ([]string, error) {
	return q.rc.LRange(ctx, q.processing, 0, -1).Result()
}

// Ping verifies queue connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rc.Ping(ctx).Err()
}
