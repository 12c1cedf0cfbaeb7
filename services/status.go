package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kenmoh/servipalbackend/models"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when no cache entry exists for a task. An
// expired entry and one that was never recorded are indistinguishable and
// treated the same by callers.
var ErrJobNotFound = errors.New("conversion job not found")

// StatusTTL is the retention window for job state and completion markers.
// After expiry a job is unrecoverable except via a direct object-store check.
const StatusTTL = time.Hour

const (
	jobKeyPrefix    = "video_conversions:"
	markerKeyPrefix = "completed_video_conversion:"
)

func jobKey(taskID string) string { return jobKeyPrefix + taskID }

func markerKey(targetKey string) string { return markerKeyPrefix + targetKey }

// StatusService tracks in-flight and completed conversions in Redis. Only
// the worker writes a given job after submission, so plain SET with
// last-writer-wins is sufficient; readers never block writers.
type StatusService struct {
	rc redis.UniversalClient
}

func NewStatusService(rc redis.UniversalClient) *StatusService {
	return &StatusService{rc: rc}
}

// SaveJob writes the job under video_conversions:{taskID}. Every write
// restarts the retention window, so a terminal rewrite stays readable at
// least as long as its completion marker.
func (s *StatusService) SaveJob(ctx context.Context, job *models.ConversionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.rc.Set(ctx, jobKey(job.TaskID), payload, StatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	return nil
}

func (s *StatusService) GetJob(ctx context.Context, taskID string) (*models.ConversionJob, error) {
	raw, err := s.rc.Get(ctx, jobKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	var job models.ConversionJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job status: %w", err)
	}
	return &job, nil
}

// MarkCompleted records the existence marker the reconciler scans for. The
// marker carries no payload; its presence is the signal.
func (s *StatusService) MarkCompleted(ctx context.Context, targetKey string) error {
	if err := s.rc.Set(ctx, markerKey(targetKey), "1", StatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	return nil
}

// CompletedTargets returns the target key of every unexpired completion
// marker.
func (s *StatusService) CompletedTargets(ctx context.Context) ([]string, error) {
	var (
		targets []string
		cursor  uint64
	)
	for {
		keys, next, err := s.rc.Scan(ctx, cursor, markerKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion markers: %w", err)
		}
		for _, k := range keys {
			targets = append(targets, strings.TrimPrefix(k, markerKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return targets, nil
		}
	}
}

func (s *StatusService) Ping(ctx context.Context) error {
	return s.rc.Ping(ctx).Err()
}
