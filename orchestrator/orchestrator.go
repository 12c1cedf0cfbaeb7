package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/services"
)

// MaxUploadBytes is the hard size cap for source videos. Oversized uploads
// are rejected outright, unlike overlong ones which are truncated downstream.
const MaxUploadBytes = 25 << 20

var (
	ErrPayloadTooLarge      = errors.New("video exceeds the 25 MiB limit")
	ErrUnsupportedMediaType = errors.New("file is not a recognized video format")
	ErrNotFound             = errors.New("conversion not found")
)

type ObjectStore interface {
	UploadBytes(ctx context.Context, key, contentType string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

type StatusCache interface {
	SaveJob(ctx context.Context, job *models.ConversionJob) error
	GetJob(ctx context.Context, taskID string) (*models.ConversionJob, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, job *models.ConversionJob) error
}

// Orchestrator accepts conversion requests on the API side: it validates and
// stores the source video, records the initial job state, and hands the job
// to the worker pool through the queue.
type Orchestrator struct {
	store      ObjectStore
	cache      StatusCache
	queue      JobQueue
	maxRetries int
	timeout    int
}

func New(store ObjectStore, cache StatusCache, queue JobQueue, maxRetries, timeoutSeconds int) *Orchestrator {
	return &Orchestrator{
		store:      store,
		cache:      cache,
		queue:      queue,
		maxRetries: maxRetries,
		timeout:    timeoutSeconds,
	}
}

type SubmitResult struct {
	TaskID     string
	SourceName string
	SourceKey  string
	TargetKey  string
}

// Submit validates a video upload, stores it, and enqueues its conversion.
// Validation rejections happen before any byte reaches the object store. The
// declared content type is advisory only; the bytes decide.
func (o *Orchestrator) Submit(ctx context.Context, data []byte, filename, declaredType, itemID string) (*SubmitResult, error) {
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: got %d bytes", ErrPayloadTooLarge, len(data))
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "video/") {
		return nil, fmt.Errorf("%w: detected %s, declared %s", ErrUnsupportedMediaType, detected.String(), declaredType)
	}

	taskID := uuid.NewString()
	sourceName := filepath.Base(filename)
	if sourceName == "." || sourceName == "/" || sourceName == "" {
		sourceName = "video"
	}
	sourceKey := taskID + "-" + sourceName
	targetKey := taskID + "-" + TargetName(sourceName)

	if err := o.store.UploadBytes(ctx, sourceKey, detected.String(), data); err != nil {
		return nil, fmt.Errorf("failed to store source video: %w", err)
	}

	job := &models.ConversionJob{
		TaskID:     taskID,
		ItemID:     itemID,
		SourceName: sourceName,
		SourceKey:  sourceKey,
		TargetKey:  targetKey,
		State:      models.JobPending,
		MaxRetries: o.maxRetries,
		CreatedAt:  time.Now().UTC(),
		Timeout:    o.timeout,
	}

	if err := o.cache.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record job status: %w", err)
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		// The source object is orphaned until its next manual sweep; the
		// caller sees the failure either way.
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Printf("Queued conversion %s (%s -> %s)", taskID, sourceKey, targetKey)

	return &SubmitResult{
		TaskID:     taskID,
		SourceName: sourceName,
		SourceKey:  sourceKey,
		TargetKey:  targetKey,
	}, nil
}

type Status struct {
	TaskID string
	State  models.JobState
	GIFURL string
	Detail string
}

// GetStatus reports the state of a conversion. The cache is authoritative
// while its entry lives; once expired, a check for the finished GIF itself
// decides. targetKey may be empty when the caller cannot name the expected
// GIF, which disables the fallback.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID, targetKey string) (*Status, error) {
	job, err := o.cache.GetJob(ctx, taskID)
	switch {
	case err == nil:
		return o.statusFromJob(job), nil
	case errors.Is(err, services.ErrJobNotFound):
		// Expired entry and never-existed task are indistinguishable here.
	default:
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	if targetKey != "" {
		exists, err := o.store.Exists(ctx, targetKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check for finished GIF: %w", err)
		}
		if exists {
			return &Status{
				TaskID: taskID,
				State:  models.JobCompleted,
				GIFURL: o.store.URL(targetKey),
			}, nil
		}
	}

	return nil, ErrNotFound
}

func (o *Orchestrator) statusFromJob(job *models.ConversionJob) *Status {
	st := &Status{TaskID: job.TaskID, State: job.State}
	switch job.State {
	case models.JobPending:
		// Queued but unreserved reads as in-progress to callers.
		st.State = models.JobProcessing
	case models.JobCompleted:
		st.GIFURL = o.store.URL(job.TargetKey)
	case models.JobFailed:
		st.Detail = job.Error
	}
	return st
}

// TargetName derives the GIF filename for a source video filename.
func TargetName(sourceName string) string {
	stem := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	if stem == "" {
		stem = sourceName
	}
	return stem + ".gif"
}
