package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/queue"
	"github.com/kenmoh/servipalbackend/services"
)

const (
	reserveBlock     = 30 * time.Second
	recoveryInterval = 5 * time.Minute
	staleAfter       = 5 * time.Minute
)

type JobQueue interface {
	Reserve(ctx context.Context, timeout time.Duration) (*models.ConversionJob, string, error)
	Ack(ctx context.Context, payload string) error
	Bury(ctx context.Context, payload string) error
	Enqueue(ctx context.Context, job *models.ConversionJob) error
	ProcessingSnapshot(ctx context.Context) ([]string, error)
}

type ObjectStore interface {
	Download(ctx context.Context, key string) (string, error)
	Upload(ctx context.Context, localPath, key, contentType string) error
	Delete(ctx context.Context, key string) error
	Cleanup(localPath string) error
}

type Transcoder interface {
	ConvertToGIF(ctx context.Context, inputPath string) (string, error)
}

type StatusCache interface {
	SaveJob(ctx context.Context, job *models.ConversionJob) error
	GetJob(ctx context.Context, taskID string) (*models.ConversionJob, error)
	MarkCompleted(ctx context.Context, targetKey string) error
}

// Pool processes conversion jobs. Jobs are independent, so any number of
// workers may run in parallel; each job's steps run strictly in order.
type Pool struct {
	queue      JobQueue
	store      ObjectStore
	transcoder Transcoder
	cache      StatusCache
}

func NewPool(q JobQueue, store ObjectStore, transcoder Transcoder, cache StatusCache) *Pool {
	return &Pool{
		queue:      q,
		store:      store,
		transcoder: transcoder,
		cache:      cache,
	}
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	log.Printf("[Worker %d] Starting", workerID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker %d] Shutting down", workerID)
			return
		default:
			job, payload, err := p.queue.Reserve(ctx, reserveBlock)
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("[Worker %d] Queue error: %v", workerID, err)
				time.Sleep(5 * time.Second)
				continue
			}

			p.processJob(ctx, workerID, job, payload)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.ConversionJob, payload string) {
	log.Printf("[Worker %d] Processing conversion %s (source: %s)", workerID, job.TaskID, job.SourceKey)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(job.Timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	localInput, err := p.store.Download(timeoutCtx, job.SourceKey)
	if errors.Is(err, services.ErrObjectNotFound) {
		p.handleMissingSource(ctx, workerID, job, payload)
		return
	}
	if err != nil {
		p.failJob(ctx, workerID, job, payload, fmt.Sprintf("download failed: %v", err))
		return
	}
	defer p.store.Cleanup(localInput)

	localOutput, err := p.transcoder.ConvertToGIF(timeoutCtx, localInput)
	if err != nil {
		p.failJob(ctx, workerID, job, payload, fmt.Sprintf("conversion failed: %v", err))
		return
	}
	defer p.store.Cleanup(localOutput)

	// Overwriting an existing target is deliberate: a redelivered job
	// produces the same GIF under the same key.
	if err := p.store.Upload(timeoutCtx, localOutput, job.TargetKey, "image/gif"); err != nil {
		p.failJob(ctx, workerID, job, payload, fmt.Sprintf("upload failed: %v", err))
		return
	}

	job.State = models.JobCompleted
	job.Error = ""
	if err := p.cache.SaveJob(ctx, job); err != nil {
		log.Printf("[Worker %d] Failed to record completed status: %v", workerID, err)
	}
	if err := p.cache.MarkCompleted(ctx, job.TargetKey); err != nil {
		log.Printf("[Worker %d] Failed to write completion marker: %v", workerID, err)
	}

	// The source goes away only after the GIF and its status are in place.
	if err := p.store.Delete(ctx, job.SourceKey); err != nil {
		log.Printf("[Worker %d] Failed to delete source %s: %v", workerID, job.SourceKey, err)
	}

	if err := p.queue.Ack(ctx, payload); err != nil {
		log.Printf("[Worker %d] Failed to ack job %s: %v", workerID, job.TaskID, err)
	}

	log.Printf("[Worker %d] Conversion %s completed (%.2fs)", workerID, job.TaskID, time.Since(startTime).Seconds())
}

// handleMissingSource resolves a reserved job whose source object is gone.
// After a completed run the source is deleted on purpose, so a redelivery of
// that job must stay completed; any other missing source is a real failure.
func (p *Pool) handleMissingSource(ctx context.Context, workerID int, job *models.ConversionJob, payload string) {
	cached, err := p.cache.GetJob(ctx, job.TaskID)
	if err == nil && cached.State == models.JobCompleted {
		log.Printf("[Worker %d] Conversion %s already completed, dropping redelivery", workerID, job.TaskID)
		if err := p.queue.Ack(ctx, payload); err != nil {
			log.Printf("[Worker %d] Failed to ack job %s: %v", workerID, job.TaskID, err)
		}
		return
	}

	p.failJob(ctx, workerID, job, payload, fmt.Sprintf("source object %s missing", job.SourceKey))
}

func (p *Pool) failJob(ctx context.Context, workerID int, job *models.ConversionJob, payload string, detail string) {
	log.Printf("[Worker %d] Conversion %s failed: %s", workerID, job.TaskID, detail)
	sentry.CaptureException(fmt.Errorf("conversion %s failed: %s", job.TaskID, detail))

	// The source object stays put so the failure can be reproduced.
	job.State = models.JobFailed
	job.Error = detail
	if err := p.cache.SaveJob(ctx, job); err != nil {
		log.Printf("[Worker %d] Failed to record failed status: %v", workerID, err)
	}

	if err := p.queue.Bury(ctx, payload); err != nil {
		log.Printf("[Worker %d] Failed to dead-letter job %s: %v", workerID, job.TaskID, err)
	}
}

// RecoveryLoop periodically rescans the processing list for reservations
// whose worker died mid-job and pushes them back for redelivery.
func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	log.Println("[Recovery] Starting stale job recovery loop")

	for {
		select {
		case <-ctx.Done():
			log.Println("[Recovery] Shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
		}
	}
}

func (p *Pool) recoverStaleJobs(ctx context.Context) {
	payloads, err := p.queue.ProcessingSnapshot(ctx)
	if err != nil {
		log.Printf("[Recovery] Failed to read processing list: %v", err)
		return
	}

	recovered := 0
	for _, payload := range payloads {
		var job models.ConversionJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue
		}
		if time.Since(job.CreatedAt) <= staleAfter {
			continue
		}

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			if err := p.queue.Ack(ctx, payload); err != nil {
				continue
			}
			if err := p.queue.Enqueue(ctx, &job); err != nil {
				log.Printf("[Recovery] Failed to requeue %s: %v", job.TaskID, err)
				continue
			}
			recovered++
		} else {
			job.State = models.JobFailed
			job.Error = "job stalled in processing and exhausted retries"
			if err := p.cache.SaveJob(ctx, &job); err != nil {
				log.Printf("[Recovery] Failed to record failed status for %s: %v", job.TaskID, err)
			}
			if err := p.queue.Bury(ctx, payload); err != nil {
				log.Printf("[Recovery] Failed to dead-letter %s: %v", job.TaskID, err)
			}
		}
	}

	if recovered > 0 {
		log.Printf("[Recovery] Requeued %d stale jobs", recovered)
	}
}
