package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/getsentry/sentry-go"

	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/services"
)

type MediaStore interface {
	PendingPlaceholders(ctx context.Context) ([]models.MediaReference, error)
	ResolvePlaceholder(ctx context.Context, id, placeholder, finalURL string) (bool, error)
}

type StatusCache interface {
	GetJob(ctx context.Context, taskID string) (*models.ConversionJob, error)
	CompletedTargets(ctx context.Context) ([]string, error)
}

type ObjectStore interface {
	URL(key string) string
}

// Reconciler rewrites media_references rows that still carry a conversion
// placeholder once their GIF has actually been produced. It is safe to run
// concurrently and repeatedly: each row update is conditional on the exact
// placeholder still being present.
type Reconciler struct {
	db    MediaStore
	cache StatusCache
	store ObjectStore
}

func New(db MediaStore, cache StatusCache, store ObjectStore) *Reconciler {
	return &Reconciler{db: db, cache: cache, store: store}
}

// Reconcile resolves placeholder rows for completed conversions and returns
// how many rows it updated. With no completion markers present it returns
// without touching the database at all.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	targets, err := r.cache.CompletedTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan completion markers: %w", err)
	}
	if len(targets) == 0 {
		return 0, nil
	}

	completed := make(map[string]bool, len(targets))
	for _, key := range targets {
		completed[key] = true
	}

	rows, err := r.db.PendingPlaceholders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list placeholder rows: %w", err)
	}

	updated := 0
	for _, row := range rows {
		pending, ok := models.ParseMediaURL(row.URL).(models.PendingConversion)
		if !ok {
			continue
		}

		job, err := r.cache.GetJob(ctx, pending.TaskID)
		if errors.Is(err, services.ErrJobNotFound) {
			// Still converting, or the status entry expired. Next run.
			continue
		}
		if err != nil {
			r.reportRowFailure(row.ID, err)
			continue
		}
		if job.State != models.JobCompleted || !completed[job.TargetKey] {
			continue
		}

		resolved, err := r.db.ResolvePlaceholder(ctx, row.ID, row.URL, r.store.URL(job.TargetKey))
		if err != nil {
			r.reportRowFailure(row.ID, err)
			continue
		}
		if resolved {
			updated++
		}
	}

	if updated > 0 {
		log.Printf("[Reconciler] Resolved %d media references", updated)
	}
	return updated, nil
}

func (r *Reconciler) reportRowFailure(rowID string, err error) {
	log.Printf("[Reconciler] Failed to reconcile row %s: %v", rowID, err)
	sentry.CaptureException(fmt.Errorf("failed to reconcile media reference %s: %w", rowID, err))
}
