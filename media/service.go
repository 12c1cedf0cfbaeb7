package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/orchestrator"
)

const (
	MaxImagesPerItem = 4
	MaxVideosPerItem = 1
)

var (
	ErrNoFiles       = errors.New("at least one file is required")
	ErrTooManyImages = fmt.Errorf("at most %d images per item", MaxImagesPerItem)
	ErrTooManyVideos = fmt.Errorf("at most %d video per item", MaxVideosPerItem)
)

type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type MediaStore interface {
	InsertMediaReference(ctx context.Context, ref *models.MediaReference) error
	ListMediaByItem(ctx context.Context, itemID string) ([]models.MediaReference, error)
}

type ObjectStore interface {
	UploadBytes(ctx context.Context, key, contentType string, data []byte) error
	URL(key string) string
}

type ConversionSubmitter interface {
	Submit(ctx context.Context, data []byte, filename, declaredType, itemID string) (*orchestrator.SubmitResult, error)
}

// Service attaches uploaded media to items. Images become directly
// resolvable rows; videos are handed to the conversion pipeline and recorded
// as placeholder rows until the reconciler swaps in the GIF URL.
type Service struct {
	db          MediaStore
	store       ObjectStore
	conversions ConversionSubmitter
}

func NewService(db MediaStore, store ObjectStore, conversions ConversionSubmitter) *Service {
	return &Service{db: db, store: store, conversions: conversions}
}

type AttachResult struct {
	References []models.MediaReference
	// Conversion is set when the batch included a video.
	Conversion *orchestrator.SubmitResult
}

// Attach validates and stores a batch of uploads for an item. The whole
// batch is rejected before any upload when a file is neither image nor video
// or the per-item limits are exceeded.
func (s *Service) Attach(ctx context.Context, itemID string, uploads []Upload) (*AttachResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	type sniffed struct {
		Upload
		detected string
	}
	var images, videos []sniffed
	for _, up := range uploads {
		detected := mimetype.Detect(up.Data).String()
		switch {
		case strings.HasPrefix(detected, "image/"):
			images = append(images, sniffed{up, detected})
		case strings.HasPrefix(detected, "video/"):
			videos = append(videos, sniffed{up, detected})
		default:
			return nil, fmt.Errorf("%w: %s detected as %s",
				orchestrator.ErrUnsupportedMediaType, up.Filename, detected)
		}
	}
	if len(images) > MaxImagesPerItem {
		return nil, ErrTooManyImages
	}
	if len(videos) > MaxVideosPerItem {
		return nil, ErrTooManyVideos
	}

	result := &AttachResult{}

	for _, up := range images {
		name := filepath.Base(up.Filename)
		key := uuid.NewString() + "-" + name
		if err := s.store.UploadBytes(ctx, key, up.detected, up.Data); err != nil {
			return nil, fmt.Errorf("failed to store image %s: %w", name, err)
		}

		ref := models.MediaReference{
			ID:     uuid.NewString(),
			ItemID: itemID,
			URL:    s.store.URL(key),
			Kind:   models.MediaKindImage,
		}
		if err := s.db.InsertMediaReference(ctx, &ref); err != nil {
			return nil, fmt.Errorf("failed to record image %s: %w", name, err)
		}
		result.References = append(result.References, ref)
	}

	for _, up := range videos {
		sub, err := s.conversions.Submit(ctx, up.Data, up.Filename, up.ContentType, itemID)
		if err != nil {
			return nil, err
		}

		placeholder := models.PendingConversion{
			SourceName: sub.SourceName,
			TaskID:     sub.TaskID,
		}
		ref := models.MediaReference{
			ID:     uuid.NewString(),
			ItemID: itemID,
			URL:    placeholder.String(),
			Kind:   models.MediaKindPendingVideo,
		}
		if err := s.db.InsertMediaReference(ctx, &ref); err != nil {
			return nil, fmt.Errorf("failed to record video placeholder: %w", err)
		}
		result.References = append(result.References, ref)
		result.Conversion = sub
	}

	return result, nil
}

// List returns an item's media rows as stored, placeholders included.
func (s *Service) List(ctx context.Context, itemID string) ([]models.MediaReference, error) {
	return s.db.ListMediaByItem(ctx, itemID)
}
