package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kenmoh/servipalbackend/media"
	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/orchestrator"
)

const (
	// Conversion uploads are capped at 25 MiB of video; the extra megabyte
	// covers multipart framing and form fields.
	maxConversionBody = orchestrator.MaxUploadBytes + 1<<20

	// Media batches carry up to four images plus one video.
	maxMediaBody = 64 << 20

	maxMultipartMemory = 32 << 20
)

type Conversions interface {
	Submit(ctx context.Context, data []byte, filename, declaredType, itemID string) (*orchestrator.SubmitResult, error)
	GetStatus(ctx context.Context, taskID, targetKey string) (*orchestrator.Status, error)
}

type MediaService interface {
	Attach(ctx context.Context, itemID string, uploads []media.Upload) (*media.AttachResult, error)
	List(ctx context.Context, itemID string) ([]models.MediaReference, error)
}

type ReconcileRunner interface {
	Reconcile(ctx context.Context) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	conversions Conversions
	media       MediaService
	reconciler  ReconcileRunner
	db          Pinger
	validator   *validator.Validate
}

func NewHandler(conversions Conversions, mediaSvc MediaService, reconciler ReconcileRunner, db Pinger) *Handler {
	return &Handler{
		conversions: conversions,
		media:       mediaSvc,
		reconciler:  reconciler,
		db:          db,
		validator:   validator.New(),
	}
}

func (h *Handler) SubmitConversion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConversionBody)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, fh, err := r.FormFile("video")
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			writeJSONError(w, `missing video file: form field key should be "video"`, http.StatusBadRequest)
		} else {
			writeJSONError(w, "an error occurred while uploading the file: "+err.Error(), http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	params := submitConversionParams{ItemID: r.Form.Get("item_id")}
	if err := h.validator.Struct(params); err != nil {
		writeValidationErrors(w, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res, err := h.conversions.Submit(r.Context(), data, fh.Filename, fh.Header.Get("Content-Type"), params.ItemID)
	if err != nil {
		writeConversionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, conversionAcceptedResponse{
		TaskID:        res.TaskID,
		Status:        "processing",
		Message:       "Video uploaded and conversion started in background",
		VideoFilename: res.SourceKey,
		GIFFilename:   res.TargetKey,
	})
}

func (h *Handler) GetConversionStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	gifFilename := r.URL.Query().Get("gif_filename")
	if gifFilename == "" {
		writeJSONError(w, "gif_filename query parameter is required", http.StatusBadRequest)
		return
	}

	st, err := h.conversions.GetStatus(r.Context(), taskID, gifFilename)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeJSONError(w, "conversion not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := conversionStatusResponse{TaskID: st.TaskID, Status: string(st.State)}
	switch st.State {
	case models.JobCompleted:
		resp.GIFURL = st.GIFURL
		resp.Message = "Video successfully converted to GIF"
	case models.JobFailed:
		resp.Message = st.Detail
	default:
		resp.Message = "Video conversion in progress"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ReconcileMedia(w http.ResponseWriter, r *http.Request) {
	updated, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Reconciled: updated})
}

func (h *Handler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMediaBody)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeMultipartError(w, err)
		return
	}

	params := itemMediaParams{ItemID: chi.URLParam(r, "itemID")}
	if err := h.validator.Struct(params); err != nil {
		writeValidationErrors(w, err)
		return
	}

	var uploads []media.Upload
	for _, field := range []string{"images", "video"} {
		for _, fh := range r.MultipartForm.File[field] {
			up, err := readUpload(fh)
			if err != nil {
				writeJSONError(w, "an error occurred while uploading the file: "+err.Error(), http.StatusBadRequest)
				return
			}
			uploads = append(uploads, up)
		}
	}

	res, err := h.media.Attach(r.Context(), params.ItemID, uploads)
	if err != nil {
		writeConversionError(w, err)
		return
	}

	resp := attachMediaResponse{Media: res.References}
	if res.Conversion != nil {
		resp.TaskID = res.Conversion.TaskID
		resp.GIFFilename = res.Conversion.TargetKey
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	params := itemMediaParams{ItemID: chi.URLParam(r, "itemID")}
	if err := h.validator.Struct(params); err != nil {
		writeValidationErrors(w, err)
		return
	}

	rows, err := h.media.List(r.Context(), params.ItemID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, listMediaResponse{Media: rows})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "API up and running",
	})
}

func (h *Handler) DBHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

func readUpload(fh *multipart.FileHeader) (media.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return media.Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return media.Upload{}, err
	}
	return media.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
