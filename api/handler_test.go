package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kenmoh/servipalbackend/media"
	"github.com/kenmoh/servipalbackend/models"
	"github.com/kenmoh/servipalbackend/orchestrator"
)

const testItemID = "a81bc81b-dead-4e5d-abff-90865d1e13b1"

type fakeConversions struct {
	submitRes *orchestrator.SubmitResult
	submitErr error
	status    *orchestrator.Status
	statusErr error

	submittedFiles []string
	gotTaskID      string
	gotTargetKey   string
}

func (f *fakeConversions) Submit(_ context.Context, _ []byte, filename, _, _ string) (*orchestrator.SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submittedFiles = append(f.submittedFiles, filename)
	return f.submitRes, nil
}

func (f *fakeConversions) GetStatus(_ context.Context, taskID, targetKey string) (*orchestrator.Status, error) {
	f.gotTaskID = taskID
	f.gotTargetKey = targetKey
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

type fakeMedia struct {
	attachRes *media.AttachResult
	attachErr error
	rows      []models.MediaReference

	gotItemID  string
	gotUploads []media.Upload
}

func (f *fakeMedia) Attach(_ context.Context, itemID string, uploads []media.Upload) (*media.AttachResult, error) {
	f.gotItemID = itemID
	f.gotUploads = uploads
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return f.attachRes, nil
}

func (f *fakeMedia) List(_ context.Context, itemID string) ([]models.MediaReference, error) {
	f.gotItemID = itemID
	return f.rows, nil
}

type fakeReconciler struct {
	updated int
	err     error
}

func (f *fakeReconciler) Reconcile(context.Context) (int, error) {
	return f.updated, f.err
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(conv *fakeConversions, med *fakeMedia, rec *fakeReconciler, db *fakePinger) *httptest.Server {
	if conv == nil {
		conv = &fakeConversions{}
	}
	if med == nil {
		med = &fakeMedia{}
	}
	if rec == nil {
		rec = &fakeReconciler{}
	}
	if db == nil {
		db = &fakePinger{}
	}
	return httptest.NewServer(NewRouter(NewHandler(conv, med, rec, db)))
}

type filePart struct {
	field string
	name  string
	data  []byte
}

func multipartBody(t *testing.T, parts []filePart, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(p.data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func TestSubmitConversion_Accepted(t *testing.T) {
	t.Parallel()

	conv := &fakeConversions{
		submitRes: &orchestrator.SubmitResult{
			TaskID:     "task-1",
			SourceName: "clip.mp4",
			SourceKey:  "task-1-clip.mp4",
			TargetKey:  "task-1-clip.gif",
		},
	}
	srv := newTestServer(conv, nil, nil, nil)
	defer srv.Close()

	body, contentType := multipartBody(t, []filePart{
		{field: "video", name: "clip.mp4", data: []byte("fake video content")},
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/conversions", contentType, body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var got conversionAcceptedResponse
	decodeBody(t, resp, &got)
	if got.TaskID != "task-1" || got.Status != "processing" {
		t.Errorf("unexpected response: %+v", got)
	}
	if got.VideoFilename != "task-1-clip.mp4" || got.GIFFilename != "task-1-clip.gif" {
		t.Errorf("unexpected filenames: %+v", got)
	}
	if got.Message != "Video uploaded and conversion started in background" {
		t.Errorf("unexpected message: %q", got.Message)
	}
	if len(conv.submittedFiles) != 1 || conv.submittedFiles[0] != "clip.mp4" {
		t.Errorf("expected one submit for clip.mp4, got %v", conv.submittedFiles)
	}
}

func TestSubmitConversion_MissingFile(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	body, contentType := multipartBody(t, nil, map[string]string{"item_id": testItemID})
	resp, err := http.Post(srv.URL+"/api/v1/conversions", contentType, body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var apiErr APIError
	decodeBody(t, resp, &apiErr)
	if !strings.Contains(apiErr.Error, `form field key should be "video"`) {
		t.Errorf("unexpected error message: %q", apiErr.Error)
	}
}

func TestSubmitConversion_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"payload too large", fmt.Errorf("%w: got 30000000 bytes", orchestrator.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge},
		{"unsupported type", fmt.Errorf("%w: detected text/plain", orchestrator.ErrUnsupportedMediaType), http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(&fakeConversions{submitErr: tt.err}, nil, nil, nil)
			defer srv.Close()

			body, contentType := multipartBody(t, []filePart{
				{field: "video", name: "clip.mp4", data: []byte("x")},
			}, nil)

			resp, err := http.Post(srv.URL+"/api/v1/conversions", contentType, body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, resp.StatusCode)
			}
		})
	}
}

func TestSubmitConversion_RejectsBadItemID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	body, contentType := multipartBody(t, []filePart{
		{field: "video", name: "clip.mp4", data: []byte("x")},
	}, map[string]string{"item_id": "not-a-uuid"})

	resp, err := http.Post(srv.URL+"/api/v1/conversions", contentType, body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var fields map[string]string
	decodeBody(t, resp, &fields)
	if fields["ItemID"] == "" {
		t.Errorf("expected ItemID validation error, got %v", fields)
	}
}

func TestGetConversionStatus_RequiresGifFilename(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/conversions/task-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetConversionStatus_Completed(t *testing.T) {
	t.Parallel()

	conv := &fakeConversions{
		status: &orchestrator.Status{
			TaskID: "task-1",
			State:  models.JobCompleted,
			GIFURL: "https://servipal.s3.amazonaws.com/task-1-clip.gif",
		},
	}
	srv := newTestServer(conv, nil, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/conversions/task-1?gif_filename=task-1-clip.gif")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got conversionStatusResponse
	decodeBody(t, resp, &got)
	if got.Status != "completed" {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.GIFURL != "https://servipal.s3.amazonaws.com/task-1-clip.gif" {
		t.Errorf("unexpected gif_url: %q", got.GIFURL)
	}
	if got.Message != "Video successfully converted to GIF" {
		t.Errorf("unexpected message: %q", got.Message)
	}

	if conv.gotTaskID != "task-1" || conv.gotTargetKey != "task-1-clip.gif" {
		t.Errorf("handler passed %q/%q to GetStatus", conv.gotTaskID, conv.gotTargetKey)
	}
}

func TestGetConversionStatus_NotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeConversions{statusErr: orchestrator.ErrNotFound}, nil, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/conversions/ghost?gif_filename=ghost.gif")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestReconcileMedia(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, &fakeReconciler{updated: 3}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/conversions/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got reconcileResponse
	decodeBody(t, resp, &got)
	if got.Reconciled != 3 {
		t.Errorf("expected 3 reconciled, got %d", got.Reconciled)
	}
}

func TestAttachMedia_Created(t *testing.T) {
	t.Parallel()

	med := &fakeMedia{
		attachRes: &media.AttachResult{
			References: []models.MediaReference{
				{ID: "r1", ItemID: testItemID, URL: "https://x/1.png", Kind: models.MediaKindImage},
				{ID: "r2", ItemID: testItemID, URL: "video_processing:clip.mp4:task-1", Kind: models.MediaKindPendingVideo},
			},
			Conversion: &orchestrator.SubmitResult{
				TaskID:    "task-1",
				TargetKey: "task-1-clip.gif",
			},
		},
	}
	srv := newTestServer(nil, med, nil, nil)
	defer srv.Close()

	body, contentType := multipartBody(t, []filePart{
		{field: "images", name: "front.png", data: []byte("png bytes")},
		{field: "video", name: "clip.mp4", data: []byte("video bytes")},
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/items/"+testItemID+"/media", contentType, body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got attachMediaResponse
	decodeBody(t, resp, &got)
	if len(got.Media) != 2 {
		t.Errorf("expected 2 rows, got %d", len(got.Media))
	}
	if got.TaskID != "task-1" || got.GIFFilename != "task-1-clip.gif" {
		t.Errorf("expected conversion fields, got %+v", got)
	}

	if med.gotItemID != testItemID {
		t.Errorf("expected item id passed through, got %q", med.gotItemID)
	}
	if len(med.gotUploads) != 2 {
		t.Errorf("expected 2 uploads passed to service, got %d", len(med.gotUploads))
	}
}

func TestAttachMedia_RejectsBadItemID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	body, contentType := multipartBody(t, []filePart{
		{field: "images", name: "front.png", data: []byte("png bytes")},
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/items/not-a-uuid/media", contentType, body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListMedia(t *testing.T) {
	t.Parallel()

	med := &fakeMedia{
		rows: []models.MediaReference{
			{ID: "r1", ItemID: testItemID, URL: "https://x/1.png", Kind: models.MediaKindImage},
		},
	}
	srv := newTestServer(nil, med, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/items/" + testItemID + "/media")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got listMediaResponse
	decodeBody(t, resp, &got)
	if len(got.Media) != 1 || got.Media[0].ID != "r1" {
		t.Errorf("unexpected rows: %+v", got.Media)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, &fakePinger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health map[string]string
	decodeBody(t, resp, &health)
	if health["status"] != "OK" {
		t.Errorf("unexpected health body: %v", health)
	}

	resp, err = http.Get(srv.URL + "/api/db")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var db map[string]string
	decodeBody(t, resp, &db)
	if db["database"] != "connected" {
		t.Errorf("unexpected db health body: %v", db)
	}
}

func TestDBHealth_Unhealthy(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil, &fakePinger{err: fmt.Errorf("connection refused")})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/db")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var db map[string]string
	decodeBody(t, resp, &db)
	if db["database"] != "disconnected" {
		t.Errorf("unexpected body: %v", db)
	}
}
