package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/dunamismax/pixelfit/internal/queue"
	"github.com/dunamismax/pixelfit/internal/ratelimit"
	"github.com/dunamismax/pixelfit/internal/storage"
	"github.com/dunamismax/pixelfit/internal/store"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ProcessImagePayload
	err      error
}

func (q *fakeQueue) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: "task-" + payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]int64
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "http://minio.test/" + objectKey + "?X-Amz-Signature=abc", nil
}

func (s *fakeStorage) PresignedGetURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "http://minio.test/" + objectKey + "?X-Amz-Signature=get", nil
}

func (s *fakeStorage) StatObject(_ context.Context, objectKey string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.objects[objectKey]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: objectKey, Size: size}, nil
}

func (s *fakeStorage) put(objectKey string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey] = size
}

type fakeLimiter struct {
	mu    sync.Mutex
	deny  bool
	costs []int
}

func (l *fakeLimiter) AllowN(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.costs = append(l.costs, cost)
	if l.deny {
		return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
	}
	return ratelimit.Decision{Allowed: true, Remaining: 9}, nil
}

type testServer struct {
	handler http.Handler
	queue   *fakeQueue
	storage *fakeStorage
	jobs    *store.MemoryJobStore
	limiter *fakeLimiter
}

func newTestServer(t *testing.T, limits pipeline.Limits) *testServer {
	t.Helper()

	engine, err := pipeline.NewDefaultEngine(limits)
	require.NoError(t, err)
	return newTestServerWith(t, engine, nil)
}

func newTestServerWith(t *testing.T, engine *pipeline.Engine, configure func(*Options)) *testServer {
	t.Helper()

	ts := &testServer{
		queue:   &fakeQueue{},
		storage: &fakeStorage{objects: map[string]int64{}},
		jobs:    store.NewMemoryJobStore(),
		limiter: &fakeLimiter{},
	}
	opts := Options{
		Logger:      log.New(io.Discard, "", 0),
		Engine:      engine,
		Queue:       ts.queue,
		JobStore:    ts.jobs,
		Storage:     ts.storage,
		RateLimiter: ts.limiter,
	}
	if configure != nil {
		configure(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x ^ y) & 0xff), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, field string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile(field, "upload.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["codec"])
}

func TestProcessKeepsSourceFormat(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	req := multipartRequest(t, "/api/process", "file", sampleJPEG(t, 640, 480), map[string]string{
		"width":   "320",
		"format":  "png",
		"quality": "80",
	})

	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))

	body := decodeBody[transformResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "jpg", body.Format)
	assert.Equal(t, "image/jpeg", body.MIMEType)
	assert.Equal(t, 80, body.Quality)
	assert.Equal(t, dimensions{Width: 640, Height: 480}, body.OriginalDimensions)
	assert.Equal(t, dimensions{Width: 320, Height: 240}, body.Dimensions)
	assert.True(t, strings.HasPrefix(body.ImageURL, "data:image/jpeg;base64,"))
	assert.GreaterOrEqual(t, body.SavedPercent, 0.0)
	assert.Equal(t, []int{1}, ts.limiter.costs)
}

func TestProcessAcceptsImageFieldAlias(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	rec := ts.do(t, multipartRequest(t, "/api/process", "image", sampleJPEG(t, 64, 64), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestConvertHonoursFormat(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	rec := ts.do(t, multipartRequest(t, "/api/convert", "file", sampleJPEG(t, 96, 64), map[string]string{
		"format": "png",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[transformResponse](t, rec)
	assert.Equal(t, "png", body.Format)
	assert.Equal(t, "image/png", body.MIMEType)
	assert.True(t, strings.HasPrefix(body.ImageURL, "data:image/png;base64,"))
}

func TestTargetSizeCostsTwoTokens(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	rec := ts.do(t, multipartRequest(t, "/api/process", "file", sampleJPEG(t, 256, 256), map[string]string{
		"targetSize": "4",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int{targetSizeCost}, ts.limiter.costs)
}

func TestTransformValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		limits  pipeline.Limits
		req     func(t *testing.T) *http.Request
		wantErr string
	}{
		{
			name:   "missing file",
			limits: pipeline.DefaultLimits(),
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/process", "file", nil, map[string]string{"quality": "50"})
			},
			wantErr: "no image file provided",
		},
		{
			name:   "not multipart",
			limits: pipeline.DefaultLimits(),
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader("{}"))
			},
			wantErr: "no image file provided",
		},
		{
			name:   "undecodable",
			limits: pipeline.DefaultLimits(),
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/process", "file", []byte("definitely not an image"), nil)
			},
			wantErr: pipeline.ErrUnsupportedFormat.Error(),
		},
		{
			name:   "too large",
			limits: pipeline.Limits{MaxSourceBytes: 512, MaxDimension: 20_000},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/process", "file", sampleJPEG(t, 128, 128), nil)
			},
			wantErr: pipeline.ErrSourceTooLarge.Error(),
		},
		{
			name:   "dimensions too large",
			limits: pipeline.Limits{MaxSourceBytes: 100 << 20, MaxDimension: 100},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/process", "file", sampleJPEG(t, 128, 64), nil)
			},
			wantErr: pipeline.ErrDimensionsTooLarge.Error(),
		},
		{
			name:   "convert without format",
			limits: pipeline.DefaultLimits(),
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/convert", "file", sampleJPEG(t, 32, 32), nil)
			},
			wantErr: "format is required",
		},
		{
			name:   "convert to bmp",
			limits: pipeline.DefaultLimits(),
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/convert", "file", sampleJPEG(t, 32, 32), map[string]string{"format": "bmp"})
			},
			wantErr: "unsupported output format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, tc.limits)
			rec := ts.do(t, tc.req(t))

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
			body := decodeBody[transformError](t, rec)
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tc.wantErr)
		})
	}
}

func TestRateLimitRejects(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	ts.limiter.deny = true

	rec := ts.do(t, multipartRequest(t, "/api/process", "file", sampleJPEG(t, 32, 32), nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{}`))
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPresignedJobLifecycle(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())

	create := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"source_type": "s3_presigned",
		"webhook_url": "https://example.test/hook",
		"steps": [
			{"id": "thumb", "params": {"width": "320", "format": "webp"}},
			{"id": "budget", "params": {"targetSize": "50"}}
		]
	}`))
	create.Header.Set("X-User-ID", "user-42")
	rec := ts.do(t, create)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Upload struct {
			ObjectKey       string `json:"object_key"`
			PresignedPutURL string `json:"presigned_put_url"`
		} `json:"upload"`
		StartURL string `json:"start_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.JobStatusCreated, created.Status)
	assert.Equal(t, "uploads/"+created.JobID+"/source", created.Upload.ObjectKey)
	assert.Contains(t, created.Upload.PresignedPutURL, created.Upload.ObjectKey)

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "source not uploaded yet")

	ts.storage.put(created.Upload.ObjectKey, 2048)
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, ts.queue.payloads, 1)
	payload := ts.queue.payloads[0]
	assert.Equal(t, created.JobID, payload.JobID)
	assert.Equal(t, "user-42", payload.UserID)
	require.Len(t, payload.Steps, 2)
	assert.Equal(t, "budget", payload.Steps[1].ID)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[domain.Job](t, rec)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "user-42", job.UserID)

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, created.StartURL, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "a queued job cannot start twice")
}

func TestPresignedJobRejectsOversizedSource(t *testing.T) {
	limits := pipeline.DefaultLimits()
	limits.MaxSourceBytes = 1024
	ts := newTestServer(t, limits)

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"source_type": "s3_presigned",
		"steps": [{"id": "a"}]
	}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID  string `json:"job_id"`
		Upload struct {
			ObjectKey string `json:"object_key"`
		} `json:"upload"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	ts.storage.put(created.Upload.ObjectKey, 4096)
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit is 1024")
	assert.Empty(t, ts.queue.payloads)
}

func TestGetJobAddsDownloadURLs(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	ctx := context.Background()
	now := time.Now().UTC()

	for _, job := range []domain.Job{
		{ID: "job-s3", Status: domain.JobStatusCreated, SourceType: domain.SourceTypeS3Presigned, ObjectKey: "uploads/job-s3/source", CreatedAt: now, UpdatedAt: now},
		{ID: "job-local", Status: domain.JobStatusCreated, SourceType: domain.SourceTypeLocalFile, ObjectKey: "/tmp/in.jpg", CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, ts.jobs.Create(ctx, job))
	}
	_, err := ts.jobs.Complete(ctx, "job-s3", domain.JobStatusSucceeded, []domain.StepOutput{
		{StepID: "thumb", Format: "webp", Path: "outputs/job-s3/thumb.webp", Bytes: 1200, Width: 320, Height: 240},
	}, "")
	require.NoError(t, err)
	_, err = ts.jobs.Complete(ctx, "job-local", domain.JobStatusSucceeded, []domain.StepOutput{
		{StepID: "thumb", Format: "png", Path: "/tmp/out/thumb.png"},
	}, "")
	require.NoError(t, err)

	type view struct {
		Status  string `json:"status"`
		Outputs []struct {
			StepID      string `json:"step_id"`
			Path        string `json:"path"`
			Width       int    `json:"width"`
			DownloadURL string `json:"download_url"`
		} `json:"outputs"`
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-s3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[view](t, rec)
	assert.Equal(t, domain.JobStatusSucceeded, got.Status)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "outputs/job-s3/thumb.webp", got.Outputs[0].Path)
	assert.Equal(t, 320, got.Outputs[0].Width)
	assert.Equal(t, "http://minio.test/outputs/job-s3/thumb.webp?X-Amz-Signature=get", got.Outputs[0].DownloadURL)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-local", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeBody[view](t, rec)
	require.Len(t, got.Outputs, 1)
	assert.Empty(t, got.Outputs[0].DownloadURL)
}

func TestLocalFileJobRequiresExistingSource(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	source := filepath.Join(t.TempDir(), "in.jpg")

	create := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"source_type": "local_file",
		"object_key": "`+source+`",
		"steps": [{"id": "a"}]
	}`))
	rec := ts.do(t, create)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	start := "/v1/jobs/" + created.JobID + "/start"
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, start, nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, os.WriteFile(source, sampleJPEG(t, 16, 16), 0o644))
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, start, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestStartJobAlreadyEnqueued(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	source := filepath.Join(t.TempDir(), "in.jpg")
	require.NoError(t, os.WriteFile(source, sampleJPEG(t, 16, 16), 0o644))

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"source_type": "local_file",
		"object_key": "`+source+`",
		"steps": [{"id": "a"}]
	}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	ts.queue.err = fmt.Errorf("%w: %s", queue.ErrAlreadyEnqueued, created.JobID)
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already enqueued")

	job, ok, err := ts.jobs.Get(context.Background(), created.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCreated, job.Status)
}

// withoutAVIF is a codec build that cannot write AVIF.
type withoutAVIF struct {
	pipeline.Codec
}

func (withoutAVIF) CanEncode(format domain.Format) bool {
	return format != domain.FormatAVIF
}

func newWithoutAVIFServer(t *testing.T) *testServer {
	t.Helper()
	codec, err := pipeline.NewCodec()
	require.NoError(t, err)
	return newTestServerWith(t, pipeline.NewEngine(withoutAVIF{codec}, pipeline.DefaultLimits()), nil)
}

func TestConvertFormatWithoutEncoder(t *testing.T) {
	ts := newWithoutAVIFServer(t)

	rec := ts.do(t, multipartRequest(t, "/api/convert", "file", sampleJPEG(t, 32, 32), map[string]string{"format": "avif"}))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())
	body := decodeBody[transformError](t, rec)
	assert.Contains(t, body.Error, "not available")
	assert.Empty(t, ts.limiter.costs)

	rec = ts.do(t, multipartRequest(t, "/api/convert", "file", sampleJPEG(t, 32, 32), map[string]string{"format": "png"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateJobRejectsFormatWithoutEncoder(t *testing.T) {
	ts := newWithoutAVIFServer(t)

	body := `{"source_type": "s3_presigned", "steps": [{"id": "a", "params": {"format": "png"}}, {"id": "b", "params": {"format": "avif"}}]}`
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `steps[1].params.format`)
	assert.Contains(t, rec.Body.String(), "not available")
}

func TestUploadTempFilesRemoved(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	engine, err := pipeline.NewDefaultEngine(pipeline.DefaultLimits())
	require.NoError(t, err)
	ts := newTestServerWith(t, engine, func(opts *Options) {
		opts.MultipartMemory = 1024
	})

	// Big enough to spill to disk under a 1 KiB memory budget.
	upload := sampleJPEG(t, 256, 256)
	require.Greater(t, len(upload), 4096)

	rec := ts.do(t, multipartRequest(t, "/api/process", "attachment", upload, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errNoFile.Error())
	assertEmptyDir(t, tmp)

	rec = ts.do(t, multipartRequest(t, "/api/process", "file", upload, nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertEmptyDir(t, tmp)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())

	cases := map[string]string{
		"unknown field":  `{"source_type": "s3_presigned", "pipeline": []}`,
		"no steps":       `{"source_type": "s3_presigned", "steps": []}`,
		"bad format":     `{"source_type": "s3_presigned", "steps": [{"id": "a", "params": {"format": "bmp"}}]}`,
		"two documents":  `{"source_type": "s3_presigned", "steps": [{"id": "a"}]} {}`,
		"missing source": `{"steps": [{"id": "a"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetUnknownJob(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pixelfit_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs":              "/v1/jobs",
		"/v1/jobs/abc123":       "/v1/jobs/{id}",
		"/v1/jobs/abc123/start": "/v1/jobs/{id}/start",
		"/api/process":          "/api/process",
		"/api/convert":          "/api/convert",
		"/healthz":              "/healthz",
		"/favicon.ico":          "other",
	}
	for path, want := range cases {
		assert.Equal(t, want, routeLabel(path), path)
	}
}
