package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProcessor_FileInTransformFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := encodePNG(t, texturedImage(240, 120))
	require.NoError(t, os.WriteFile(inputPath, srcBytes, 0o644))

	processor, err := NewLocalProcessor(newTestEngine(DefaultLimits()), outputDir, 2)
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Steps: []domain.Step{
			{ID: "thumb_small", Params: map[string]string{"width": "80", "format": "jpg", "quality": "75"}},
			{ID: "gray", Params: map[string]string{"grayscale": "true"}},
			{ID: "budget", Params: map[string]string{"format": "jpeg", "targetSizeBytes": "4000"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 3)
	assert.Equal(t, len(srcBytes), result.SourceBytes)

	resized := result.Outputs[0]
	assert.Equal(t, "thumb_small", resized.StepID)
	assert.Equal(t, "jpg", resized.Format)
	assert.Equal(t, 75, resized.Quality)
	assert.Equal(t, filepath.Join(outputDir, "job-local-1", "thumb_small.jpg"), resized.Path)
	written, err := os.ReadFile(resized.Path)
	require.NoError(t, err)
	assert.Equal(t, 80, decodeImage(t, written).Bounds().Dx())

	gray := result.Outputs[1]
	assert.Equal(t, "gray", gray.StepID)
	assert.Equal(t, "png", gray.Format)
	assert.Equal(t, 240, gray.Width)

	budget := result.Outputs[2]
	assert.Equal(t, "budget", budget.StepID)
	assert.GreaterOrEqual(t, budget.Probes, 1)
	assert.LessOrEqual(t, budget.Probes, searchMaxProbes+1)
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(newTestEngine(DefaultLimits()), t.TempDir(), 1)
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Steps:      []domain.Step{{ID: "thumb_small", Params: map[string]string{"width": "120"}}},
	})
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)
}

func TestProcessorFailsOnInvalidSource(t *testing.T) {
	processor, err := NewProcessor(newTestEngine(DefaultLimits()), staticFetcher{data: []byte("nope")}, &memoryEmitter{}, 4)
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID: "job-bad",
		Steps: []domain.Step{{ID: "a"}, {ID: "b"}},
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.True(t, IsValidation(err))
}

func TestProcessorRequiresSteps(t *testing.T) {
	processor, err := NewProcessor(newTestEngine(DefaultLimits()), staticFetcher{}, &memoryEmitter{}, 1)
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{JobID: "job-empty"})
	assert.Error(t, err)

	_, err = processor.Process(context.Background(), Request{Steps: []domain.Step{{ID: "a"}}})
	assert.Error(t, err)
}

func TestObjectStoreProcessorWritesOutputs(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{
		"uploads/job-s3/source": encodePNG(t, texturedImage(64, 64)),
	}}
	processor, err := NewObjectStoreProcessor(
		newTestEngine(DefaultLimits()),
		ObjectStoreFetcher{Storage: bucket},
		ObjectStoreEmitter{Storage: bucket},
		2,
	)
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-s3",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-s3/source",
		Steps:      []domain.Step{{ID: "small", Params: map[string]string{"width": "32", "format": "jpeg"}}},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)

	key := "outputs/job-s3/small.jpg"
	assert.Equal(t, key, result.Outputs[0].Path)
	assert.Equal(t, "image/jpeg", bucket.contentTypes[key])
	assert.Equal(t, 32, decodeImage(t, bucket.objects[key]).Bounds().Dx())
	assert.Equal(t, DefaultLimits().MaxSourceBytes, bucket.lastMax)
}

func TestObjectStoreFetcherMapsOversizedObjects(t *testing.T) {
	fetcher := ObjectStoreFetcher{Storage: &fakeBucket{tooLarge: true}, MaxBytes: 10}
	_, err := fetcher.Fetch(context.Background(), Request{SourceType: SourceTypeS3Presigned, ObjectKey: "k"})
	assert.ErrorIs(t, err, ErrSourceTooLarge)
}

func BenchmarkProcessorResize(b *testing.B) {
	source := encodePNG(b, texturedImage(1920, 1080))
	processor, err := NewProcessor(newTestEngine(DefaultLimits()), staticFetcher{data: source}, &memoryEmitter{}, 1)
	require.NoError(b, err)

	req := Request{
		JobID: "bench",
		Steps: []domain.Step{{ID: "resize_640_jpeg", Params: map[string]string{"width": "640", "format": "jpeg", "quality": "82"}}},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-resize-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorTargetSize(b *testing.B) {
	source := encodePNG(b, texturedImage(1920, 1080))
	processor, err := NewProcessor(newTestEngine(DefaultLimits()), staticFetcher{data: source}, &memoryEmitter{}, 1)
	require.NoError(b, err)

	req := Request{
		JobID: "bench",
		Steps: []domain.Step{{ID: "target_50k", Params: map[string]string{"format": "jpeg", "targetSize": "50"}}},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-target-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type memoryEmitter struct {
	mu      sync.Mutex
	emitted int
}

func (e *memoryEmitter) Emit(_ context.Context, _ Request, stepID string, result EncodeResult) (Output, error) {
	e.mu.Lock()
	e.emitted++
	e.mu.Unlock()
	return outputFor(stepID, "", result), nil
}

type fakeBucket struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	lastMax      int64
	tooLarge     bool
}

func (f *fakeBucket) ReadObject(_ context.Context, key string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMax = maxBytes
	if f.tooLarge {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectTooLarge, key)
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeBucket) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	if f.contentTypes == nil {
		f.contentTypes = map[string]string{}
	}
	f.objects[key] = data
	f.contentTypes[key] = contentType
	return nil
}
