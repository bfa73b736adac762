package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStoreFetcher reads job sources from the bucket. MaxBytes mirrors the
// engine's upload cap so oversized objects fail before they are buffered.
type ObjectStoreFetcher struct {
	Storage  objectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	data, err := f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
	if errors.Is(err, storage.ErrObjectTooLarge) {
		return nil, fmt.Errorf("%w: %v", ErrSourceTooLarge, err)
	}
	return data, err
}

type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, stepID string, result EncodeResult) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return Output{}, errors.New("step id is required")
	}

	objectKey := storage.OutputKey(e.OutputPrefix, sanitizePathToken(req.JobID), outputFilename(stepID, result.Format))
	if err := e.Storage.WriteObject(ctx, objectKey, result.Bytes, result.MIMEType); err != nil {
		return Output{}, err
	}

	return outputFor(stepID, objectKey, result), nil
}

func NewObjectStoreProcessor(engine *Engine, fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, concurrency int) (*Processor, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if fetcher.MaxBytes <= 0 {
		fetcher.MaxBytes = engine.Limits().MaxSourceBytes
	}
	return NewProcessor(engine, fetcher, emitter, concurrency)
}
