package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelfit/internal/domain"
	"golang.org/x/sync/errgroup"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Steps      []domain.Step
}

type Output = domain.StepOutput

type Result struct {
	SourceBytes int
	Outputs     []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, stepID string, result EncodeResult) (Output, error)
}

// Processor runs every step of a job through the engine against one fetched
// source. Steps run concurrently up to the configured limit; outputs keep
// step order.
type Processor struct {
	fetcher     Fetcher
	engine      *Engine
	emitter     Emitter
	concurrency int
}

func NewProcessor(engine *Engine, fetcher Fetcher, emitter Emitter, concurrency int) (*Processor, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	return &Processor{
		fetcher:     fetcher,
		engine:      engine,
		emitter:     emitter,
		concurrency: max(1, concurrency),
	}, nil
}

func NewLocalProcessor(engine *Engine, outputDir string, concurrency int) (*Processor, error) {
	return NewProcessor(engine, LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, concurrency)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Steps) == 0 {
		return Result{}, errors.New("job must contain at least one step")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	outputs := make([]Output, len(req.Steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, step := range req.Steps {
		g.Go(func() error {
			encoded, err := p.engine.Process(gctx, TransformRequest{
				Source:       sourceBytes,
				Config:       step.Config(),
				FormatPolicy: FormatFromConfig,
			})
			if err != nil {
				return fmt.Errorf("transform stage step=%s: %w", step.ID, err)
			}

			written, err := p.emitter.Emit(gctx, req, step.ID, encoded)
			if err != nil {
				return fmt.Errorf("emit stage step=%s: %w", step.ID, err)
			}
			outputs[i] = written
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{SourceBytes: len(sourceBytes), Outputs: outputs}, nil
}

func outputFor(stepID, path string, result EncodeResult) Output {
	return Output{
		StepID:    stepID,
		Format:    result.Format.Extension(),
		Path:      path,
		Bytes:     result.ProcessedSize,
		Width:     result.Width,
		Height:    result.Height,
		Quality:   result.QualityUsed,
		Probes:    result.Probes,
		TargetMet: result.TargetMet,
	}
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, stepID string, result EncodeResult) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(stepID) == "" {
		return Output{}, errors.New("step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputFilename(stepID, result.Format))
	if err := os.WriteFile(fullPath, result.Bytes, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(stepID, fullPath, result), nil
}

func outputFilename(stepID string, format domain.Format) string {
	return fmt.Sprintf("%s.%s", sanitizePathToken(stepID), format.Extension())
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
