package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dunamismax/pixelfit/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FormatPolicy decides whether a caller-supplied format is honored.
type FormatPolicy int

const (
	// FormatFromSource always writes the detected source format, ignoring
	// EncodeConfig.Format. This is the behavior of the primary process
	// endpoint, where conversion is offered separately.
	FormatFromSource FormatPolicy = iota
	// FormatFromConfig writes EncodeConfig.Format when set.
	FormatFromConfig
)

type Limits struct {
	MaxSourceBytes int64
	MaxDimension   int
	Timeout        time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxSourceBytes: 100 << 20,
		MaxDimension:   20_000,
		Timeout:        30 * time.Second,
	}
}

type TransformRequest struct {
	Source       []byte
	Config       domain.EncodeConfig
	FormatPolicy FormatPolicy
}

type EncodeResult struct {
	Bytes       []byte
	MIMEType    string
	Format      domain.Format
	QualityUsed int

	OriginalSize  int
	ProcessedSize int
	SavedBytes    int
	SavedPercent  float64

	OriginalWidth  int
	OriginalHeight int
	Width          int
	Height         int

	Source    Metadata
	Probes    int
	TargetMet bool
	Duration  time.Duration
}

type Engine struct {
	codec  Codec
	limits Limits
	tracer trace.Tracer
}

func NewEngine(codec Codec, limits Limits) *Engine {
	defaults := DefaultLimits()
	if limits.MaxSourceBytes <= 0 {
		limits.MaxSourceBytes = defaults.MaxSourceBytes
	}
	if limits.MaxDimension <= 0 {
		limits.MaxDimension = defaults.MaxDimension
	}
	return &Engine{
		codec:  codec,
		limits: limits,
		tracer: otel.Tracer("pixelfit/pipeline"),
	}
}

// NewDefaultEngine builds an engine on the codec selected at build time.
func NewDefaultEngine(limits Limits) (*Engine, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return NewEngine(codec, limits), nil
}

func (e *Engine) CodecName() string {
	return e.codec.Name()
}

func (e *Engine) Limits() Limits {
	return e.limits
}

// CanEncode reports whether this build can write format.
func (e *Engine) CanEncode(format domain.Format) bool {
	return e.codec.CanEncode(format)
}

// Probe validates data against the hard caps and returns its metadata
// without decoding pixels.
func (e *Engine) Probe(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, ErrEmptySource
	}
	if int64(len(data)) > e.limits.MaxSourceBytes {
		return Metadata{}, fmt.Errorf("%w: %d bytes > %d", ErrSourceTooLarge, len(data), e.limits.MaxSourceBytes)
	}

	md, err := e.codec.Probe(data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrUndecodable) {
			return Metadata{}, err
		}
		return Metadata{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if md.Width > e.limits.MaxDimension || md.Height > e.limits.MaxDimension {
		return Metadata{}, fmt.Errorf("%w: %dx%d > %d", ErrDimensionsTooLarge, md.Width, md.Height, e.limits.MaxDimension)
	}
	return md, nil
}

// Process runs one request end to end. Validation failures are returned
// before any decode happens.
func (e *Engine) Process(ctx context.Context, req TransformRequest) (EncodeResult, error) {
	startedAt := time.Now()

	md, err := e.Probe(req.Source)
	if err != nil {
		return EncodeResult{}, err
	}

	if e.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.limits.Timeout)
		defer cancel()
	}

	cfg := req.Config
	cfg.Format = resolveOutputFormat(req.FormatPolicy, cfg.Format, md.Format)
	if !e.codec.CanEncode(cfg.Format) {
		return EncodeResult{}, fmt.Errorf("%w: %s", ErrEncoderUnavailable, cfg.Format)
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("codec", e.codec.Name()),
		attribute.String("source.format", string(md.Format)),
		attribute.Int("source.width", md.Width),
		attribute.Int("source.height", md.Height),
		attribute.Int("source.bytes", len(req.Source)),
		attribute.String("output.format", string(cfg.Format)),
	)

	render := func(ctx context.Context, quality int, fallback bool) (encoded, error) {
		return e.render(ctx, req.Source, cfg, md, quality, fallback)
	}

	var search searchResult
	if cfg.WantsTargetSize() {
		search, err = optimizeForSize(ctx, e.tracer, cfg.TargetSizeBytes, render)
	} else {
		search.encoded, err = render(ctx, cfg.Quality, false)
		search.probes = 1
		search.targetMet = true
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		return EncodeResult{}, err
	}

	result := EncodeResult{
		Bytes:          search.data,
		MIMEType:       cfg.Format.MIMEType(),
		Format:         cfg.Format,
		QualityUsed:    search.quality,
		OriginalSize:   len(req.Source),
		ProcessedSize:  len(search.data),
		OriginalWidth:  md.Width,
		OriginalHeight: md.Height,
		Width:          search.width,
		Height:         search.height,
		Source:         md,
		Probes:         search.probes,
		TargetMet:      search.targetMet,
		Duration:       time.Since(startedAt),
	}
	result.SavedBytes, result.SavedPercent = savings(result.OriginalSize, result.ProcessedSize)

	span.SetAttributes(
		attribute.Int("output.bytes", result.ProcessedSize),
		attribute.Int("output.quality", result.QualityUsed),
		attribute.Int("probes", result.Probes),
	)
	span.SetStatus(codes.Ok, "processed")
	return result, nil
}

func (e *Engine) render(ctx context.Context, source []byte, cfg domain.EncodeConfig, md Metadata, quality int, fallback bool) (encoded, error) {
	img, err := e.codec.Decode(source)
	if err != nil {
		return encoded{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	cfg.Quality = quality
	if err := applyTransforms(ctx, img, cfg, md, cfg.Format); err != nil {
		return encoded{}, fmt.Errorf("transform: %w", err)
	}

	opts := encodeOptionsFor(cfg, md)
	if fallback {
		opts = fallbackOptions(cfg, md)
	}
	data, err := img.Encode(opts)
	if err != nil {
		return encoded{}, fmt.Errorf("encode %s: %w", opts.Format, err)
	}

	return encoded{
		data:    data,
		quality: opts.Quality,
		width:   img.Width(),
		height:  img.Height(),
	}, nil
}

// savings clamps both values at zero; a result that grew saved nothing.
func savings(original, processed int) (int, float64) {
	saved := original - processed
	if saved <= 0 || original <= 0 {
		return 0, 0
	}
	percent := float64(saved) / float64(original) * 100
	return saved, math.Round(percent*100) / 100
}
