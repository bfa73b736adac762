package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelfit/internal/config"
	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/dunamismax/pixelfit/internal/queue"
	"github.com/dunamismax/pixelfit/internal/storage"
	"github.com/dunamismax/pixelfit/internal/store"
	"github.com/dunamismax/pixelfit/internal/telemetry"
	"github.com/dunamismax/pixelfit/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errObjectStoreUnavailable = errors.New("object storage is not configured")

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  jobProcessor
	objectProcessor jobProcessor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type jobProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Deliver(ctx context.Context, endpoint string, event webhook.JobEvent) error
}

// Options wires a worker. Storage may be nil, in which case only local_file
// jobs can run. UsageStore defaults to JobStore when it implements both.
type Options struct {
	Logger     *log.Logger
	Queue      config.QueueConfig
	Worker     config.WorkerConfig
	Engine     *pipeline.Engine
	Storage    *storage.Client
	Webhook    webhookSender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(opts Options) (*Server, error) {
	s, err := newServer(opts)
	if err != nil {
		return nil, err
	}

	logger := s.logger
	s.server = asynq.NewServer(
		opts.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: opts.Worker.Concurrency,
			Queues: map[string]int{
				opts.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	localProcessor, err := pipeline.NewLocalProcessor(opts.Engine, opts.Worker.LocalOutputDir, opts.Worker.StepConcurrency)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	var objectProcessor jobProcessor
	if opts.Storage != nil {
		objectProcessor, err = pipeline.NewObjectStoreProcessor(
			opts.Engine,
			pipeline.ObjectStoreFetcher{Storage: opts.Storage},
			pipeline.ObjectStoreEmitter{Storage: opts.Storage, OutputPrefix: storage.DefaultOutputPrefix},
			opts.Worker.StepConcurrency,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	usageStore := opts.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := opts.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	return &Server{
		logger:          opts.Logger,
		sem:             make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   opts.Webhook,
		jobStore:        opts.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixelfit/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx = telemetry.Extract(ctx, payload.TraceContext)
	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.steps", len(payload.Steps)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s steps=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Steps),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		permanent := isPermanent(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		if !permanent && !finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		s.completeJob(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		s.dispatchWebhook(ctx, payload, webhook.JobEvent{
			JobID:      payload.JobID,
			Status:     domain.JobStatusFailed,
			Error:      err.Error(),
			FinishedAt: time.Now().UTC(),
		})
		if permanent {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	var outputBytes int
	for _, output := range result.Outputs {
		outputBytes += output.Bytes
	}
	s.logger.Printf("Processed job_id=%s outputs=%d source=%s output=%s",
		payload.JobID, len(result.Outputs), humanize.Bytes(uint64(result.SourceBytes)), humanize.Bytes(uint64(outputBytes)))

	s.completeJob(ctx, payload.JobID, domain.JobStatusSucceeded, result.Outputs, "")
	s.metrics.observeOutputs(result.Outputs)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusSucceeded,
		Outputs:    result.Outputs,
		FinishedAt: time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.ProcessImagePayload) (pipeline.Result, error) {
	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Steps:      payload.Steps,
	}

	switch strings.ToLower(payload.SourceType) {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	case domain.SourceTypeS3Presigned:
		if s.objectProcessor == nil {
			return pipeline.Result{}, errObjectStoreUnavailable
		}
		return s.objectProcessor.Process(ctx, request)
	default:
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
}

// isPermanent reports failures that would fail the same way on retry.
func isPermanent(err error) bool {
	return pipeline.IsValidation(err) ||
		errors.Is(err, pipeline.ErrEncoderUnavailable) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, storage.ErrObjectNotFound) ||
		errors.Is(err, errObjectStoreUnavailable)
}

// finalAttempt is true outside asynq (no retry metadata) and on the last
// allowed retry.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID, status string, outputs []domain.StepOutput, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, status, outputs, errMsg); err != nil {
		s.logger.Printf("job completion failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook delivers the terminal event. The client retries on its
// own, so a delivery failure is logged and counted but leaves the job
// result intact.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	name := webhook.EventFor(event.Status)
	event.Event = name
	if err := s.webhookClient.Deliver(ctx, payload.WebhookURL, event); err != nil {
		s.metrics.webhookFailures.WithLabelValues(name).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, name, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	usage := domain.NewUsageLog(s.userFor(ctx, payload), payload.JobID, result.SourceBytes, result.Outputs, computeDuration, time.Now())
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}

func (s *Server) userFor(ctx context.Context, payload queue.ProcessImagePayload) string {
	if userID := strings.TrimSpace(payload.UserID); userID != "" {
		return userID
	}
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			return job.UserID
		}
	}
	return "anonymous"
}
