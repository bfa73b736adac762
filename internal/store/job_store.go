package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelfit/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete records the terminal state of a job together with its outputs
	// or failure message.
	Complete(ctx context.Context, id, status string, outputs []domain.StepOutput, errMsg string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
