package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	DefaultMaxRetry    = 5
	DefaultTaskTimeout = 3 * time.Minute
)

// ErrAlreadyEnqueued is returned when a task for the same job is still
// pending or running.
var ErrAlreadyEnqueued = errors.New("job already enqueued")

type ClientOptions struct {
	Queue       string
	MaxRetry    int
	TaskTimeout time.Duration
}

type Client struct {
	client *asynq.Client
	opts   ClientOptions
}

func NewClient(redisOpt asynq.RedisClientOpt, opts ClientOptions) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts.withDefaults(),
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Queue == "" {
		o.Queue = "default"
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = DefaultMaxRetry
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	return o
}

// taskOptions keys the task on the job id so a job runs at most once at a
// time.
func (o ClientOptions) taskOptions(jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(o.Queue),
		asynq.MaxRetry(o.MaxRetry),
		asynq.Timeout(o.TaskTimeout),
		asynq.TaskID(jobID),
	}
}

func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.opts.taskOptions(payload.JobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnqueued, payload.JobID)
	}
	return info, err
}

func (c *Client) Close() error {
	return c.client.Close()
}
