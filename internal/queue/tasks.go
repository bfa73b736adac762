package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

type ProcessImagePayload struct {
	JobID       string        `json:"job_id"`
	UserID      string        `json:"user_id,omitempty"`
	SourceType  string        `json:"source_type"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	ObjectKey   string        `json:"object_key"`
	Steps       []domain.Step `json:"steps"`
	RequestedAt time.Time     `json:"requested_at"`
	// TraceContext carries the enqueuing request's span so the worker span
	// joins the same trace.
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}

// PayloadForJob captures everything the worker needs so it never has to
// read the job row before starting.
func PayloadForJob(job domain.Job, requestedAt time.Time) ProcessImagePayload {
	return ProcessImagePayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Steps:       job.Steps,
		RequestedAt: requestedAt,
	}
}
