package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxJobSteps = 16
)

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	WebhookURL string `json:"webhook_url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	Steps      []Step `json:"steps"`
}

// Step is one requested output of a job. Params carries the same flat field
// set accepted by the synchronous endpoints and is normalized by the worker.
type Step struct {
	ID     string            `json:"id"`
	Params map[string]string `json:"params,omitempty"`
}

func (s Step) Config() EncodeConfig {
	return NormalizeParams(s.Params)
}

// StepOutput is the persisted outcome of one step.
type StepOutput struct {
	StepID    string `json:"step_id"`
	Format    string `json:"format"`
	Path      string `json:"path"`
	Bytes     int    `json:"bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   int    `json:"quality"`
	Probes    int    `json:"probes"`
	TargetMet bool   `json:"target_met"`
}

type Job struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id,omitempty"`
	Status     string       `json:"status"`
	SourceType string       `json:"source_type"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	Steps      []Step       `json:"steps"`
	ObjectKey  string       `json:"object_key"`
	Outputs    []StepOutput `json:"outputs,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Steps) == 0 {
		return errors.New("steps must contain at least one step")
	}
	if len(r.Steps) > MaxJobSteps {
		return fmt.Errorf("steps must contain at most %d steps", MaxJobSteps)
	}

	seen := make(map[string]struct{}, len(r.Steps))
	for i, step := range r.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("steps[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("steps[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		if raw, ok := step.Params["format"]; ok && strings.TrimSpace(raw) != "" {
			format, known := ParseFormat(raw)
			if !known || !format.Encodable() {
				return fmt.Errorf("steps[%d].params.format %q is not supported", i, raw)
			}
		}
	}
	return nil
}
