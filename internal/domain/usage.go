package domain

import "time"

// UsageLog is one billing row per finished job.
type UsageLog struct {
	UserID          string    `json:"user_id"`
	JobID           string    `json:"job_id"`
	PixelsProcessed int64     `json:"pixels_processed"`
	BytesSaved      int64     `json:"bytes_saved"`
	ComputeTimeMS   int64     `json:"compute_time_ms"`
	OptimizerProbes int64     `json:"optimizer_probes"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewUsageLog totals the outputs of one job. Every output is charged
// against the same source, so savings are measured against the source
// once and never go negative. Compute time is at least one millisecond.
func NewUsageLog(userID, jobID string, sourceBytes int, outputs []StepOutput, compute time.Duration, now time.Time) UsageLog {
	usage := UsageLog{
		UserID:        userID,
		JobID:         jobID,
		ComputeTimeMS: max(compute.Milliseconds(), 1),
		CreatedAt:     now.UTC(),
	}

	outputBytes := 0
	for _, output := range outputs {
		usage.PixelsProcessed += int64(output.Width) * int64(output.Height)
		usage.OptimizerProbes += int64(output.Probes)
		outputBytes += output.Bytes
	}
	usage.BytesSaved = max(int64(sourceBytes-outputBytes), 0)
	return usage
}
