package models

import "time"

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ConversionJob is one requested video-to-GIF conversion. The same struct is
// serialized onto the queue and into the status cache; workers fetch the
// actual bytes by SourceKey, never from the payload.
type ConversionJob struct {
	TaskID     string    `json:"taskId"`
	ItemID     string    `json:"itemId,omitempty"`
	SourceName string    `json:"sourceName"`
	SourceKey  string    `json:"sourceKey"`
	TargetKey  string    `json:"targetKey"`
	State      JobState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	CreatedAt  time.Time `json:"createdAt"`
	Timeout    int       `json:"timeout"`
}
