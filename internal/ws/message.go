package ws

import (
	"time"

	"micetrack/internal/batch"
)

// ProgressMessage is the wire form of a batch event streamed to clients
type ProgressMessage struct {
	Type      string    `json:"type"` // "batch_started", "job_progress", ...
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`

	// Job fields, present for job-level events only
	Index      *int     `json:"index,omitempty"`
	VideoName  string   `json:"video_name,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	Status     string   `json:"status,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewProgressMessage converts a batch event into its wire form
func NewProgressMessage(ev *batch.Event) *ProgressMessage {
	msg := &ProgressMessage{
		Type:      string(ev.Type),
		BatchID:   ev.BatchID,
		Timestamp: ev.Timestamp,
	}
	if ev.Index >= 0 {
		index := ev.Index
		pct := ev.Job.Percentage
		msg.Index = &index
		msg.VideoName = ev.Job.VideoName
		msg.TaskID = ev.Job.TaskID
		msg.Status = string(ev.Job.Status)
		msg.Percentage = &pct
		msg.Error = ev.Job.Error
	}
	return msg
}
