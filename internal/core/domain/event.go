package domain

import "time"

type EventType string

const (
	EventIngestComplete EventType = "ingest_complete"
	EventFinalAnswer    EventType = "final_answer"
	EventPipelineError  EventType = "pipeline_error"
)

// PipelineEvent is what the coordinator hands to the layer outside the pipeline
// when a request chain terminates.
type PipelineEvent struct {
	Type    EventType `json:"event"`
	TraceID string    `json:"trace_id"`
	Stage   string    `json:"stage,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
