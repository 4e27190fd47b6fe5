package http

import (
	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/phase"
	"github.com/fyrsmithlabs/loomd/internal/recovery"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SubmitResponse is the response body for POST /api/v1/tasks/:id/pipeline.
type SubmitResponse struct {
	TaskID  string      `json:"task_id"`
	Phase   phase.Phase `json:"phase"`
	Message string      `json:"message"`
}

// StopResponse is the response body for POST /api/v1/tasks/:id/stop.
type StopResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// BuildLogsResponse is the response body for GET /api/v1/tasks/:id/build-logs.
type BuildLogsResponse struct {
	TaskID  string               `json:"task_id"`
	Count   int                  `json:"count"`
	Entries []task.BuildLogEntry `json:"entries"`
}

// EventsResponse is the response body for GET /api/v1/events.
type EventsResponse struct {
	Count  int            `json:"count"`
	Events []events.Event `json:"events"`
}

// MarkSuccessResponse is the response body for POST /api/v1/recovery/:id/success.
type MarkSuccessResponse struct {
	RecordID   string `json:"record_id"`
	Successful bool   `json:"successful"`
}

// SuggestResponse is the response body for GET /api/v1/recovery/suggest.
type SuggestResponse struct {
	SessionID string          `json:"session_id"`
	Phase     string          `json:"phase"`
	Action    recovery.Action `json:"action"`
}

// RecoveryListResponse is the response body for GET /api/v1/recovery.
type RecoveryListResponse struct {
	SessionID string             `json:"session_id"`
	Count     int                `json:"count"`
	Records   []*recovery.Record `json:"records"`
}
