package mnapi

import "encoding/json"

// Category is a class of scraping/analysis work with its own task queue and
// worker pool.
type Category string

const (
	CategoryCompanyDB   Category = "company-db"
	CategoryMarketIntel Category = "market-intel"
	CategorySocial      Category = "social"
)

// Categories returns all known worker categories in stable order.
func Categories() []Category {
	return []Category{CategoryCompanyDB, CategoryMarketIntel, CategorySocial}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryCompanyDB, CategoryMarketIntel, CategorySocial:
		return true
	default:
		return false
	}
}

type RegisterWorkerRequest struct {
	WorkerID string            `json:"worker_id"`
	Category Category          `json:"category"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RegisterWorkerResponse struct {
	Accepted                 bool `json:"accepted"`
	Reconnected              bool `json:"reconnected,omitempty"`
	HeartbeatIntervalSeconds int  `json:"heartbeat_interval_seconds"`
}

type HeartbeatRequest struct {
	TimestampUnix int64 `json:"timestamp_unix"`
}

type HeartbeatResponse struct {
	Accepted bool `json:"accepted"`
	// CancelTaskIDs carries best-effort cancel signals for tasks whose run was
	// canceled while the worker was executing them.
	CancelTaskIDs []string `json:"cancel_task_ids,omitempty"`
}

// Assignment is one unit of work handed to a worker. Payload is opaque to the
// coordinator.
type Assignment struct {
	TaskID   string          `json:"task_id"`
	RunID    string          `json:"run_id,omitempty"`
	StepKey  string          `json:"step_key,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Category Category        `json:"category"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Attempt  int             `json:"attempt"`
}

type PollAssignmentsResponse struct {
	Assignments []Assignment `json:"assignments"`
}

// StepEventType enumerates the progress messages a worker emits while
// executing a task.
type StepEventType string

const (
	StepStarted   StepEventType = "step_started"
	StepProgress  StepEventType = "step_progress"
	StepDetail    StepEventType = "step_detail"
	StepCompleted StepEventType = "step_completed"
	StepFailed    StepEventType = "step_failed"
)

// DetailType tags a step annotation with its payload shape.
type DetailType string

const (
	DetailKeywords  DetailType = "keywords"
	DetailCompanies DetailType = "companies"
	DetailSources   DetailType = "sources"
	DetailNote      DetailType = "note"
)

type RankedCompany struct {
	Name   string  `json:"name"`
	Domain string  `json:"domain,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// StepDetailPayload is a tagged union: exactly the field matching Type is set.
type StepDetailPayload struct {
	Type      DetailType      `json:"type"`
	Keywords  []string        `json:"keywords,omitempty"`
	Companies []RankedCompany `json:"companies,omitempty"`
	Sources   []string        `json:"sources,omitempty"`
	Note      string          `json:"note,omitempty"`
}

type StepEvent struct {
	WorkerID string             `json:"worker_id"`
	TaskID   string             `json:"task_id"`
	RunID    string             `json:"run_id"`
	StepKey  string             `json:"step_key"`
	Type     StepEventType      `json:"type"`
	Fraction float64            `json:"fraction,omitempty"`
	Error    string             `json:"error,omitempty"`
	Detail   *StepDetailPayload `json:"detail,omitempty"`
}

type StepEventResponse struct {
	Accepted bool `json:"accepted"`
}

const (
	TaskResultCompleted = "completed"
	TaskResultFailed    = "failed"
)

type ReportTaskResultRequest struct {
	WorkerID          string `json:"worker_id"`
	TaskID            string `json:"task_id"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
	ResultArtifactURI string `json:"result_artifact_uri,omitempty"`
	DurationMillis    int64  `json:"duration_millis,omitempty"`
}

type ReportTaskResultResponse struct {
	Accepted bool `json:"accepted"`
}

type StartRunRequest struct {
	Kind  string          `json:"kind"`
	Input json.RawMessage `json:"input,omitempty"`
}

type StartRunResponse struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Steps int    `json:"steps"`
}

type CancelRunResponse struct {
	Accepted bool `json:"accepted"`
}

type StepSnapshot struct {
	Number          int                 `json:"number"`
	Key             string              `json:"key"`
	Title           string              `json:"title,omitempty"`
	Weight          float64             `json:"weight"`
	Status          string              `json:"status"`
	StartedAt       string              `json:"started_at,omitempty"`
	CompletedAt     string              `json:"completed_at,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
	Fraction        float64             `json:"fraction,omitempty"`
	Error           string              `json:"error,omitempty"`
	Details         []StepDetailPayload `json:"details,omitempty"`
}

type TimeEstimate struct {
	RemainingSeconds float64 `json:"remaining_seconds"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Confidence       string  `json:"confidence"`
}

type RunSnapshot struct {
	RunID                  string         `json:"run_id"`
	Kind                   string         `json:"kind"`
	Status                 string         `json:"status"`
	OverallProgressPercent float64        `json:"overall_progress_percent"`
	CurrentStepKey         string         `json:"current_step,omitempty"`
	Steps                  []StepSnapshot `json:"steps"`
	TimeEstimate           *TimeEstimate  `json:"time_estimate,omitempty"`
	CreatedAt              string         `json:"created_at"`
	CompletedAt            string         `json:"completed_at,omitempty"`
}

type WorkerInfo struct {
	WorkerID      string            `json:"worker_id"`
	Category      Category          `json:"category"`
	Status        string            `json:"status"`
	CurrentTaskID string            `json:"current_task_id,omitempty"`
	LastHeartbeat string            `json:"last_heartbeat"`
	ConnectedAt   string            `json:"connected_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type WorkerStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Working int `json:"working"`
	Offline int `json:"offline"`
}

type WorkersSnapshot struct {
	Workers []WorkerInfo             `json:"workers"`
	Stats   map[Category]WorkerStats `json:"stats"`
}

type QueueStats struct {
	Pending     int `json:"pending"`
	Assigned    int `json:"assigned"`
	Running     int `json:"running"`
	IdleWorkers int `json:"idle_workers"`
}

type QueueSnapshot struct {
	Categories map[Category]QueueStats `json:"categories"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	Store            string `json:"store"`
	WorkersConnected int    `json:"workers_connected"`
}
