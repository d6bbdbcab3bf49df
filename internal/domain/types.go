package domain

import "time"

// RunStatus tracks the lifecycle of one job run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StoreBackend selects how hotkey, job and macro definitions are persisted.
type StoreBackend string

const (
	StoreBackendJSON   StoreBackend = "json"
	StoreBackendSQLite StoreBackend = "sqlite"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	DataDir       string       `json:"dataDir"`
	StoreBackend  StoreBackend `json:"storeBackend"`
	Workers       int          `json:"workers"`
	QueueSize     int          `json:"queueSize"`
	MoveThreshold int          `json:"moveThreshold"`
	HTTPAddr      string       `json:"httpAddr,omitempty"`
	Env           string       `json:"env"`
	LogLevel      string       `json:"logLevel"`
}

// RunInfo describes one in-flight job run.
type RunInfo struct {
	Job       string    `json:"job"`
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
}
