package domain

import (
	"database/sql"
	"time"
)

type ExecutionStatus string

const (
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaiting         ExecutionStatus = "waiting"
	ExecutionDone            ExecutionStatus = "done"
	ExecutionError           ExecutionStatus = "error"
	ExecutionAbortedMaxSteps ExecutionStatus = "aborted_max_steps"
)

// Terminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionDone || s == ExecutionError || s == ExecutionAbortedMaxSteps
}

// WorkflowExecution is one run of a graph against one client.
type WorkflowExecution struct {
	ID            string
	TenantID      string
	WorkflowID    string
	ClientID      string
	Status        ExecutionStatus
	CurrentNodeID string
	ExecutionLog  []LogEntry
	TriggerType   string
	NextRunAt     sql.NullTime
	ErrorMessage  sql.NullString
	CompletedAt   sql.NullTime
	Created       time.Time
	Modified      time.Time
}

// LogEntry records one node visit.
type LogEntry struct {
	NodeID    string    `json:"node_id"`
	NodeType  string    `json:"nodeType"`
	Timestamp time.Time `json:"timestamp"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
}
