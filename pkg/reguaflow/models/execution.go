package models

import (
	"time"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// ExecutionApiResponse represents the API view of a workflow execution.
type ExecutionApiResponse struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	WorkflowID    string            `json:"workflow_id"`
	ClientID      string            `json:"client_id"`
	Status        string            `json:"status"`
	CurrentNodeID string            `json:"current_node_id,omitempty"`
	TriggerType   string            `json:"trigger_type,omitempty"`
	ExecutionLog  []domain.LogEntry `json:"execution_log"`
	NextRunAt     *time.Time        `json:"next_run_at,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Created       time.Time         `json:"created"`
	Modified      time.Time         `json:"modified"`
}
