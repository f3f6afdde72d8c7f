package models

import "time"

// ExecuteWorkflowRequest is the body of an invocation, sent by cron jobs, the UI or webhooks.
type ExecuteWorkflowRequest struct {
	WorkflowID     string         `json:"workflow_id"`
	ClientID       string         `json:"client_id"`
	TriggerType    string         `json:"trigger_type,omitempty"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	ResumeFromNode string         `json:"resume_from_node,omitempty"`
	ExecutionID    string         `json:"execution_id,omitempty"`
}

type ExecuteWorkflowResponse struct {
	Success     bool       `json:"success"`
	Status      string     `json:"status"`
	ExecutionID string     `json:"execution_id"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status,omitempty"`
}
