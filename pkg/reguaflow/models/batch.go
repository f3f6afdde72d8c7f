package models

// BatchExecuteRequest runs one workflow for many clients.
type BatchExecuteRequest struct {
	ClientIDs   []string       `json:"client_ids"`
	TriggerType string         `json:"trigger_type,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

type BatchExecuteResult struct {
	ClientID    string `json:"client_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

type BatchExecuteResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Total      int                  `json:"total"`
	Failed     int                  `json:"failed"`
	Results    []BatchExecuteResult `json:"results"`
}
