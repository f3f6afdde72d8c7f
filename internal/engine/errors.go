package engine

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrClientNotFound      = errors.New("client not found")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrInactiveWorkflow    = errors.New("workflow is not active")
	ErrUnknownNode         = errors.New("node not found in workflow")
	ErrExecutionInProgress = errors.New("an execution is already running or waiting for this workflow and client")
	ErrExecutionFinished   = errors.New("execution already finished")
	ErrExecutionMismatch   = errors.New("execution belongs to another workflow or client")
	ErrMaxStepsExceeded    = errors.New("maximum node visits per invocation exceeded")
)

// NodeEvaluationError is returned when a node with the abort policy fails. The run is marked error.
type NodeEvaluationError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *NodeEvaluationError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeEvaluationError) Unwrap() error { return e.Err }
