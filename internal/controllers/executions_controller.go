package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/internal/graph"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/internal/util"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/models"
)

const maxBatchClients = 1000

// ExecutionReader is the read side of the execution store used by the API.
type ExecutionReader interface {
	FindByID(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]domain.WorkflowExecution, error)
}

// ExecutionsController exposes workflow invocation and execution lookups.
type ExecutionsController struct {
	*AuthController
	Runner           engine.Runner
	Graphs           engine.GraphRepo
	Executions       ExecutionReader
	BatchConcurrency int
}

func NewExecutionsController(auth *AuthController, runner engine.Runner, graphs engine.GraphRepo, executions ExecutionReader, batchConcurrency int) *ExecutionsController {
	return &ExecutionsController{
		AuthController:   auth,
		Runner:           runner,
		Graphs:           graphs,
		Executions:       executions,
		BatchConcurrency: batchConcurrency,
	}
}

// statusForError maps engine failures to HTTP status codes. Node evaluation
// failures and storage errors are 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound),
		errors.Is(err, engine.ErrClientNotFound),
		errors.Is(err, engine.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInactiveWorkflow),
		errors.Is(err, engine.ErrUnknownNode),
		errors.Is(err, engine.ErrExecutionMismatch),
		errors.Is(err, graph.ErrInvalidGraph):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrExecutionInProgress),
		errors.Is(err, engine.ErrExecutionFinished):
		return http.StatusConflict
	case errors.Is(err, engine.ErrMaxStepsExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(w http.ResponseWriter, r *http.Request, res *engine.RunResult, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Workflow invocation failed", "error", err)
	} else {
		slog.InfoContext(r.Context(), "Workflow invocation rejected", "error", err, "http_status", status)
	}
	body := models.ErrorResponse{Error: err.Error()}
	if res != nil {
		body.ExecutionID = res.ExecutionID
		body.Status = string(res.Status)
	}
	util.WriteJSONResponse(w, status, body)
}

func (c *ExecutionsController) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.ExecuteWorkflowRequest](r)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid JSON payload"})
		return
	}
	if req.WorkflowID == "" || req.ClientID == "" {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "workflow_id and client_id are required"})
		return
	}

	res, err := c.Runner.Run(r.Context(), req.WorkflowID, req.ClientID, engine.RunOptions{
		TriggerType:    req.TriggerType,
		TriggerData:    req.TriggerData,
		ResumeFromNode: req.ResumeFromNode,
		ExecutionID:    req.ExecutionID,
	})
	if err != nil {
		writeRunError(w, r, res, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ExecuteWorkflowResponse{
		Success:     true,
		Status:      string(res.Status),
		ExecutionID: res.ExecutionID,
		NextRunAt:   res.NextRunAt,
	})
}

func (c *ExecutionsController) handleBatchExecute(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.BatchExecuteRequest](r)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid JSON payload"})
		return
	}
	if len(req.ClientIDs) == 0 {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "client_ids is required"})
		return
	}
	if len(req.ClientIDs) > maxBatchClients {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "at most " + strconv.Itoa(maxBatchClients) + " client_ids per batch"})
		return
	}

	slog.InfoContext(r.Context(), "Running batch", "workflow_id", workflowID, "clients", len(req.ClientIDs))
	results := engine.RunBatch(r.Context(), c.Runner, workflowID, req.ClientIDs, engine.RunOptions{
		TriggerType: req.TriggerType,
		TriggerData: req.TriggerData,
	}, c.BatchConcurrency)

	resp := models.BatchExecuteResponse{WorkflowID: workflowID, Total: len(results), Results: make([]models.BatchExecuteResult, 0, len(results))}
	for _, br := range results {
		item := models.BatchExecuteResult{ClientID: br.ClientID}
		if br.Result != nil {
			item.ExecutionID = br.Result.ExecutionID
			item.Status = string(br.Result.Status)
		}
		if br.Err != nil {
			item.Error = br.Err.Error()
			resp.Failed++
		}
		resp.Results = append(resp.Results, item)
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}

func (c *ExecutionsController) handleFlowchart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := c.Graphs.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			util.WriteJSONResponse(w, http.StatusNotFound, models.ErrorResponse{Error: "workflow not found"})
			return
		}
		slog.ErrorContext(r.Context(), "Failed to load workflow", "workflow_id", id, "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load workflow"})
		return
	}
	g, err := graph.Decode(wf)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graph.Flowchart(g)))
}

func (c *ExecutionsController) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, err := c.Executions.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			util.WriteJSONResponse(w, http.StatusNotFound, models.ErrorResponse{Error: "execution not found"})
			return
		}
		slog.ErrorContext(r.Context(), "Failed to load execution", "execution_id", id, "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load execution"})
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapExecutionToApiExecution(exec))
}

func (c *ExecutionsController) handleListClientExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	execs, err := c.Executions.ListByClient(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list executions", "client_id", r.PathValue("id"), "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list executions"})
		return
	}
	out := make([]models.ExecutionApiResponse, 0, len(execs))
	for i := range execs {
		out = append(out, mapExecutionToApiExecution(&execs[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func mapExecutionToApiExecution(e *domain.WorkflowExecution) models.ExecutionApiResponse {
	out := models.ExecutionApiResponse{
		ID:            e.ID,
		TenantID:      e.TenantID,
		WorkflowID:    e.WorkflowID,
		ClientID:      e.ClientID,
		Status:        string(e.Status),
		CurrentNodeID: e.CurrentNodeID,
		TriggerType:   e.TriggerType,
		ExecutionLog:  e.ExecutionLog,
		ErrorMessage:  e.ErrorMessage.String,
		Created:       e.Created,
		Modified:      e.Modified,
	}
	if out.ExecutionLog == nil {
		out.ExecutionLog = []domain.LogEntry{}
	}
	if e.NextRunAt.Valid {
		t := e.NextRunAt.Time
		out.NextRunAt = &t
	}
	if e.CompletedAt.Valid {
		t := e.CompletedAt.Time
		out.CompletedAt = &t
	}
	return out
}
