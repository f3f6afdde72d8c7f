package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/internal/graph"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/models"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type MockRunner struct {
	RunFunc func(ctx context.Context, workflowID string, clientID string, opts engine.RunOptions) (*engine.RunResult, error)

	mu    sync.Mutex
	Calls []engine.RunOptions
}

func (m *MockRunner) Run(ctx context.Context, workflowID string, clientID string, opts engine.RunOptions) (*engine.RunResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, opts)
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, workflowID, clientID, opts)
	}
	return &engine.RunResult{ExecutionID: "exec-1", Status: domain.ExecutionDone}, nil
}

type MockGraphRepo struct {
	FindByIDFunc func(ctx context.Context, id string) (*domain.WorkflowGraph, error)
}

func (m *MockGraphRepo) FindByID(ctx context.Context, id string) (*domain.WorkflowGraph, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

type MockExecutionReader struct {
	FindByIDFunc     func(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	ListByClientFunc func(ctx context.Context, clientID string, limit int) ([]domain.WorkflowExecution, error)
}

func (m *MockExecutionReader) FindByID(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockExecutionReader) ListByClient(ctx context.Context, clientID string, limit int) ([]domain.WorkflowExecution, error) {
	if m.ListByClientFunc != nil {
		return m.ListByClientFunc(ctx, clientID, limit)
	}
	return nil, nil
}

type MockPinger struct {
	Err error
}

func (m *MockPinger) PingContext(ctx context.Context) error { return m.Err }

func newTestMux(runner engine.Runner, graphs engine.GraphRepo, execs ExecutionReader) *http.ServeMux {
	mux := http.NewServeMux()
	NewExecutionsController(NewAuthController(nil), runner, graphs, execs, 2).RegisterRoutes(mux)
	return mux
}

func doRequest(mux http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHandleExecuteWorkflow_Success(t *testing.T) {
	next := testNow.Add(72 * time.Hour)
	runner := &MockRunner{RunFunc: func(ctx context.Context, workflowID string, clientID string, opts engine.RunOptions) (*engine.RunResult, error) {
		assert.Equal(t, "wf-1", workflowID)
		assert.Equal(t, "client-1", clientID)
		return &engine.RunResult{ExecutionID: "exec-9", Status: domain.ExecutionWaiting, NextRunAt: &next}, nil
	}}
	mux := newTestMux(runner, &MockGraphRepo{}, &MockExecutionReader{})

	rr := doRequest(mux, http.MethodPost, "/api/workflows/execute",
		`{"workflow_id":"wf-1","client_id":"client-1","trigger_type":"webhook","trigger_data":{"source":"crm"},"resume_from_node":"sms"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[models.ExecuteWorkflowResponse](t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "waiting", resp.Status)
	assert.Equal(t, "exec-9", resp.ExecutionID)
	require.NotNil(t, resp.NextRunAt)
	assert.True(t, next.Equal(*resp.NextRunAt))

	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "webhook", runner.Calls[0].TriggerType)
	assert.Equal(t, "sms", runner.Calls[0].ResumeFromNode)
	assert.Equal(t, "crm", runner.Calls[0].TriggerData["source"])
}

func TestHandleExecuteWorkflow_BadRequests(t *testing.T) {
	runner := &MockRunner{}
	mux := newTestMux(runner, &MockGraphRepo{}, &MockExecutionReader{})

	rr := doRequest(mux, http.MethodPost, "/api/workflows/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(mux, http.MethodPost, "/api/workflows/execute", `{"workflow_id":"wf-1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[models.ErrorResponse](t, rr).Error, "client_id")

	assert.Empty(t, runner.Calls)
}

func TestHandleExecuteWorkflow_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		result     *engine.RunResult
		wantStatus int
	}{
		{name: "workflow not found", err: engine.ErrWorkflowNotFound, wantStatus: http.StatusNotFound},
		{name: "client not found", err: fmt.Errorf("client x: %w", engine.ErrClientNotFound), wantStatus: http.StatusNotFound},
		{name: "execution not found", err: engine.ErrExecutionNotFound, wantStatus: http.StatusNotFound},
		{name: "inactive", err: engine.ErrInactiveWorkflow, wantStatus: http.StatusBadRequest},
		{name: "invalid graph", err: fmt.Errorf("%w: no start node", graph.ErrInvalidGraph), wantStatus: http.StatusBadRequest},
		{name: "unknown node", err: engine.ErrUnknownNode, wantStatus: http.StatusBadRequest},
		{name: "mismatch", err: engine.ErrExecutionMismatch, wantStatus: http.StatusBadRequest},
		{name: "in progress", err: engine.ErrExecutionInProgress, result: &engine.RunResult{ExecutionID: "exec-1", Status: domain.ExecutionWaiting}, wantStatus: http.StatusConflict},
		{name: "finished", err: engine.ErrExecutionFinished, result: &engine.RunResult{ExecutionID: "exec-1", Status: domain.ExecutionDone}, wantStatus: http.StatusConflict},
		{name: "max steps", err: engine.ErrMaxStepsExceeded, result: &engine.RunResult{ExecutionID: "exec-1", Status: domain.ExecutionAbortedMaxSteps}, wantStatus: http.StatusUnprocessableEntity},
		{name: "node failure", err: &engine.NodeEvaluationError{NodeID: "sms", NodeType: "action_sms", Err: errors.New("provider down")}, result: &engine.RunResult{ExecutionID: "exec-1", Status: domain.ExecutionError}, wantStatus: http.StatusInternalServerError},
		{name: "storage failure", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{RunFunc: func(ctx context.Context, workflowID string, clientID string, opts engine.RunOptions) (*engine.RunResult, error) {
				return tt.result, tt.err
			}}
			mux := newTestMux(runner, &MockGraphRepo{}, &MockExecutionReader{})

			rr := doRequest(mux, http.MethodPost, "/api/workflows/execute", `{"workflow_id":"wf-1","client_id":"client-1"}`)
			assert.Equal(t, tt.wantStatus, rr.Code)

			resp := decodeBody[models.ErrorResponse](t, rr)
			assert.Equal(t, tt.err.Error(), resp.Error)
			if tt.result != nil {
				assert.Equal(t, tt.result.ExecutionID, resp.ExecutionID)
				assert.Equal(t, string(tt.result.Status), resp.Status)
			} else {
				assert.Empty(t, resp.ExecutionID)
			}
		})
	}
}

func TestHandleBatchExecute(t *testing.T) {
	runner := &MockRunner{RunFunc: func(ctx context.Context, workflowID string, clientID string, opts engine.RunOptions) (*engine.RunResult, error) {
		assert.Equal(t, "wf-1", workflowID)
		if clientID == "bad" {
			return nil, engine.ErrClientNotFound
		}
		return &engine.RunResult{ExecutionID: "exec-" + clientID, Status: domain.ExecutionDone}, nil
	}}
	mux := newTestMux(runner, &MockGraphRepo{}, &MockExecutionReader{})

	rr := doRequest(mux, http.MethodPost, "/api/workflows/wf-1/batch", `{"client_ids":["c1","bad","c2"],"trigger_type":"cron"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[models.BatchExecuteResponse](t, rr)
	assert.Equal(t, "wf-1", resp.WorkflowID)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, models.BatchExecuteResult{ClientID: "c1", ExecutionID: "exec-c1", Status: "done"}, resp.Results[0])
	assert.Equal(t, "bad", resp.Results[1].ClientID)
	assert.Equal(t, engine.ErrClientNotFound.Error(), resp.Results[1].Error)
	assert.Equal(t, "exec-c2", resp.Results[2].ExecutionID)

	rr = doRequest(mux, http.MethodPost, "/api/workflows/wf-1/batch", `{"client_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleFlowchart(t *testing.T) {
	graphs := &MockGraphRepo{FindByIDFunc: func(ctx context.Context, id string) (*domain.WorkflowGraph, error) {
		switch id {
		case "wf-1":
			return &domain.WorkflowGraph{
				ID: "wf-1", TenantID: "tenant-1", IsActive: true,
				Nodes: []domain.Node{
					{ID: "t", Type: "trigger_manual"},
					{ID: "sms", Type: "action_sms", Data: map[string]any{"message_template": "Olá {{nome}}"}},
				},
				Edges: []domain.Edge{{ID: "e1", Source: "t", Target: "sms"}},
			}, nil
		case "broken":
			return &domain.WorkflowGraph{ID: "broken", Nodes: []domain.Node{{ID: "x", Type: "action_teleport"}}}, nil
		}
		return nil, repository.ErrNotFound
	}}
	mux := newTestMux(&MockRunner{}, graphs, &MockExecutionReader{})

	rr := doRequest(mux, http.MethodGet, "/api/workflows/wf-1/flowchart", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "flowchart TD"))
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")

	rr = doRequest(mux, http.MethodGet, "/api/workflows/broken/flowchart", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(mux, http.MethodGet, "/api/workflows/missing/flowchart", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleGetExecution(t *testing.T) {
	execs := &MockExecutionReader{FindByIDFunc: func(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
		if id != "exec-1" {
			return nil, fmt.Errorf("execution %s: %w", id, repository.ErrNotFound)
		}
		return &domain.WorkflowExecution{
			ID: "exec-1", TenantID: "tenant-1", WorkflowID: "wf-1", ClientID: "client-1",
			Status:        domain.ExecutionWaiting,
			CurrentNodeID: "sms",
			TriggerType:   "manual",
			ExecutionLog:  []domain.LogEntry{{NodeID: "t", NodeType: "trigger_manual", Timestamp: testNow, Result: "trigger_fired"}},
			NextRunAt:     sql.NullTime{Time: testNow.Add(24 * time.Hour), Valid: true},
			Created:       testNow,
			Modified:      testNow,
		}, nil
	}}
	mux := newTestMux(&MockRunner{}, &MockGraphRepo{}, execs)

	rr := doRequest(mux, http.MethodGet, "/api/executions/exec-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[models.ExecutionApiResponse](t, rr)
	assert.Equal(t, "waiting", resp.Status)
	assert.Equal(t, "sms", resp.CurrentNodeID)
	require.Len(t, resp.ExecutionLog, 1)
	assert.Equal(t, "trigger_fired", resp.ExecutionLog[0].Result)
	require.NotNil(t, resp.NextRunAt)
	assert.Nil(t, resp.CompletedAt)

	rr = doRequest(mux, http.MethodGet, "/api/executions/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListClientExecutions(t *testing.T) {
	var gotLimit int
	execs := &MockExecutionReader{ListByClientFunc: func(ctx context.Context, clientID string, limit int) ([]domain.WorkflowExecution, error) {
		gotLimit = limit
		assert.Equal(t, "client-1", clientID)
		return []domain.WorkflowExecution{
			{ID: "exec-2", Status: domain.ExecutionDone, CompletedAt: sql.NullTime{Time: testNow, Valid: true}},
			{ID: "exec-1", Status: domain.ExecutionError, ErrorMessage: sql.NullString{String: "boom", Valid: true}},
		}, nil
	}}
	mux := newTestMux(&MockRunner{}, &MockGraphRepo{}, execs)

	rr := doRequest(mux, http.MethodGet, "/api/clients/client-1/executions?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, gotLimit)
	resp := decodeBody[[]models.ExecutionApiResponse](t, rr)
	require.Len(t, resp, 2)
	assert.NotNil(t, resp[0].CompletedAt)
	assert.Equal(t, "boom", resp[1].ErrorMessage)
	assert.NotNil(t, resp[1].ExecutionLog)

	rr = doRequest(mux, http.MethodGet, "/api/clients/client-1/executions?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSystemController(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "reguaflow_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	pinger := &MockPinger{}
	mux := http.NewServeMux()
	(&SystemController{DB: pinger, Gatherer: registry}).RegisterRoutes(mux)

	rr := doRequest(mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	pinger.Err = errors.New("down")
	rr = doRequest(mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doRequest(mux, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "reguaflow_test_total 1")
}
