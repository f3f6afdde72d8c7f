package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RealZimboGuy/reguaflow/internal/graph"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

const DefaultMaxSteps = 50

const TriggerTypeManual = "manual"

// RunOptions are the optional parts of an invocation.
type RunOptions struct {
	TriggerType    string
	TriggerData    map[string]any
	ResumeFromNode string
	ExecutionID    string
}

// RunResult describes the execution after an invocation. It is also returned next to
// an error whenever an execution record is involved, so callers can report its id.
type RunResult struct {
	ExecutionID string
	Status      domain.ExecutionStatus
	NextRunAt   *time.Time
	Visited     int
}

// Runner is implemented by Driver; the resumer and the batch trigger depend on it.
type Runner interface {
	Run(ctx context.Context, workflowID string, clientID string, opts RunOptions) (*RunResult, error)
}

// Driver walks a workflow graph node by node for one client.
type Driver struct {
	graphs     GraphRepo
	clients    ClientRepo
	executions ExecutionRepo
	evaluator  *Evaluator
	clock      core.Clock
	maxSteps   int
	metrics    *Metrics
	tracer     trace.Tracer
}

type DriverOption func(*Driver)

func WithMaxSteps(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.maxSteps = n
		}
	}
}

func WithMetrics(m *Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) {
		if t != nil {
			d.tracer = t
		}
	}
}

func NewDriver(graphs GraphRepo, clients ClientRepo, executions ExecutionRepo, evaluator *Evaluator, clock core.Clock, opts ...DriverOption) *Driver {
	d := &Driver{
		graphs:     graphs,
		clients:    clients,
		executions: executions,
		evaluator:  evaluator,
		clock:      clock,
		maxSteps:   DefaultMaxSteps,
		tracer:     otel.Tracer("reguaflow/engine"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes workflowID against clientID until the graph ends, a wait node suspends it,
// a node fails with the abort policy, or the step cap is reached.
//
// Side effects are not transactional with the execution record: a message may be
// delivered and the following update may still fail.
func (d *Driver) Run(ctx context.Context, workflowID string, clientID string, opts RunOptions) (res *RunResult, err error) {
	ctx, span := d.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("client.id", clientID),
		attribute.String("trigger.type", opts.TriggerType),
	))
	started := time.Now()
	defer func() {
		status := "rejected"
		if res != nil {
			status = string(res.Status)
			span.SetAttributes(attribute.String("execution.id", res.ExecutionID), attribute.String("execution.status", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		d.metrics.observeInvocation(status, time.Since(started).Seconds())
		span.End()
	}()

	wf, err := d.graphs.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if !wf.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveWorkflow, workflowID)
	}
	client, err := d.clients.FindByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("load client %s: %w", clientID, err)
	}
	g, err := graph.Decode(wf)
	if err != nil {
		return nil, err
	}

	exec, err := d.loadExecution(ctx, wf, clientID, opts)
	if err != nil {
		if exec != nil {
			return &RunResult{ExecutionID: exec.ID, Status: exec.Status}, err
		}
		return nil, err
	}
	node, err := d.startNode(g, exec, opts)
	if err != nil {
		if exec != nil {
			return &RunResult{ExecutionID: exec.ID, Status: exec.Status}, err
		}
		return nil, err
	}
	if exec, err = d.openExecution(ctx, wf, clientID, exec, opts); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Running workflow", "workflow_id", wf.ID, "client_id", clientID, "execution_id", exec.ID, "start_node", node.ID(), "trigger_type", exec.TriggerType)
	if len(opts.TriggerData) > 0 {
		slog.DebugContext(ctx, "Trigger data received", "execution_id", exec.ID, "trigger_data", opts.TriggerData)
	}

	visited := 0
	for {
		if visited >= d.maxSteps {
			slog.WarnContext(ctx, "Step cap reached, aborting execution", "execution_id", exec.ID, "max_steps", d.maxSteps, "last_node", exec.CurrentNodeID)
			exec.Status = domain.ExecutionAbortedMaxSteps
			exec.ErrorMessage = sql.NullString{String: fmt.Sprintf("stopped after %d node visits; last node %s", d.maxSteps, exec.CurrentNodeID), Valid: true}
			capErr := fmt.Errorf("%w: %d", ErrMaxStepsExceeded, d.maxSteps)
			if err := d.flush(ctx, exec); err != nil {
				capErr = errors.Join(capErr, err)
			}
			return &RunResult{ExecutionID: exec.ID, Status: exec.Status, Visited: visited}, capErr
		}
		visited++

		// persisted before evaluation so a crash leaves a resumable position
		exec.CurrentNodeID = node.ID()
		if err := d.executions.UpdateCurrentNode(ctx, exec.ID, node.ID()); err != nil {
			return d.fail(ctx, exec, visited, fmt.Errorf("persist current node %s: %w", node.ID(), err))
		}

		outcome, evalErr := d.evaluate(ctx, node, client, g.TenantID)
		entry := domain.LogEntry{
			NodeID:    node.ID(),
			NodeType:  node.Type(),
			Timestamp: d.clock.Now().UTC(),
			Result:    outcome.Result,
		}
		if evalErr != nil {
			entry.Error = evalErr.Error()
		}
		exec.ExecutionLog = append(exec.ExecutionLog, entry)

		if evalErr != nil {
			d.metrics.observeNodeFailure(string(node.Kind()), string(node.OnError()))
			if node.OnError() == graph.OnErrorAbort {
				return d.fail(ctx, exec, visited, &NodeEvaluationError{NodeID: node.ID(), NodeType: node.Type(), Err: evalErr})
			}
			slog.WarnContext(ctx, "Node failed, continuing", "execution_id", exec.ID, "node_id", node.ID(), "node_type", node.Type(), "error", evalErr)
		}

		if outcome.Suspends() {
			next, ok := g.Next(node.ID())
			if !ok {
				break
			}
			exec.Status = domain.ExecutionWaiting
			exec.CurrentNodeID = next
			exec.NextRunAt = sql.NullTime{Time: outcome.ResumeAt.UTC(), Valid: true}
			slog.InfoContext(ctx, "Execution waiting", "execution_id", exec.ID, "resume_node", next, "next_run_at", exec.NextRunAt.Time)
			if err := d.flush(ctx, exec); err != nil {
				return &RunResult{ExecutionID: exec.ID, Status: exec.Status, Visited: visited}, err
			}
			resumeAt := exec.NextRunAt.Time
			return &RunResult{ExecutionID: exec.ID, Status: exec.Status, NextRunAt: &resumeAt, Visited: visited}, nil
		}

		var next string
		var ok bool
		if graph.Branching(node) {
			next, ok = g.Branch(node.ID(), outcome.Branch)
		} else {
			next, ok = g.Next(node.ID())
		}
		if !ok {
			break
		}
		slog.DebugContext(ctx, "Transitioning node", "execution_id", exec.ID, "from", node.ID(), "to", next)
		node, _ = g.Node(next)
	}

	exec.Status = domain.ExecutionDone
	exec.CompletedAt = sql.NullTime{Time: d.clock.Now().UTC(), Valid: true}
	exec.NextRunAt = sql.NullTime{}
	slog.InfoContext(ctx, "Execution finished", "execution_id", exec.ID, "visited", visited)
	if err := d.flush(ctx, exec); err != nil {
		return &RunResult{ExecutionID: exec.ID, Status: exec.Status, Visited: visited}, err
	}
	return &RunResult{ExecutionID: exec.ID, Status: exec.Status, Visited: visited}, nil
}

// loadExecution returns the execution to resume, or nil for a fresh run after checking
// that no other run is active for the same workflow and client.
func (d *Driver) loadExecution(ctx context.Context, wf *domain.WorkflowGraph, clientID string, opts RunOptions) (*domain.WorkflowExecution, error) {
	if opts.ExecutionID == "" {
		active, err := d.executions.FindActive(ctx, wf.ID, clientID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("check active executions: %w", err)
		}
		if err == nil && active != nil {
			return active, fmt.Errorf("%w: %s", ErrExecutionInProgress, active.ID)
		}
		return nil, nil
	}

	exec, err := d.executions.FindByID(ctx, opts.ExecutionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, opts.ExecutionID)
		}
		return nil, fmt.Errorf("load execution %s: %w", opts.ExecutionID, err)
	}
	if exec.WorkflowID != wf.ID || exec.ClientID != clientID {
		return nil, fmt.Errorf("%w: %s", ErrExecutionMismatch, exec.ID)
	}
	if exec.Status.Terminal() {
		return exec, fmt.Errorf("%w: %s is %s", ErrExecutionFinished, exec.ID, exec.Status)
	}
	return exec, nil
}

func (d *Driver) startNode(g *graph.Graph, exec *domain.WorkflowExecution, opts RunOptions) (graph.Node, error) {
	id := ""
	switch {
	case opts.ResumeFromNode != "":
		id = opts.ResumeFromNode
	case exec != nil && exec.CurrentNodeID != "":
		id = exec.CurrentNodeID
	default:
		return g.Start(), nil
	}
	n, ok := g.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// openExecution marks a resumed execution running, or inserts a new one.
func (d *Driver) openExecution(ctx context.Context, wf *domain.WorkflowGraph, clientID string, exec *domain.WorkflowExecution, opts RunOptions) (*domain.WorkflowExecution, error) {
	now := d.clock.Now().UTC()
	if exec != nil {
		exec.Status = domain.ExecutionRunning
		exec.NextRunAt = sql.NullTime{}
		if opts.TriggerType != "" {
			exec.TriggerType = opts.TriggerType
		}
		if err := d.flush(ctx, exec); err != nil {
			return nil, err
		}
		return exec, nil
	}

	triggerType := opts.TriggerType
	if triggerType == "" {
		triggerType = TriggerTypeManual
	}
	exec = &domain.WorkflowExecution{
		ID:           uuid.NewString(),
		TenantID:     wf.TenantID,
		WorkflowID:   wf.ID,
		ClientID:     clientID,
		Status:       domain.ExecutionRunning,
		ExecutionLog: []domain.LogEntry{},
		TriggerType:  triggerType,
		Created:      now,
		Modified:     now,
	}
	if err := d.executions.Create(ctx, exec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionInProgress, clientID)
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil
}

func (d *Driver) evaluate(ctx context.Context, n graph.Node, client *domain.Client, tenantID string) (Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "node.evaluate", trace.WithAttributes(
		attribute.String("node.id", n.ID()),
		attribute.String("node.type", n.Type()),
	))
	defer span.End()

	outcome, err := d.evaluator.Evaluate(ctx, n, client, tenantID)
	span.SetAttributes(attribute.String("node.result", outcome.Result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.metrics.observeNode(string(n.Kind()), resultLabel(outcome.Result))
	return outcome, err
}

// resultLabel keeps metric cardinality bounded.
func resultLabel(result string) string {
	if strings.HasPrefix(result, ResultStatusUpdatedPrefix) {
		return "status_updated"
	}
	if result == "" {
		return "none"
	}
	return result
}

func (d *Driver) fail(ctx context.Context, exec *domain.WorkflowExecution, visited int, cause error) (*RunResult, error) {
	slog.ErrorContext(ctx, "Execution failed", "execution_id", exec.ID, "node_id", exec.CurrentNodeID, "error", cause)
	exec.Status = domain.ExecutionError
	exec.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	exec.NextRunAt = sql.NullTime{}
	if err := d.flush(ctx, exec); err != nil {
		cause = errors.Join(cause, err)
	}
	return &RunResult{ExecutionID: exec.ID, Status: exec.Status, Visited: visited}, cause
}

func (d *Driver) flush(ctx context.Context, exec *domain.WorkflowExecution) error {
	exec.Modified = d.clock.Now().UTC()
	if err := d.executions.Update(ctx, exec); err != nil {
		slog.ErrorContext(ctx, "Error updating execution", "execution_id", exec.ID, "status", exec.Status, "error", err)
		return fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	return nil
}
