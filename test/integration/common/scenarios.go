package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

func results(exec *domain.WorkflowExecution) []string {
	out := make([]string, 0, len(exec.ExecutionLog))
	for _, e := range exec.ExecutionLog {
		out = append(out, e.Result)
	}
	return out
}

func startResumer(t *testing.T, h *Harness) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Resumer.Start(ctx))
	t.Cleanup(func() {
		cancel()
		h.Resumer.Stop()
	})
	return ctx
}

// RunCollectionScenario sends the first message, waits two days and branches on the score.
func RunCollectionScenario(t *testing.T, h *Harness) {
	ctx := startResumer(t, h)
	h.SaveGraph(t, CollectionGraph("wf-collection"))
	h.SaveClient(t, "101", 0.8)
	h.SaveClient(t, "102", 0.2)

	high, err := h.Driver.Run(ctx, "wf-collection", "101", engine.RunOptions{TriggerType: "cron"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionWaiting, high.Status)
	require.NotNil(t, high.NextRunAt)
	assert.True(t, Start.Add(48*time.Hour).Equal(*high.NextRunAt))

	low, err := h.Driver.Run(ctx, "wf-collection", "102", engine.RunOptions{TriggerType: "cron"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionWaiting, low.Status)

	sent := h.Outbox.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "55119101", sent[0]["Phone"])
	assert.Equal(t, "Olá Cliente 101, parcela de R$ 320.5 em aberto.", sent[0]["Body"])

	_, err = h.Driver.Run(ctx, "wf-collection", "101", engine.RunOptions{})
	assert.ErrorIs(t, err, engine.ErrExecutionInProgress)

	h.Clock.Advance(47 * time.Hour)
	assert.Equal(t, 0, h.Resumer.PollDue(ctx))

	h.Clock.Advance(time.Hour)
	assert.Equal(t, 2, h.Resumer.PollDue(ctx))

	exec := h.WaitForStatus(t, high.ExecutionID, domain.ExecutionDone, 10*time.Second)
	assert.Equal(t, []string{
		engine.ResultTriggerFired, engine.ResultWhatsAppSent, engine.ResultWaitScheduled,
		engine.ResultConditionTrue, engine.ResultAINegotiateQueued, "status_updated_to_em_negociacao",
	}, results(exec))
	assert.True(t, exec.CompletedAt.Valid)

	client, err := h.Clients.FindByID(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "em_negociacao", client.Status)

	exec = h.WaitForStatus(t, low.ExecutionID, domain.ExecutionDone, 10*time.Second)
	assert.Equal(t, []string{
		engine.ResultTriggerFired, engine.ResultWhatsAppSent, engine.ResultWaitScheduled,
		engine.ResultConditionFalse, engine.ResultSMSQueued,
	}, results(exec))

	client, err = h.Clients.FindByID(ctx, "102")
	require.NoError(t, err)
	assert.Equal(t, "inadimplente", client.Status)

	_, err = h.Driver.Run(ctx, "wf-collection", "101", engine.RunOptions{ExecutionID: high.ExecutionID})
	assert.ErrorIs(t, err, engine.ErrExecutionFinished)

	listed, err := h.Executions.ListByClient(ctx, "101", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

// RunRepairScenario releases an execution left running by a crashed instance and resumes it.
func RunRepairScenario(t *testing.T, h *Harness) {
	ctx := startResumer(t, h)
	h.SaveGraph(t, CollectionGraph("wf-repair"))
	h.SaveClient(t, "201", 0.1)

	require.NoError(t, h.Executions.Create(ctx, &domain.WorkflowExecution{
		ID:            "exec-stuck",
		TenantID:      TenantID,
		WorkflowID:    "wf-repair",
		ClientID:      "201",
		Status:        domain.ExecutionRunning,
		CurrentNodeID: "sms",
		ExecutionLog:  []domain.LogEntry{},
		TriggerType:   "cron",
		Created:       Start,
		Modified:      Start,
	}))

	h.Clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, h.Resumer.RepairStuck(ctx))

	h.Clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, h.Resumer.RepairStuck(ctx))

	exec, err := h.Executions.FindByID(ctx, "exec-stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionWaiting, exec.Status)

	assert.Equal(t, 1, h.Resumer.PollDue(ctx))
	exec = h.WaitForStatus(t, "exec-stuck", domain.ExecutionDone, 10*time.Second)
	assert.Equal(t, []string{engine.ResultSMSQueued}, results(exec))
}

// RunProviderFailureScenario keeps going after a failed WhatsApp send.
func RunProviderFailureScenario(t *testing.T, h *Harness) {
	ctx := context.Background()
	h.SaveGraph(t, CollectionGraph("wf-failure"))
	h.SaveClient(t, "301", 0.9)
	h.Outbox.SetFailing(true)

	res, err := h.Driver.Run(ctx, "wf-failure", "301", engine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionWaiting, res.Status)

	exec, err := h.Executions.FindByID(ctx, res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, exec.ExecutionLog, 3)
	assert.Equal(t, engine.ResultWhatsAppError, exec.ExecutionLog[1].Result)
	assert.NotEmpty(t, exec.ExecutionLog[1].Error)
	assert.Equal(t, "score", exec.CurrentNodeID)
}

// RunCycleScenario stops a looping graph at the step cap.
func RunCycleScenario(t *testing.T, h *Harness) {
	ctx := context.Background()
	h.SaveGraph(t, &domain.WorkflowGraph{
		ID:       "wf-cycle",
		IsActive: true,
		Nodes: []domain.Node{
			{ID: "start", Type: "trigger_manual"},
			{ID: "a", Type: "action_sms"},
			{ID: "b", Type: "action_sms"},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	})
	h.SaveClient(t, "401", 0.5)

	res, err := h.Driver.Run(ctx, "wf-cycle", "401", engine.RunOptions{})
	require.ErrorIs(t, err, engine.ErrMaxStepsExceeded)
	require.NotNil(t, res)
	assert.Equal(t, domain.ExecutionAbortedMaxSteps, res.Status)

	exec, err := h.Executions.FindByID(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, exec.ExecutionLog, engine.DefaultMaxSteps)
	assert.Equal(t, domain.ExecutionAbortedMaxSteps, exec.Status)

	res, err = h.Driver.Run(ctx, "wf-cycle", "401", engine.RunOptions{})
	require.ErrorIs(t, err, engine.ErrMaxStepsExceeded, "a finished run does not block a new one")
	assert.NotEqual(t, exec.ID, res.ExecutionID)
}

// RunAll runs every scenario on a fresh harness each.
func RunAll(t *testing.T, newHarness func(t *testing.T) *Harness) {
	t.Run("collection", func(t *testing.T) { RunCollectionScenario(t, newHarness(t)) })
	t.Run("repair", func(t *testing.T) { RunRepairScenario(t, newHarness(t)) })
	t.Run("provider failure", func(t *testing.T) { RunProviderFailureScenario(t, newHarness(t)) })
	t.Run("cycle", func(t *testing.T) { RunCycleScenario(t, newHarness(t)) })
}
