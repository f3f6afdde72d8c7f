package common

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/internal/messaging"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
	"github.com/RealZimboGuy/reguaflow/test/integration"
)

const TenantID = "tenant-it"

var Start = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// Outbox records messages the fake WuzAPI server received.
type Outbox struct {
	mu       sync.Mutex
	messages []map[string]string
	fail     bool
}

func (o *Outbox) Messages() []map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]map[string]string(nil), o.messages...)
}

func (o *Outbox) SetFailing(fail bool) {
	o.mu.Lock()
	o.fail = fail
	o.mu.Unlock()
}

// Harness wires the engine against a real database with a fake clock and a fake provider.
type Harness struct {
	DB         *sql.DB
	Clock      *integration.FakeClock
	Graphs     *repository.GraphRepository
	Clients    *repository.ClientRepository
	Channels   *repository.ChannelRepository
	Executions *repository.ExecutionRepository
	Driver     *engine.Driver
	Resumer    *engine.Resumer
	Outbox     *Outbox
}

func NewHarness(t *testing.T, db *sql.DB) *Harness {
	t.Helper()
	outbox := &Outbox{}
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		if outbox.fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		outbox.messages = append(outbox.messages, body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(provider.Close)

	clock := integration.NewFakeClock(Start)
	metrics := engine.NewMetrics(prometheus.NewRegistry())
	h := &Harness{
		DB:         db,
		Clock:      clock,
		Graphs:     repository.NewGraphRepository(db),
		Clients:    repository.NewClientRepository(db, clock),
		Channels:   repository.NewChannelRepository(db),
		Executions: repository.NewExecutionRepository(db, clock),
		Outbox:     outbox,
	}
	senders := messaging.NewRegistry(&messaging.WuzAPISender{Client: provider.Client()})
	evaluator := engine.NewEvaluator(h.Clients, h.Channels, senders, clock)
	h.Driver = engine.NewDriver(h.Graphs, h.Clients, h.Executions, evaluator, clock, engine.WithMetrics(metrics))
	h.Resumer = engine.NewResumer(h.Executions, h.Driver, clock, metrics, engine.ResumerConfig{
		PollSchedule: "@every 1h",
		BatchSize:    10,
		Workers:      2,
		RepairAfter:  10 * time.Minute,
	})

	ctx := context.Background()
	require.NoError(t, h.Channels.Save(ctx, &domain.MessagingChannel{
		ID:       "ch-it",
		TenantID: TenantID,
		Kind:     domain.ChannelKindWhatsApp,
		Provider: messaging.ProviderWuzAPI,
		BaseURL:  provider.URL,
		APIToken: "it-token",
		Status:   domain.ChannelStatusConnected,
		Created:  Start,
	}))
	return h
}

func (h *Harness) SaveClient(t *testing.T, id string, score float64) {
	t.Helper()
	require.NoError(t, h.Clients.Save(context.Background(), &domain.Client{
		ID:              id,
		TenantID:        TenantID,
		NomeCompleto:    "Cliente " + id,
		CPF:             "000.000.000-00",
		Phone:           "55119" + id,
		ValorParcela:    320.5,
		Status:          "inadimplente",
		PropensityScore: sql.NullFloat64{Float64: score, Valid: true},
	}))
}

func (h *Harness) SaveGraph(t *testing.T, g *domain.WorkflowGraph) {
	t.Helper()
	g.TenantID = TenantID
	g.Created, g.Modified = Start, Start
	require.NoError(t, h.Graphs.Save(context.Background(), g))
}

// CollectionGraph: trigger, whatsapp, wait 2 days, then a score condition
// that either moves the client to negotiation or queues an SMS.
func CollectionGraph(id string) *domain.WorkflowGraph {
	return &domain.WorkflowGraph{
		ID:       id,
		Name:     "Régua padrão",
		IsActive: true,
		Nodes: []domain.Node{
			{ID: "start", Type: "trigger_cron"},
			{ID: "zap", Type: "action_whatsapp", Data: map[string]any{"message_template": "Olá {{nome}}, parcela de R$ {{valor}} em aberto."}},
			{ID: "wait", Type: "action_wait", Data: map[string]any{"days": 2}},
			{ID: "score", Type: "condition_score", Data: map[string]any{"operator": ">=", "value": 0.6}},
			{ID: "negotiate", Type: "action_ai_negotiate"},
			{ID: "status", Type: "action_update_status", Data: map[string]any{"new_status": "em_negociacao"}},
			{ID: "sms", Type: "action_sms", Data: map[string]any{"message_template": "{{nome}}, regularize sua parcela."}},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "zap"},
			{ID: "e2", Source: "zap", Target: "wait"},
			{ID: "e3", Source: "wait", Target: "score"},
			{ID: "e4", Source: "score", Target: "negotiate", SourceHandle: "yes"},
			{ID: "e5", Source: "negotiate", Target: "status"},
			{ID: "e6", Source: "score", Target: "sms", SourceHandle: "no"},
		},
	}
}

// WaitForStatus polls the execution until it reaches status or the timeout expires.
func (h *Harness) WaitForStatus(t *testing.T, executionID string, status domain.ExecutionStatus, timeout time.Duration) *domain.WorkflowExecution {
	t.Helper()
	var exec *domain.WorkflowExecution
	require.Eventually(t, func() bool {
		var err error
		exec, err = h.Executions.FindByID(context.Background(), executionID)
		return err == nil && exec.Status == status
	}, timeout, 50*time.Millisecond, "execution %s never reached %s", executionID, status)
	return exec
}
