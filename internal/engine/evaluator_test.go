package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/reguaflow/internal/graph"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

func decodeSingle(t *testing.T, nodeType string, data map[string]any) graph.Node {
	t.Helper()
	g, err := graph.Decode(&domain.WorkflowGraph{Nodes: []domain.Node{{ID: "x", Type: nodeType, Data: data}}})
	require.NoError(t, err)
	return g.Start()
}

func TestRenderMessage(t *testing.T) {
	c := &domain.Client{NomeCompleto: "Ana", CPF: "123", ValorParcela: 200}
	assert.Equal(t, "Olá Ana, CPF 123, valor 200", RenderMessage("Olá {{nome}}, CPF {{cpf}}, valor {{valor}}", c))

	c.ValorParcela = 149.9
	assert.Equal(t, "R$ 149.9 de Ana, {{desconhecido}}", RenderMessage("R$ {{valor}} de {{nome}}, {{desconhecido}}", c))
	assert.Equal(t, "", RenderMessage("", c))
}

func TestEvaluate_ConditionOperators(t *testing.T) {
	client := &domain.Client{ID: "c", ValorParcela: 500, PropensityScore: sql.NullFloat64{Float64: 0.5, Valid: true}}
	ev := NewEvaluator(&MockClientRepo{}, &MockChannelRepo{}, &MockDispatcher{}, core.FixedClock{At: testNow})

	tests := []struct {
		nodeType string
		operator string
		value    float64
		want     bool
	}{
		{"condition_score", "", 0.5, false},
		{"condition_score", ">=", 0.5, true},
		{"condition_score", "<", 0.6, true},
		{"condition_score", "==", 0.5, true},
		{"condition_score", "!=", 0.5, false},
		{"condition_value", ">", 499, true},
		{"condition_value", "<=", 499, false},
	}
	for _, tt := range tests {
		t.Run(tt.nodeType+tt.operator, func(t *testing.T) {
			nd := decodeSingle(t, tt.nodeType, map[string]any{"operator": tt.operator, "value": tt.value})
			out, err := ev.Evaluate(context.Background(), nd, client, "tenant-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Branch)
			if tt.want {
				assert.Equal(t, ResultConditionTrue, out.Result)
			} else {
				assert.Equal(t, ResultConditionFalse, out.Result)
			}
		})
	}
}

func TestEvaluate_Expression(t *testing.T) {
	ev := NewEvaluator(&MockClientRepo{}, &MockChannelRepo{}, &MockDispatcher{}, core.FixedClock{At: testNow})
	nd := decodeSingle(t, "condition_expression", map[string]any{
		"expression": `valor_parcela > 100 && status == "inadimplente"`,
	})

	out, err := ev.Evaluate(context.Background(), nd, &domain.Client{ValorParcela: 150, Status: "inadimplente"}, "tenant-1")
	require.NoError(t, err)
	assert.True(t, out.Branch)

	out, err = ev.Evaluate(context.Background(), nd, &domain.Client{ValorParcela: 150, Status: "pago"}, "tenant-1")
	require.NoError(t, err)
	assert.False(t, out.Branch)
	assert.Equal(t, ResultConditionFalse, out.Result)
}

func TestEvaluate_WaitComputesResumeTime(t *testing.T) {
	ev := NewEvaluator(&MockClientRepo{}, &MockChannelRepo{}, &MockDispatcher{}, core.FixedClock{At: testNow})
	nd := decodeSingle(t, "action_wait", map[string]any{"days": "2"})

	out, err := ev.Evaluate(context.Background(), nd, &domain.Client{}, "tenant-1")
	require.NoError(t, err)
	assert.True(t, out.Suspends())
	assert.Equal(t, ResultWaitScheduled, out.Result)
	assert.Equal(t, testNow.Add(48*time.Hour), out.ResumeAt)
}

func TestEvaluate_LongestWaitStaysInTheFuture(t *testing.T) {
	ev := NewEvaluator(&MockClientRepo{}, &MockChannelRepo{}, &MockDispatcher{}, core.FixedClock{At: testNow})
	nd := decodeSingle(t, "action_wait", map[string]any{"days": graph.MaxWaitDays})

	out, err := ev.Evaluate(context.Background(), nd, &domain.Client{}, "tenant-1")
	require.NoError(t, err)
	assert.True(t, out.ResumeAt.After(testNow))
	assert.Equal(t, testNow.AddDate(0, 0, graph.MaxWaitDays), out.ResumeAt)
}

func TestEvaluate_WhatsAppRequiresPhone(t *testing.T) {
	dispatcher := &MockDispatcher{}
	channels := &MockChannelRepo{FindConnectedFunc: func(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error) {
		return &domain.MessagingChannel{ID: "ch", Status: domain.ChannelStatusConnected}, nil
	}}
	ev := NewEvaluator(&MockClientRepo{}, channels, dispatcher, core.FixedClock{At: testNow})
	nd := decodeSingle(t, "action_whatsapp", map[string]any{"message_template": "oi"})

	out, err := ev.Evaluate(context.Background(), nd, &domain.Client{ID: "c"}, "tenant-1")
	require.Error(t, err)
	assert.Equal(t, ResultWhatsAppError, out.Result)
	assert.Empty(t, dispatcher.Sent)
}

func TestEvaluate_WhatsAppLooksUpChannelByTenant(t *testing.T) {
	var gotTenant, gotKind string
	dispatcher := &MockDispatcher{}
	channels := &MockChannelRepo{FindConnectedFunc: func(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error) {
		gotTenant, gotKind = tenantID, kind
		return &domain.MessagingChannel{ID: "ch-9", Status: domain.ChannelStatusConnected}, nil
	}}
	ev := NewEvaluator(&MockClientRepo{}, channels, dispatcher, core.FixedClock{At: testNow})
	nd := decodeSingle(t, "action_whatsapp", map[string]any{"message_template": "Olá {{nome}}"})

	out, err := ev.Evaluate(context.Background(), nd, &domain.Client{ID: "c", NomeCompleto: "Bia", Phone: "55"}, "tenant-7")
	require.NoError(t, err)
	assert.Equal(t, ResultWhatsAppSent, out.Result)
	assert.Equal(t, "tenant-7", gotTenant)
	assert.Equal(t, domain.ChannelKindWhatsApp, gotKind)
	require.Len(t, dispatcher.Sent, 1)
	assert.Equal(t, sentMessage{ChannelID: "ch-9", Phone: "55", Message: "Olá Bia"}, dispatcher.Sent[0])
}
