package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"

	"github.com/RealZimboGuy/reguaflow/internal/graph"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

const (
	ResultTriggerFired        = "trigger_fired"
	ResultWhatsAppSent        = "whatsapp_sent"
	ResultWhatsAppError       = "whatsapp_error"
	ResultSMSQueued           = "sms_queued"
	ResultAINegotiateQueued   = "ai_negotiate_queued"
	ResultStatusUpdatedPrefix = "status_updated_to_"
	ResultStatusUpdateSkipped = "status_update_skipped"
	ResultStatusUpdateFailed  = "status_update_failed"
	ResultWaitScheduled       = "wait_scheduled"
	ResultConditionTrue       = "condition_true"
	ResultConditionFalse      = "condition_false"
	ResultConditionFailed     = "condition_failed"
)

var errNoConnectedChannel = errors.New("no connected whatsapp channel for tenant")

// Outcome is what one node evaluation produced.
type Outcome struct {
	Result string
	// Branch is only meaningful for branching nodes.
	Branch bool
	// ResumeAt is set by wait nodes; the driver suspends the run.
	ResumeAt time.Time
}

func (o Outcome) Suspends() bool { return !o.ResumeAt.IsZero() }

// Evaluator maps a node and the client's attributes to an outcome and performs the node's side effect.
type Evaluator struct {
	clients    ClientRepo
	channels   ChannelRepo
	dispatcher Dispatcher
	clock      core.Clock
}

func NewEvaluator(clients ClientRepo, channels ChannelRepo, dispatcher Dispatcher, clock core.Clock) *Evaluator {
	return &Evaluator{clients: clients, channels: channels, dispatcher: dispatcher, clock: clock}
}

// Evaluate never applies the node's error policy; it returns the error with a result
// describing the failure and leaves the decision to the driver.
func (ev *Evaluator) Evaluate(ctx context.Context, n graph.Node, client *domain.Client, tenantID string) (Outcome, error) {
	switch v := n.(type) {
	case *graph.Trigger:
		return Outcome{Result: ResultTriggerFired}, nil

	case *graph.WhatsApp:
		if err := ev.sendWhatsApp(ctx, v, client, tenantID); err != nil {
			return Outcome{Result: ResultWhatsAppError}, err
		}
		return Outcome{Result: ResultWhatsAppSent}, nil

	case *graph.SMS:
		return Outcome{Result: ResultSMSQueued}, nil

	case *graph.AINegotiate:
		return Outcome{Result: ResultAINegotiateQueued}, nil

	case *graph.UpdateStatus:
		if v.NewStatus == "" {
			return Outcome{Result: ResultStatusUpdateSkipped}, nil
		}
		if err := ev.clients.UpdateStatus(ctx, client.ID, v.NewStatus); err != nil {
			return Outcome{Result: ResultStatusUpdateFailed}, fmt.Errorf("update client status: %w", err)
		}
		client.Status = v.NewStatus
		return Outcome{Result: ResultStatusUpdatedPrefix + v.NewStatus}, nil

	case *graph.Wait:
		resumeAt := ev.clock.Now().Add(time.Duration(v.Days * float64(24*time.Hour)))
		return Outcome{Result: ResultWaitScheduled, ResumeAt: resumeAt}, nil

	case *graph.Condition:
		left := client.ValorParcela
		if v.Field == graph.FieldPropensityScore {
			left = client.Score()
		}
		return conditionOutcome(v.Operator.Compare(left, v.Value)), nil

	case *graph.Expression:
		out, err := expr.Run(v.Program, graph.ExpressionEnv(client))
		if err != nil {
			return Outcome{Result: ResultConditionFailed}, fmt.Errorf("evaluate expression %q: %w", v.Source, err)
		}
		ok, isBool := out.(bool)
		if !isBool {
			return Outcome{Result: ResultConditionFailed}, fmt.Errorf("expression %q returned %T", v.Source, out)
		}
		return conditionOutcome(ok), nil
	}
	return Outcome{}, fmt.Errorf("no evaluator for node type %s", n.Type())
}

func conditionOutcome(ok bool) Outcome {
	if ok {
		return Outcome{Result: ResultConditionTrue, Branch: true}
	}
	return Outcome{Result: ResultConditionFalse, Branch: false}
}

func (ev *Evaluator) sendWhatsApp(ctx context.Context, n *graph.WhatsApp, client *domain.Client, tenantID string) error {
	if client.Phone == "" {
		return fmt.Errorf("client %s has no phone", client.ID)
	}
	channel, err := ev.channels.FindConnected(ctx, tenantID, domain.ChannelKindWhatsApp)
	if errors.Is(err, repository.ErrNotFound) {
		return errNoConnectedChannel
	}
	if err != nil {
		return fmt.Errorf("lookup whatsapp channel: %w", err)
	}
	if channel == nil || channel.Status != domain.ChannelStatusConnected {
		return errNoConnectedChannel
	}
	message := RenderMessage(n.MessageTemplate, client)
	slog.DebugContext(ctx, "Dispatching whatsapp message", "node_id", n.ID(), "client_id", client.ID, "channel_id", channel.ID, "provider", channel.Provider)
	return ev.dispatcher.SendText(ctx, channel, client.Phone, message)
}
