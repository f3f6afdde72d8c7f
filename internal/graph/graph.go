package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// ErrInvalidGraph is returned for any authoring defect found while decoding.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// MaxWaitDays bounds action_wait so the resume time stays within time.Duration.
const MaxWaitDays = 36500

const (
	HandleYes = "yes"
	HandleNo  = "no"
)

// Graph is a decoded, validated workflow definition.
type Graph struct {
	WorkflowID string
	TenantID   string
	Active     bool

	nodes    map[string]Node
	order    []string
	outgoing map[string][]domain.Edge
	start    Node
}

// Decode turns the stored definition into typed nodes, checks edges and resolves the start node.
func Decode(wf *domain.WorkflowGraph) (*Graph, error) {
	g := &Graph{
		WorkflowID: wf.ID,
		TenantID:   wf.TenantID,
		Active:     wf.IsActive,
		nodes:      make(map[string]Node, len(wf.Nodes)),
		outgoing:   make(map[string][]domain.Edge),
	}
	if len(wf.Nodes) == 0 {
		return nil, invalid("workflow %s has no nodes", wf.ID)
	}

	var flagged []string
	for _, raw := range wf.Nodes {
		if raw.ID == "" {
			return nil, invalid("node without id")
		}
		if _, dup := g.nodes[raw.ID]; dup {
			return nil, invalid("duplicate node id %q", raw.ID)
		}
		n, err := decodeNode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrInvalidGraph, raw.ID, err)
		}
		g.nodes[raw.ID] = n
		g.order = append(g.order, raw.ID)
		if raw.IsStart {
			flagged = append(flagged, raw.ID)
		}
	}

	incoming := make(map[string]int, len(wf.Nodes))
	for _, e := range wf.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, invalid("edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, invalid("edge %q references unknown target %q", e.ID, e.Target)
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		incoming[e.Target]++
	}

	start, err := resolveStart(g, flagged, incoming)
	if err != nil {
		return nil, err
	}
	g.start = start
	return g, nil
}

func resolveStart(g *Graph, flagged []string, incoming map[string]int) (Node, error) {
	switch {
	case len(flagged) == 1:
		return g.nodes[flagged[0]], nil
	case len(flagged) > 1:
		return nil, invalid("%d nodes are flagged is_start: %s", len(flagged), strings.Join(flagged, ", "))
	}

	var candidates []string
	for _, id := range g.order {
		if incoming[id] == 0 {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) > 1 {
		var triggers []string
		for _, id := range candidates {
			if g.nodes[id].Kind() == KindTrigger {
				triggers = append(triggers, id)
			}
		}
		candidates = triggers
	}
	switch len(candidates) {
	case 1:
		return g.nodes[candidates[0]], nil
	case 0:
		return nil, invalid("no start node: no trigger without incoming edges")
	default:
		sort.Strings(candidates)
		return nil, invalid("ambiguous start node, candidates: %s", strings.Join(candidates, ", "))
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

// Start returns the node resolved at decode time.
func (g *Graph) Start() Node { return g.start }

func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in authored order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Outgoing(id string) []domain.Edge {
	return g.outgoing[id]
}

// Next follows the first outgoing edge of a non-branching node.
func (g *Graph) Next(id string) (string, bool) {
	edges := g.outgoing[id]
	if len(edges) == 0 {
		return "", false
	}
	return edges[0].Target, true
}

// Branch picks the edge whose sourceHandle matches the outcome. An edge without a
// handle counts as the "yes" edge when no explicit "yes" exists.
func (g *Graph) Branch(id string, outcome bool) (string, bool) {
	want := HandleNo
	if outcome {
		want = HandleYes
	}
	var fallback string
	for _, e := range g.outgoing[id] {
		if e.SourceHandle == want {
			return e.Target, true
		}
		if outcome && e.SourceHandle == "" && fallback == "" {
			fallback = e.Target
		}
	}
	return fallback, fallback != ""
}

func decodeNode(raw domain.Node) (Node, error) {
	nodeType := raw.NodeType()
	if nodeType == "" {
		return nil, errors.New("missing nodeType")
	}
	policy, err := parsePolicy(raw.Data["on_error"], defaultPolicy(nodeType))
	if err != nil {
		return nil, err
	}
	b := base{id: raw.ID, nodeType: nodeType, kind: Kind(nodeType), onError: policy}

	if strings.HasPrefix(nodeType, triggerPrefix) {
		b.kind = KindTrigger
		return &Trigger{base: b, Name: strings.TrimPrefix(nodeType, triggerPrefix)}, nil
	}

	switch Kind(nodeType) {
	case KindWhatsApp:
		tpl, err := stringField(raw.Data, "message_template")
		if err != nil {
			return nil, err
		}
		return &WhatsApp{base: b, MessageTemplate: tpl}, nil
	case KindSMS:
		tpl, err := stringField(raw.Data, "message_template")
		if err != nil {
			return nil, err
		}
		return &SMS{base: b, MessageTemplate: tpl}, nil
	case KindAINegotiate:
		return &AINegotiate{base: b}, nil
	case KindUpdateStatus:
		status, err := stringField(raw.Data, "new_status")
		if err != nil {
			return nil, err
		}
		return &UpdateStatus{base: b, NewStatus: status}, nil
	case KindWait:
		days, err := numberField(raw.Data, "days", 1)
		if err != nil {
			return nil, err
		}
		if days <= 0 {
			return nil, fmt.Errorf("days must be positive, got %v", days)
		}
		if days > MaxWaitDays {
			return nil, fmt.Errorf("days must be at most %d, got %v", MaxWaitDays, days)
		}
		return &Wait{base: b, Days: days}, nil
	case KindConditionScore, KindConditionValue:
		field := FieldPropensityScore
		if Kind(nodeType) == KindConditionValue {
			field = FieldValorParcela
		}
		rawOp, err := stringField(raw.Data, "operator")
		if err != nil {
			return nil, err
		}
		op, err := parseOperator(rawOp)
		if err != nil {
			return nil, err
		}
		value, err := numberField(raw.Data, "value", 0)
		if err != nil {
			return nil, err
		}
		return &Condition{base: b, Field: field, Operator: op, Value: value}, nil
	case KindConditionExpression:
		source, err := stringField(raw.Data, "expression")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(source) == "" {
			return nil, errors.New("expression is empty")
		}
		program, err := expr.Compile(source, expr.Env(ExpressionEnv(&domain.Client{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile expression: %w", err)
		}
		return &Expression{base: b, Source: source, Program: program}, nil
	default:
		return nil, fmt.Errorf("unknown nodeType %q", nodeType)
	}
}

func defaultPolicy(nodeType string) ErrorPolicy {
	if Kind(nodeType) == KindWhatsApp {
		return OnErrorContinue
	}
	return OnErrorAbort
}

func parsePolicy(v any, def ErrorPolicy) (ErrorPolicy, error) {
	if v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("on_error must be a string, got %T", v)
	}
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return def, nil
	case OnErrorAbort, OnErrorContinue:
		return p, nil
	default:
		return "", fmt.Errorf("unknown on_error policy %q", s)
	}
}

func stringField(data map[string]any, key string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// numberField accepts JSON numbers, YAML ints and numeric strings. NaN and infinities are rejected.
func numberField(data map[string]any, key string, def float64) (float64, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s is not a number: %q", key, n)
		}
		f = parsed
	case string:
		if strings.TrimSpace(n) == "" {
			return def, nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not a number: %q", key, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a finite number, got %v", key, v)
	}
	return f, nil
}

// ExpressionEnv exposes the client attributes to condition expressions.
func ExpressionEnv(c *domain.Client) map[string]any {
	return map[string]any{
		"nome_completo":    c.NomeCompleto,
		"cpf":              c.CPF,
		"phone":            c.Phone,
		"status":           c.Status,
		"valor_parcela":    c.ValorParcela,
		"propensity_score": c.Score(),
	}
}
