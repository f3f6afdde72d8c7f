package graph

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/vm"
)

// Kind is the nodeType tag of an authored node.
type Kind string

const (
	KindTrigger             Kind = "trigger"
	KindWhatsApp            Kind = "action_whatsapp"
	KindSMS                 Kind = "action_sms"
	KindAINegotiate         Kind = "action_ai_negotiate"
	KindUpdateStatus        Kind = "action_update_status"
	KindWait                Kind = "action_wait"
	KindConditionScore      Kind = "condition_score"
	KindConditionValue      Kind = "condition_value"
	KindConditionExpression Kind = "condition_expression"
)

const triggerPrefix = "trigger_"

// ErrorPolicy says what the driver does when a node fails.
type ErrorPolicy string

const (
	OnErrorAbort    ErrorPolicy = "abort"
	OnErrorContinue ErrorPolicy = "continue"
)

// Node is the closed set of decoded node variants. Only types in this package implement it.
type Node interface {
	ID() string
	// Type is the authored nodeType string, e.g. "trigger_manual".
	Type() string
	Kind() Kind
	OnError() ErrorPolicy
	node()
}

type base struct {
	id       string
	nodeType string
	kind     Kind
	onError  ErrorPolicy
}

func (b base) ID() string           { return b.id }
func (b base) Type() string         { return b.nodeType }
func (b base) Kind() Kind           { return b.kind }
func (b base) OnError() ErrorPolicy { return b.onError }
func (base) node()                  {}

// Trigger is the entry marker. Name is the suffix after "trigger_".
type Trigger struct {
	base
	Name string
}

type WhatsApp struct {
	base
	MessageTemplate string
}

// SMS is accepted but not dispatched.
type SMS struct {
	base
	MessageTemplate string
}

// AINegotiate is accepted but not dispatched.
type AINegotiate struct {
	base
}

// UpdateStatus writes NewStatus onto the client. Empty NewStatus leaves it untouched.
type UpdateStatus struct {
	base
	NewStatus string
}

// Wait suspends the run for Days (fractions allowed).
type Wait struct {
	base
	Days float64
}

// Field names the client attribute a Condition compares.
type Field string

const (
	FieldPropensityScore Field = "propensity_score"
	FieldValorParcela    Field = "valor_parcela"
)

type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator as "left op right".
func (o Operator) Compare(left, right float64) bool {
	switch o {
	case OpLess:
		return left < right
	case OpGreaterEqual:
		return left >= right
	case OpLessEqual:
		return left <= right
	case OpEqual:
		return left == right
	case OpNotEqual:
		return left != right
	default:
		return left > right
	}
}

func parseOperator(raw string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(raw)); op {
	case "":
		return OpGreater, nil
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return op, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", raw)
	}
}

// Condition compares one numeric client attribute against Value and branches yes/no.
type Condition struct {
	base
	Field    Field
	Operator Operator
	Value    float64
}

// Expression evaluates a compiled boolean expression over the client attributes and branches yes/no.
type Expression struct {
	base
	Source  string
	Program *vm.Program
}

// Branching reports whether n selects its successor by a yes/no outcome.
func Branching(n Node) bool {
	switch n.(type) {
	case *Condition, *Expression:
		return true
	}
	return false
}
