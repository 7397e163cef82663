package statemachine

import (
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
)

// PendingGuard decides whether an entity must wait for external input before it is processed.
type PendingGuard[T entity.Stateful] interface {
	Test(e T) bool
}

type GuardFunc[T entity.Stateful] func(e T) bool

func (f GuardFunc[T]) Test(e T) bool { return f(e) }

// ExpressionGuard evaluates a boolean expression over the entity, for example
// `state == "REQUESTED" && counterPartyId == "did:web:partner"`.
type ExpressionGuard[T entity.Stateful] struct {
	expr      *govaluate.EvaluableExpression
	stateName func(int) string
}

// NewExpressionGuard compiles expression. An empty expression yields a nil guard.
func NewExpressionGuard[T entity.Stateful](expression string, stateName func(int) string) (*ExpressionGuard[T], error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, err
	}
	return &ExpressionGuard[T]{expr: expr, stateName: stateName}, nil
}

// Test returns false when the expression fails to evaluate or is not boolean.
func (g *ExpressionGuard[T]) Test(e T) bool {
	if g == nil {
		return false
	}
	ent := e.Entity()
	state := ""
	if g.stateName != nil {
		state = g.stateName(ent.State)
	}
	result, err := g.expr.Evaluate(map[string]interface{}{
		"state":          state,
		"stateCode":      float64(ent.State),
		"stateCount":     float64(ent.StateCount),
		"type":           string(ent.Type),
		"counterPartyId": ent.CounterPartyID,
		"protocol":       ent.Protocol,
	})
	if err != nil {
		return false
	}
	v, ok := result.(bool)
	return ok && v
}
