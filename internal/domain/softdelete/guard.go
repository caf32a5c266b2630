package softdelete

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
	"deletionmark/pkg/logger"
)

// Guard vetoes soft delete / restore unless a CEL expression holds.
//
// The expression sees two variables:
//
//	record    map(string, dyn)  current attributes of the record
//	operation string            "delete" or "restore"
//
// Example: `operation == "restore" || record.locked == 0`.
type Guard struct {
	expr string
	prg  cel.Program
}

// NewGuard compiles expr. It must evaluate to bool.
func NewGuard(expr string) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("operation", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, apperror.NewValidation("invalid guard expression").
			WithDetail("expression", expr).
			WithCause(iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, apperror.NewValidation("guard expression must evaluate to bool").
			WithDetail("expression", expr).
			WithDetail("type", ast.OutputType().String())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build cel program: %w", err)
	}

	return &Guard{expr: expr, prg: prg}, nil
}

// Expression returns the source expression.
func (g *Guard) Expression() string {
	return g.expr
}

// Allow evaluates the expression for rec.
func (g *Guard) Allow(ctx context.Context, op Operation, rec entity.Record) (bool, error) {
	out, _, err := g.prg.ContextEval(ctx, map[string]any{
		"record":    celRecord(rec),
		"operation": op.String(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate guard %q: %w", g.expr, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard %q returned %T", g.expr, out.Value())
	}
	return allowed, nil
}

// Listener returns a before-event listener that vetoes when Allow is false.
func (g *Guard) Listener() Listener {
	return func(ctx context.Context, e *Event) error {
		allowed, err := g.Allow(ctx, e.Operation, e.Record)
		if err != nil {
			return err
		}
		if !allowed {
			logger.Debug(ctx, "guard vetoed soft "+e.Operation.String(),
				"table", e.Record.TableName(),
				"expression", g.expr,
			)
			e.IsValid = false
		}
		return nil
	}
}

// Register attaches the guard to both before events of h.
func (g *Guard) Register(h *HookRegistry) {
	h.OnBeforeSoftDelete(g.Listener())
	h.OnBeforeSoftRestore(g.Listener())
}

// celRecord converts attributes to values the CEL type adapter understands.
func celRecord(rec entity.Record) map[string]any {
	src, ok := rec.(entity.AttributeSource)
	if !ok {
		return map[string]any{}
	}

	values := src.Values()
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = celValue(v)
	}
	return out
}

func celValue(v any) any {
	switch val := v.(type) {
	case id.ID:
		return val.String()
	case [16]byte:
		return id.ID(val).String()
	case decimal.Decimal:
		return val.InexactFloat64()
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case float32:
		return float64(val)
	}
	return v
}
