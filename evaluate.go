package docstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine names accepted by NewEvaluator.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

var ErrNoEvaluator = errors.New("docstore: evaluator not configured")

// SortContext carries the bindings visible to a sort-key expression. For a
// mapping Key is the mapping key and Value its value; for a sequence both
// hold the element.
type SortContext struct {
	Key   any
	Value any
	Index int
	Now   *time.Time
	Args  map[string]any
}

func (ctx SortContext) withDefaults() SortContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

// bindings exposes the item as plain Go values so every engine can index
// into mappings.
func (ctx SortContext) bindings() map[string]any {
	ctx = ctx.withDefaults()
	return map[string]any{
		"key":   Plain(ctx.Key),
		"value": Plain(ctx.Value),
		"index": ctx.Index,
		"now":   *ctx.Now,
		"args":  ctx.Args,
	}
}

func (ctx SortContext) label() string {
	if s, ok := ctx.Key.(string); ok {
		return s
	}
	return fmt.Sprintf("#%d", ctx.Index)
}

// Evaluator executes sort-key expressions.
type Evaluator interface {
	Engine() string
	Evaluate(ctx SortContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule is a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx SortContext) (any, error)
}

// EvaluatorOption configures any of the built-in evaluators.
type EvaluatorOption func(*evaluatorConfig)

type evaluatorConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

func applyEvaluatorOptions(opts []EvaluatorOption) evaluatorConfig {
	cfg := evaluatorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// NewEvaluator builds the evaluator for engine. An empty engine selects expr.
// The js engine is only available when built with the js_eval tag.
func NewEvaluator(engine string, opts ...EvaluatorOption) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		if evaluator := NewJSEvaluator(opts...); evaluator != nil {
			return evaluator, nil
		}
		return nil, configError("evaluator", "js engine requires the js_eval build tag")
	default:
		return nil, configError("evaluator", "unknown engine %q", engine)
	}
}

// compileSortKey compiles expr into a sort-key function. Compile failures
// are configuration errors; runtime failures come back as EvaluationError.
func compileSortKey(evaluator Evaluator, expr string, args map[string]any) (func(SortContext) (any, error), error) {
	if evaluator == nil {
		return nil, &ConfigurationError{Op: "sort", Err: ErrNoEvaluator}
	}
	if strings.TrimSpace(expr) == "" {
		return nil, configError("sort", "sort expression must not be empty")
	}
	engine := evaluator.Engine()
	rule, err := evaluator.Compile(expr)
	if err != nil {
		return nil, &ConfigurationError{Op: "sort", Err: wrapEvaluationError(engine, expr, "", err)}
	}
	now := time.Now()
	return func(ctx SortContext) (any, error) {
		ctx.Now = &now
		if ctx.Args == nil {
			ctx.Args = args
		}
		value, err := rule.Evaluate(ctx)
		if err != nil {
			return nil, wrapEvaluationError(engine, expr, ctx.label(), err)
		}
		return value, nil
	}, nil
}
