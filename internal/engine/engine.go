// Package engine evaluates operator expressions against a pipeline
// context and runs whole pipelines step by step. Evaluation is a
// depth-first tree walk: operands left to right, first error wins.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/theory/jsonpath"

	"github.com/deckrun/deck/internal/operator"
	"github.com/deckrun/deck/internal/pipeline"
	"github.com/deckrun/deck/internal/provider"
	"github.com/deckrun/deck/internal/schema"
	"github.com/deckrun/deck/internal/template"
	"github.com/deckrun/deck/internal/value"
)

// Engine holds the capabilities side-effecting operators reach for.
// An Engine is immutable after construction and safe to share across
// concurrent pipeline runs.
type Engine struct {
	db    provider.Database
	clock provider.Clock
}

// New returns an engine using db for the database operators and clock
// for $now. A nil clock defaults to the system clock.
func New(db provider.Database, clock provider.Clock) *Engine {
	if clock == nil {
		clock = provider.SystemClock{}
	}
	return &Engine{db: db, clock: clock}
}

// Outcome is the result of one pipeline run. Returned reports an early
// $return, in which case Value carries the returned value; otherwise
// the run completed and Context holds every step binding.
type Outcome struct {
	Returned bool
	Value    any
	Context  *pipeline.Context
}

// returnSignal carries a $return value up to RunPipeline. It travels
// the error path but is control flow, not a failure.
type returnSignal struct {
	value any
}

func (returnSignal) Error() string {
	return "early return"
}

// RunPipeline evaluates steps in order against scope. A named step's
// result is bound into scope for later steps. The first error aborts
// the run; a $return ends it early with the returned value.
func (e *Engine) RunPipeline(ctx context.Context, steps []pipeline.Step, scope *pipeline.Context) (Outcome, error) {
	for _, step := range steps {
		result, err := e.Eval(ctx, scope, step.Value.Expr)
		if err != nil {
			var signal returnSignal
			if errors.As(err, &signal) {
				return Outcome{Returned: true, Value: signal.value, Context: scope}, nil
			}
			if step.Name != "" {
				return Outcome{}, fmt.Errorf("step %q: %w", step.Name, err)
			}
			return Outcome{}, err
		}
		if step.Name != "" {
			if err := scope.Bind(step.Name, result); err != nil {
				return Outcome{}, fmt.Errorf("step %q: %w", step.Name, err)
			}
		}
	}
	return Outcome{Context: scope}, nil
}

// Eval evaluates one expression against scope.
func (e *Engine) Eval(ctx context.Context, scope *pipeline.Context, expr operator.Expr) (any, error) {
	switch node := expr.(type) {
	case operator.Literal:
		return node.Value, nil
	case operator.Get:
		return scope.Lookup(node.Path)
	case operator.JSONPathQuery:
		return e.evalJSONPath(scope, node)
	case operator.If:
		return e.evalIf(ctx, scope, node)
	case operator.Switch:
		return e.evalSwitch(ctx, scope, node)
	case operator.Map:
		return e.evalMap(ctx, scope, node)
	case operator.Filter:
		return e.evalFilter(ctx, scope, node)
	case operator.Reduce:
		return e.evalReduce(ctx, scope, node)
	case operator.Compare:
		return e.evalCompare(ctx, scope, node)
	case operator.Logic:
		return e.evalLogic(ctx, scope, node)
	case operator.Not:
		operand, err := e.Eval(ctx, scope, node.Operand)
		if err != nil {
			return nil, err
		}
		return !value.Truthy(operand), nil
	case operator.Math:
		return e.evalMath(ctx, scope, node)
	case operator.Merge:
		return e.evalMerge(ctx, scope, node)
	case operator.Exists:
		return e.evalExists(ctx, scope, node)
	case operator.Now:
		return e.clock.Now().UTC().Format(time.RFC3339), nil
	case operator.RenderString:
		return e.evalRenderString(ctx, scope, node)
	case operator.Return:
		result, err := e.Eval(ctx, scope, node.Value)
		if err != nil {
			return nil, err
		}
		return nil, returnSignal{value: result}
	case operator.Validate:
		return e.evalValidate(ctx, scope, node)
	case operator.DBQuery:
		return e.evalDBQuery(ctx, scope, node)
	case operator.DBInsert:
		return e.evalDBInsert(ctx, scope, node)
	case operator.DBUpdate:
		return e.evalDBUpdate(ctx, scope, node)
	case operator.DBDelete:
		return e.evalDBDelete(ctx, scope, node)
	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

func (e *Engine) evalJSONPath(scope *pipeline.Context, node operator.JSONPathQuery) (any, error) {
	path, err := jsonpath.Parse(node.Path)
	if err != nil {
		return nil, pipeline.TypeMismatchf("invalid JSONPath %q: %v", node.Path, err)
	}

	matches := path.Select(any(scope.Snapshot()))
	result := make([]any, 0, len(matches))
	result = append(result, matches...)
	return result, nil
}

func (e *Engine) evalIf(ctx context.Context, scope *pipeline.Context, node operator.If) (any, error) {
	cond, err := e.Eval(ctx, scope, node.Cond)
	if err != nil {
		return nil, err
	}
	if value.Truthy(cond) {
		return e.Eval(ctx, scope, node.Then)
	}
	if node.Else == nil {
		return nil, nil
	}
	return e.Eval(ctx, scope, node.Else)
}

func (e *Engine) evalSwitch(ctx context.Context, scope *pipeline.Context, node operator.Switch) (any, error) {
	on, err := e.Eval(ctx, scope, node.On)
	if err != nil {
		return nil, err
	}
	for _, branch := range node.Cases {
		if value.Equal(on, branch.When) {
			return e.Eval(ctx, scope, branch.Then)
		}
	}
	if node.Default == nil {
		return nil, nil
	}
	return e.Eval(ctx, scope, node.Default)
}

func (e *Engine) evalMap(ctx context.Context, scope *pipeline.Context, node operator.Map) (any, error) {
	items, err := e.evalItems(ctx, scope, node.Items, "$map")
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(items))
	for _, item := range items {
		child := scope.Fork()
		if err := child.Bind(node.As, item); err != nil {
			return nil, fmt.Errorf("$map: %w", err)
		}
		mapped, err := e.Eval(ctx, child, node.Body)
		if err != nil {
			return nil, err
		}
		result = append(result, mapped)
	}
	return result, nil
}

func (e *Engine) evalFilter(ctx context.Context, scope *pipeline.Context, node operator.Filter) (any, error) {
	items, err := e.evalItems(ctx, scope, node.Items, "$filter")
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(items))
	for _, item := range items {
		child := scope.Fork()
		if err := child.Bind(node.As, item); err != nil {
			return nil, fmt.Errorf("$filter: %w", err)
		}
		keep, err := e.Eval(ctx, child, node.Predicate)
		if err != nil {
			return nil, err
		}
		if value.Truthy(keep) {
			result = append(result, item)
		}
	}
	return result, nil
}

func (e *Engine) evalReduce(ctx context.Context, scope *pipeline.Context, node operator.Reduce) (any, error) {
	items, err := e.evalItems(ctx, scope, node.Items, "$reduce")
	if err != nil {
		return nil, err
	}

	acc, err := e.Eval(ctx, scope, node.Initial)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		child := scope.Fork()
		if err := child.Bind(node.As, item); err != nil {
			return nil, fmt.Errorf("$reduce: %w", err)
		}
		if err := child.Bind(node.Acc, acc); err != nil {
			return nil, fmt.Errorf("$reduce: %w", err)
		}
		acc, err = e.Eval(ctx, child, node.Body)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (e *Engine) evalItems(ctx context.Context, scope *pipeline.Context, expr operator.Expr, op string) ([]any, error) {
	evaluated, err := e.Eval(ctx, scope, expr)
	if err != nil {
		return nil, err
	}
	items, ok := evaluated.([]any)
	if !ok {
		return nil, pipeline.TypeMismatchf("%s items must be an array, got %s", op, value.Kind(evaluated))
	}
	return items, nil
}

func (e *Engine) evalCompare(ctx context.Context, scope *pipeline.Context, node operator.Compare) (any, error) {
	left, err := e.Eval(ctx, scope, node.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.Eval(ctx, scope, node.Right)
	if err != nil {
		return nil, err
	}

	switch node.Op {
	case operator.CompareEq:
		return value.Equal(left, right), nil
	case operator.CompareNe:
		return !value.Equal(left, right), nil
	}

	ordering, err := value.Compare(left, right)
	if err != nil {
		return nil, pipeline.TypeMismatchf("%s: %v", node.Op, err)
	}
	switch node.Op {
	case operator.CompareGt:
		return ordering > 0, nil
	case operator.CompareGte:
		return ordering >= 0, nil
	case operator.CompareLt:
		return ordering < 0, nil
	case operator.CompareLte:
		return ordering <= 0, nil
	default:
		return nil, fmt.Errorf("unsupported comparison %q", node.Op)
	}
}

func (e *Engine) evalLogic(ctx context.Context, scope *pipeline.Context, node operator.Logic) (any, error) {
	if len(node.Operands) == 0 {
		return node.Op == operator.LogicAnd, nil
	}

	var last any
	for _, operand := range node.Operands {
		result, err := e.Eval(ctx, scope, operand)
		if err != nil {
			return nil, err
		}
		truthy := value.Truthy(result)
		if node.Op == operator.LogicAnd && !truthy {
			return result, nil
		}
		if node.Op == operator.LogicOr && truthy {
			return result, nil
		}
		last = result
	}
	return last, nil
}

func (e *Engine) evalMath(ctx context.Context, scope *pipeline.Context, node operator.Math) (any, error) {
	operands := make([]float64, 0, len(node.Operands))
	for _, expr := range node.Operands {
		result, err := e.Eval(ctx, scope, expr)
		if err != nil {
			return nil, err
		}
		n, ok := value.ToFloat64(result)
		if !ok {
			return nil, pipeline.TypeMismatchf("%s operand must be a number, got %s", node.Op, value.Kind(result))
		}
		operands = append(operands, n)
	}

	switch node.Op {
	case operator.MathAdd:
		total := 0.0
		for _, n := range operands {
			total += n
		}
		return total, nil
	case operator.MathMultiply:
		total := 1.0
		for _, n := range operands {
			total *= n
		}
		return total, nil
	case operator.MathSubtract:
		return operands[0] - operands[1], nil
	case operator.MathDivide:
		if operands[1] == 0 {
			return nil, pipeline.DivisionByZero()
		}
		return operands[0] / operands[1], nil
	default:
		return nil, fmt.Errorf("unsupported math operator %q", node.Op)
	}
}

func (e *Engine) evalMerge(ctx context.Context, scope *pipeline.Context, node operator.Merge) (any, error) {
	merged := make(map[string]any)
	for _, expr := range node.Objects {
		result, err := e.Eval(ctx, scope, expr)
		if err != nil {
			return nil, err
		}
		object, ok := result.(map[string]any)
		if !ok {
			return nil, pipeline.TypeMismatchf("$merge operand must be an object, got %s", value.Kind(result))
		}
		for k, v := range object {
			merged[k] = v
		}
	}
	return merged, nil
}

func (e *Engine) evalExists(ctx context.Context, scope *pipeline.Context, node operator.Exists) (any, error) {
	result, err := e.Eval(ctx, scope, node.Value)
	if errors.Is(err, pipeline.ErrPathNotFound) {
		return false, nil
	}
	if err != nil {
		return nil, err
	}
	return result != nil, nil
}

func (e *Engine) evalRenderString(ctx context.Context, scope *pipeline.Context, node operator.RenderString) (any, error) {
	evaluated, err := e.Eval(ctx, scope, node.Template)
	if err != nil {
		return nil, err
	}
	text, ok := evaluated.(string)
	if !ok {
		return nil, pipeline.TypeMismatchf("$renderString template must be a string, got %s", value.Kind(evaluated))
	}

	lookup := template.Lookup(func(name string) (any, bool) {
		v, lookupErr := scope.Lookup(name)
		if lookupErr != nil {
			return nil, false
		}
		return v, true
	})

	if node.Vars != nil {
		vars, err := e.Eval(ctx, scope, node.Vars)
		if err != nil {
			return nil, err
		}
		object, ok := vars.(map[string]any)
		if !ok {
			return nil, pipeline.TypeMismatchf("$renderString vars must be an object, got %s", value.Kind(vars))
		}
		varScope := pipeline.NewContext()
		for name, v := range object {
			if err := varScope.Bind(name, v); err != nil {
				return nil, fmt.Errorf("$renderString: %w", err)
			}
		}
		lookup = func(name string) (any, bool) {
			v, lookupErr := varScope.Lookup(name)
			if lookupErr != nil {
				return nil, false
			}
			return v, true
		}
	}

	rendered, err := template.Render(text, lookup)
	if errors.Is(err, template.ErrUnresolved) {
		return nil, pipeline.NotFound(err.Error())
	}
	if err != nil {
		return nil, err
	}
	return rendered, nil
}

func (e *Engine) evalValidate(ctx context.Context, scope *pipeline.Context, node operator.Validate) (any, error) {
	result, err := e.Eval(ctx, scope, node.Value)
	if err != nil {
		return nil, err
	}
	if violations := schema.Validate(result, node.Schema); len(violations) > 0 {
		return nil, pipeline.Validation("schema validation failed", violations)
	}
	return true, nil
}

func (e *Engine) evalDBQuery(ctx context.Context, scope *pipeline.Context, node operator.DBQuery) (any, error) {
	filter, err := e.evalExprMap(ctx, scope, node.Filter)
	if err != nil {
		return nil, err
	}

	sort := make([]provider.SortField, 0, len(node.Sort))
	for _, field := range node.Sort {
		sort = append(sort, provider.SortField{Field: field.Field, Desc: field.Desc})
	}

	q := provider.Query{
		Filter: filter,
		Select: node.Select,
		Limit:  node.Limit,
		Skip:   node.Skip,
		Sort:   sort,
	}

	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	docs, err := e.database()
	if err != nil {
		return nil, err
	}
	results, err := docs.Query(ctx, node.Collection, q)
	if err != nil {
		return nil, pipeline.Storage(err)
	}

	generic := make([]any, 0, len(results))
	for _, doc := range results {
		generic = append(generic, any(doc))
	}
	return generic, nil
}

func (e *Engine) evalDBInsert(ctx context.Context, scope *pipeline.Context, node operator.DBInsert) (any, error) {
	doc, err := e.evalExprMap(ctx, scope, node.Document)
	if err != nil {
		return nil, err
	}

	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	docs, err := e.database()
	if err != nil {
		return nil, err
	}
	inserted, err := docs.Insert(ctx, node.Collection, doc)
	if err != nil {
		return nil, pipeline.Storage(err)
	}
	return inserted, nil
}

func (e *Engine) evalDBUpdate(ctx context.Context, scope *pipeline.Context, node operator.DBUpdate) (any, error) {
	filter, err := e.evalExprMap(ctx, scope, node.Filter)
	if err != nil {
		return nil, err
	}
	patch, err := e.evalExprMap(ctx, scope, node.Update)
	if err != nil {
		return nil, err
	}

	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	docs, err := e.database()
	if err != nil {
		return nil, err
	}
	affected, err := docs.Update(ctx, node.Collection, filter, patch)
	if err != nil {
		return nil, pipeline.Storage(err)
	}
	return float64(affected), nil
}

func (e *Engine) evalDBDelete(ctx context.Context, scope *pipeline.Context, node operator.DBDelete) (any, error) {
	filter, err := e.evalExprMap(ctx, scope, node.Filter)
	if err != nil {
		return nil, err
	}

	if err := e.checkCancelled(ctx); err != nil {
		return nil, err
	}
	docs, err := e.database()
	if err != nil {
		return nil, err
	}
	affected, err := docs.Delete(ctx, node.Collection, filter)
	if err != nil {
		return nil, pipeline.Storage(err)
	}
	return float64(affected), nil
}

// evalExprMap evaluates a field-to-expression map in sorted key order
// so failures are deterministic.
func (e *Engine) evalExprMap(ctx context.Context, scope *pipeline.Context, exprs map[string]operator.Expr) (map[string]any, error) {
	result := make(map[string]any, len(exprs))
	for _, name := range slices.Sorted(maps.Keys(exprs)) {
		v, err := e.Eval(ctx, scope, exprs[name])
		if err != nil {
			return nil, err
		}
		result[name] = v
	}
	return result, nil
}

func (e *Engine) database() (provider.Database, error) {
	if e.db == nil {
		return nil, pipeline.Storage(errors.New("no database configured"))
	}
	return e.db, nil
}

func (e *Engine) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return pipeline.Cancelled(err)
	}
	return nil
}
