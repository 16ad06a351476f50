package condition

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

// CustomExpressionEvaluator evaluates the custom_expression condition
// kind via a safe, whitelisted CEL AST — never the host language's
// eval. Expressions reference input/variable names directly (e.g.
// "x > 10"), so the variable set is built dynamically from the node's
// inputs and the execution's variables rather than a fixed wrapper.
type CustomExpressionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCustomExpressionEvaluator creates an evaluator with an empty
// program cache.
func NewCustomExpressionEvaluator() *CustomExpressionEvaluator {
	return &CustomExpressionEvaluator{cache: make(map[string]cel.Program)}
}

func (e *CustomExpressionEvaluator) Evaluate(_ context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, _ *diagram.ExecutableDiagram, inputs map[string]any) (EvaluationResult, error) {
	if node.Condition == nil || node.Condition.Expression == "" {
		return EvaluationResult{
			Result:     false,
			Metadata:   map[string]any{"reason": "no expression provided"},
			OutputData: passthrough(inputs),
		}, nil
	}

	expr := node.Condition.Expression
	evalVars := make(map[string]any, len(inputs))
	for k, v := range inputs {
		evalVars[k] = v
	}
	// Execution variables (including loop indices) take precedence
	// over inputs.
	for k, v := range execCtx.GetVariables() {
		evalVars[k] = v
	}

	prg, err := e.program(expr, varNames(evalVars))
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("custom_expression %q: %w", expr, err)
	}

	out, _, err := prg.Eval(evalVars)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("custom_expression %q: evaluation error: %w", expr, err)
	}
	boolResult, ok := out.Value().(bool)
	if !ok {
		return EvaluationResult{}, fmt.Errorf("custom_expression %q: expected boolean result, got %T", expr, out.Value())
	}

	keys := make([]string, 0, len(evalVars))
	for k := range evalVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return EvaluationResult{
		Result:     boolResult,
		Metadata:   map[string]any{"expression": expr, "context_keys": keys},
		OutputData: passthrough(inputs),
	}, nil
}

func passthrough(inputs map[string]any) map[string]any {
	if inputs == nil {
		return map[string]any{}
	}
	return inputs
}

func varNames(vars map[string]any) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// program returns a cached CEL program for expr declared over exactly
// varNames, compiling (and whitelisting) it on first use.
func (e *CustomExpressionEvaluator) program(expr string, names []string) (cel.Program, error) {
	cacheKey := expr + "|" + strings.Join(names, ",")

	e.mu.RLock()
	prg, ok := e.cache[cacheKey]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := e.compile(expr, names)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[cacheKey] = prg
	e.mu.Unlock()
	return prg, nil
}

func (e *CustomExpressionEvaluator) compile(expr string, names []string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(names)+8)
	for _, n := range names {
		opts = append(opts, cel.Variable(n, cel.DynType))
	}
	opts = append(opts, whitelistedFunctions()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	return prg, nil
}

// whitelistedFunctions declares the function surface permitted on top
// of CEL's built-in arithmetic/comparison/logical/membership operators:
// len, abs, min, max, sum, all, any. These are added to CEL's standard
// environment, not substituted for it: the standard library's own
// functions (size, contains, startsWith, matches, type conversions and
// the like, including receiver-style calls such as s.startsWith("x"))
// remain callable. CEL itself offers no I/O.
func whitelistedFunctions() []cel.EnvOption {
	asList := func(v ref.Val) (traits.Lister, error) {
		l, ok := v.(traits.Lister)
		if !ok {
			return nil, fmt.Errorf("expected list argument")
		}
		return l, nil
	}

	numeric := func(v ref.Val) (float64, bool) {
		switch n := v.(type) {
		case types.Int:
			return float64(n), true
		case types.Double:
			return float64(n), true
		default:
			return 0, false
		}
	}

	listReduce := func(name string, fn func(vals []ref.Val) ref.Val) cel.EnvOption {
		return cel.Function(name,
			cel.Overload(name+"_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					l, err := asList(v)
					if err != nil {
						return types.NewErr("%s: %v", name, err)
					}
					n := int64(l.Size().(types.Int))
					vals := make([]ref.Val, 0, n)
					it := l.Iterator()
					for it.HasNext() == types.True {
						vals = append(vals, it.Next())
					}
					return fn(vals)
				})),
		)
	}

	return []cel.EnvOption{
		cel.Function("len",
			cel.Overload("len_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					l, err := asList(v)
					if err != nil {
						return types.NewErr("len: %v", err)
					}
					return l.Size()
				})),
			cel.Overload("len_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Int(len(string(v.(types.String))))
				})),
		),
		cel.Function("abs",
			cel.Overload("abs_int", []*cel.Type{cel.IntType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					n := int64(v.(types.Int))
					if n < 0 {
						n = -n
					}
					return types.Int(n)
				})),
			cel.Overload("abs_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					f := float64(v.(types.Double))
					if f < 0 {
						f = -f
					}
					return types.Double(f)
				})),
		),
		listReduce("sum", func(vals []ref.Val) ref.Val {
			var total float64
			allInt := true
			for _, v := range vals {
				f, ok := numeric(v)
				if !ok {
					return types.NewErr("sum: non-numeric element")
				}
				if _, isInt := v.(types.Int); !isInt {
					allInt = false
				}
				total += f
			}
			if allInt {
				return types.Int(int64(total))
			}
			return types.Double(total)
		}),
		listReduce("min", func(vals []ref.Val) ref.Val {
			if len(vals) == 0 {
				return types.NewErr("min: empty list")
			}
			best, ok := numeric(vals[0])
			if !ok {
				return types.NewErr("min: non-numeric element")
			}
			for _, v := range vals[1:] {
				f, ok := numeric(v)
				if !ok {
					return types.NewErr("min: non-numeric element")
				}
				if f < best {
					best = f
				}
			}
			return types.Double(best)
		}),
		listReduce("max", func(vals []ref.Val) ref.Val {
			if len(vals) == 0 {
				return types.NewErr("max: empty list")
			}
			best, ok := numeric(vals[0])
			if !ok {
				return types.NewErr("max: non-numeric element")
			}
			for _, v := range vals[1:] {
				f, ok := numeric(v)
				if !ok {
					return types.NewErr("max: non-numeric element")
				}
				if f > best {
					best = f
				}
			}
			return types.Double(best)
		}),
		listReduce("all", func(vals []ref.Val) ref.Val {
			for _, v := range vals {
				b, ok := v.(types.Bool)
				if !ok || bool(!b) {
					return types.False
				}
			}
			return types.True
		}),
		listReduce("any", func(vals []ref.Val) ref.Val {
			for _, v := range vals {
				if b, ok := v.(types.Bool); ok && bool(b) {
					return types.True
				}
			}
			return types.False
		}),
	}
}
