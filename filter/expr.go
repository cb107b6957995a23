package filter

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/garminconnect/garmin"
)

// exprFilter implements CompiledFilter using the expr language
type exprFilter struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// ExprCompilerOption configures an expr compiler
type ExprCompilerOption func(*exprCompiler)

// WithCache enables filter caching with the specified size
func WithCache(size int) ExprCompilerOption {
	return func(c *exprCompiler) {
		if size > 0 {
			c.cache = newProgramCache(size)
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) ExprCompilerOption {
	return func(c *exprCompiler) {
		maps.Copy(c.helperFuncs, funcs)
	}
}

// NewExprCompiler creates a new expr-based filter compiler
func NewExprCompiler(opts ...ExprCompilerOption) Compiler {
	c := &exprCompiler{
		helperFuncs: staticHelpers(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type exprCompiler struct {
	helperFuncs map[string]any
	cache       *programCache
}

// Compile compiles an expression into an executable filter
func (c *exprCompiler) Compile(expression string) (CompiledFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.get(expression); ok {
			return cached, nil
		}
	}

	// Record-specific helpers are typed here and bound per record at run time.
	env := make(map[string]any, len(c.helperFuncs)+8)
	maps.Copy(env, c.helperFuncs)
	maps.Copy(env, recordHelpers(nil))

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(), // record fields vary by resource
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	filter := &exprFilter{
		expression: expression,
		program:    program,
		helpers:    c.helperFuncs,
	}

	if c.cache != nil {
		c.cache.put(expression, filter)
	}

	return filter, nil
}

// Evaluate reports whether the record matches. Evaluation errors count as no match.
func (f *exprFilter) Evaluate(record garmin.Object) bool {
	ok, err := f.Match(record)
	return err == nil && ok
}

// Match evaluates the filter against a record
func (f *exprFilter) Match(record garmin.Object) (bool, error) {
	result, err := expr.Run(f.program, runtimeEnvironment(record, f.helpers))
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			Record:     describe(record),
			Err:        err,
		}
	}

	// AsBool guarantees the result type
	return result.(bool), nil
}

// Expression returns the original expression
func (f *exprFilter) Expression() string {
	return f.expression
}

// CompileFilter compiles an expression without caching
func CompileFilter(expression string) (CompiledFilter, error) {
	return NewExprCompiler().Compile(expression)
}

func staticHelpers() map[string]any {
	return map[string]any{
		"contains": func(str, substr string) bool {
			return strings.Contains(strings.ToLower(str), strings.ToLower(substr))
		},
		"startsWith": func(str, prefix string) bool {
			return strings.HasPrefix(strings.ToLower(str), strings.ToLower(prefix))
		},
		"endsWith": func(str, suffix string) bool {
			return strings.HasSuffix(strings.ToLower(str), strings.ToLower(suffix))
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		// clock converts a wall time to minutes after midnight, the unit of alarmTime
		"clock": func(hour, minute int) int {
			return hour*60 + minute
		},
	}
}

// runtimeEnvironment exposes the record both as Record and as top-level
// fields, with JSON numbers converted so they compare against literals.
func runtimeEnvironment(record garmin.Object, helpers map[string]any) map[string]any {
	env := make(map[string]any, len(record)+len(helpers)+8)
	maps.Copy(env, helpers)

	fields := make(map[string]any, len(record))
	for k, v := range record {
		fields[k] = normalize(v)
	}
	maps.Copy(env, fields)
	env["Record"] = fields

	maps.Copy(env, recordHelpers(fields))
	return env
}

func recordHelpers(fields map[string]any) map[string]any {
	return map[string]any{
		"has": func(name string) bool {
			_, ok := fields[name]
			return ok
		},
		"isOn": func() bool {
			mode, _ := fields["alarmMode"].(string)
			return strings.EqualFold(mode, "ON")
		},
		"onDay": func(day string) bool {
			days, _ := fields["alarmDays"].([]any)
			return slices.ContainsFunc(days, func(d any) bool {
				s, ok := d.(string)
				return ok && dayMatches(s, day)
			})
		},
		"timeOfDay": func() string {
			minutes, ok := fields["alarmTime"].(int64)
			if !ok {
				return ""
			}
			return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
		},
	}
}

// dayMatches compares day names loosely so "mon" matches "MONDAY" and "M"
func dayMatches(value, day string) bool {
	value, day = strings.ToLower(value), strings.ToLower(day)
	if value == "" || day == "" {
		return false
	}
	return strings.HasPrefix(value, day) || strings.HasPrefix(day, value)
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalize(inner)
		}
		return out
	default:
		return v
	}
}

func describe(record garmin.Object) string {
	for _, key := range []string{"alarmId", "deviceId", "displayName"} {
		if v, ok := record[key]; ok {
			return fmt.Sprintf("%s %v", key, v)
		}
	}
	return "record"
}
