// Package expression compiles the two small expression forms used by
// definitions: boolean guards on event listeners and value expressions on
// injected fields.
//
// Guards are expr-lang expressions evaluated against the listener's
// parameters, for example `event.Name == "greeter" && count > 2`. A guard may
// be wrapped in ${...} or #{...}; the wrapper is ignored.
//
// Values are either text with ${path} or ${path:default} placeholders that
// resolve against the configuration, or a single #{expression} evaluated
// against the configuration tree.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expression errors
var (
	ErrCompile    = errors.New("expression does not compile")
	ErrEvaluate   = errors.New("expression evaluation failed")
	ErrNotBoolean = errors.New("guard did not evaluate to a boolean")
	ErrUnresolved = errors.New("placeholder has no value and no default")
)

// Guard is a compiled boolean predicate. The zero Guard and a nil *Guard
// always pass.
type Guard struct {
	source  string
	program *vm.Program
}

// CompileGuard compiles src. An empty or blank src yields a guard that always
// passes. vars names the variables the guard is evaluated with; a builtin
// function of the same name (count, len, max...) is disabled so the name
// refers to the variable.
func CompileGuard(src string, vars ...string) (*Guard, error) {
	body := strings.TrimSpace(unwrap(strings.TrimSpace(src)))
	if body == "" {
		return &Guard{source: src}, nil
	}
	opts := make([]expr.Option, 0, len(vars)+2)
	opts = append(opts, expr.AsBool(), expr.AllowUndefinedVariables())
	for _, name := range vars {
		opts = append(opts, expr.DisableBuiltin(name))
	}
	program, err := expr.Compile(body, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCompile, src, err)
	}
	return &Guard{source: src, program: program}, nil
}

// Eval evaluates the guard with params as its variables.
func (g *Guard) Eval(params map[string]any) (bool, error) {
	if g == nil || g.program == nil {
		return true, nil
	}
	out, err := expr.Run(g.program, params)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrEvaluate, g.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q returned %T", ErrNotBoolean, g.source, out)
	}
	return b, nil
}

// Empty reports whether the guard always passes.
func (g *Guard) Empty() bool { return g == nil || g.program == nil }

// String returns the guard source.
func (g *Guard) String() string {
	if g == nil {
		return ""
	}
	return g.source
}

func unwrap(s string) string {
	if (strings.HasPrefix(s, "${") || strings.HasPrefix(s, "#{")) && strings.HasSuffix(s, "}") {
		return s[2 : len(s)-1]
	}
	return s
}
