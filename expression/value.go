package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Lookup resolves a dotted configuration path.
type Lookup func(path string) (any, bool)

type segment struct {
	literal    string
	path       string
	def        string
	hasDefault bool
}

// Value is a compiled value expression.
type Value struct {
	source   string
	segments []segment
	program  *vm.Program
}

// CompileValue compiles src. Text outside placeholders is kept verbatim.
func CompileValue(src string) (*Value, error) {
	trimmed := strings.TrimSpace(src)
	if strings.HasPrefix(trimmed, "#{") && strings.HasSuffix(trimmed, "}") {
		body := strings.TrimSpace(trimmed[2 : len(trimmed)-1])
		if body == "" {
			return nil, fmt.Errorf("%w: %q: empty expression", ErrCompile, src)
		}
		program, err := expr.Compile(body, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrCompile, src, err)
		}
		return &Value{source: src, program: program}, nil
	}

	v := &Value{source: src}
	rest := src
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if rest != "" {
				v.segments = append(v.segments, segment{literal: rest})
			}
			return v, nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("%w: %q: unterminated placeholder", ErrCompile, src)
		}
		if start > 0 {
			v.segments = append(v.segments, segment{literal: rest[:start]})
		}
		body := rest[start+2 : start+end]
		path, def, hasDefault := strings.Cut(body, ":")
		path = strings.TrimSpace(path)
		if path == "" {
			return nil, fmt.Errorf("%w: %q: empty placeholder", ErrCompile, src)
		}
		v.segments = append(v.segments, segment{path: path, def: def, hasDefault: hasDefault})
		rest = rest[start+end+1:]
	}
}

// Resolve renders the value. Placeholders go through lookup, expressions are
// evaluated with env as their variables.
func (v *Value) Resolve(env map[string]any, lookup Lookup) (string, error) {
	if v.program != nil {
		out, err := expr.Run(v.program, env)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrEvaluate, v.source, err)
		}
		if out == nil {
			return "", nil
		}
		return fmt.Sprint(out), nil
	}

	var b strings.Builder
	for _, seg := range v.segments {
		if seg.path == "" {
			b.WriteString(seg.literal)
			continue
		}
		if val, ok := lookup(seg.path); ok && val != nil {
			b.WriteString(fmt.Sprint(val))
			continue
		}
		if !seg.hasDefault {
			return "", fmt.Errorf("%w: %s", ErrUnresolved, seg.path)
		}
		b.WriteString(seg.def)
	}
	return b.String(), nil
}

// String returns the source text.
func (v *Value) String() string { return v.source }
