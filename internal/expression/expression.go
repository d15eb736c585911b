// Package expression compiles and evaluates the per-message expressions that
// shape requests and replies. The processor depends only on the Expression
// interface; Compile backs it with expr-lang/expr and Func adapts closures.
package expression

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/types"
	"github.com/expr-lang/expr/vm"
)

// Expression resolves a value against an evaluation environment.
type Expression interface {
	Eval(env map[string]any) (any, error)
	String() string
}

// CompileError reports an expression that failed to parse or type-check.
type CompileError struct {
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile expression %q: %v", e.Source, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// EvalError reports a runtime evaluation failure.
type EvalError struct {
	Source string
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate expression %q: %v", e.Source, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Program is a compiled expr-lang program. It is safe for concurrent use.
type Program struct {
	source  string
	program *vm.Program
}

// Compile parses source once so it can be run for every message.
func Compile(source string) (*Program, error) {
	p, err := expr.Compile(source)
	if err != nil {
		return nil, &CompileError{Source: source, Err: err}
	}
	return &Program{source: source, program: p}, nil
}

// Schema declares the names an expression may reference. A nil value
// declares an untyped name; a nested Schema declares a map with a fixed
// set of keys.
type Schema map[string]Schema

func (s Schema) declare() types.Map {
	m := make(types.Map, len(s))
	for name, nested := range s {
		if nested == nil {
			m[name] = types.Any
			continue
		}
		m[name] = nested.declare()
	}
	return m
}

// CompileFor is like Compile but type-checks source against env, so a
// reference to an undeclared name or key fails here instead of evaluating
// to nil for every message.
func CompileFor(source string, env Schema) (*Program, error) {
	p, err := expr.Compile(source, expr.Env(env.declare()))
	if err != nil {
		return nil, &CompileError{Source: source, Err: err}
	}
	return &Program{source: source, program: p}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults.
func MustCompile(source string) *Program {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval runs the program against env.
func (p *Program) Eval(env map[string]any) (any, error) {
	out, err := expr.Run(p.program, env)
	if err != nil {
		return nil, &EvalError{Source: p.source, Err: err}
	}
	return out, nil
}

func (p *Program) String() string { return p.source }

// Func adapts a plain function to Expression.
type Func func(env map[string]any) (any, error)

// Eval calls f.
func (f Func) Eval(env map[string]any) (any, error) { return f(env) }

func (f Func) String() string { return "<func>" }
