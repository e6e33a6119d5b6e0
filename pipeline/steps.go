package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"

	"github.com/jonwraymond/flowguard/caller"
)

// restrictedFuncs are sprig helpers that reach outside the state.
var restrictedFuncs = []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"}

func funcMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	for _, name := range restrictedFuncs {
		delete(funcs, name)
	}
	return funcs
}

// TemplateStep renders a text/template over the state and stores the
// result under its output key. Missing keys are errors.
type TemplateStep struct {
	name   string
	output string
	tmpl   *template.Template
}

// NewTemplateStep parses source with the sprig function set.
func NewTemplateStep(name, output, source string) (*TemplateStep, error) {
	if strings.TrimSpace(output) == "" {
		return nil, errors.New("pipeline: template output key required")
	}
	tmpl, err := template.New(name).Funcs(funcMap()).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse template %s: %w", name, err)
	}
	return &TemplateStep{name: name, output: output, tmpl: tmpl}, nil
}

func (s *TemplateStep) Name() string { return s.name }

// Invoke renders the template.
func (s *TemplateStep) Invoke(_ context.Context, in State) (State, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, map[string]any(in)); err != nil {
		return nil, fmt.Errorf("pipeline: render %s: %w", s.name, err)
	}
	return State{s.output: b.String()}, nil
}

// CallStep invokes an upstream operation through a caller.Caller. Args
// builds the operation input from the state and the result is stored
// under Output.
type CallStep[A, R any] struct {
	StepName string
	Key      string
	Output   string
	Caller   *caller.Caller
	Args     func(State) (A, error)
	Fn       func(context.Context, A) (R, error)
	Options  []caller.CallOption
}

func (s *CallStep[A, R]) Name() string { return s.StepName }

// Invoke builds the args and performs the cached, rate limited call.
func (s *CallStep[A, R]) Invoke(ctx context.Context, in State) (State, error) {
	args, err := s.Args(in)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s args: %w", s.StepName, err)
	}
	out, err := caller.Call(ctx, s.Caller, s.Key, args, s.Fn, s.Options...)
	if err != nil {
		return nil, err
	}
	return State{s.Output: out}, nil
}

// FromKey returns an Args function reading a string from key.
func FromKey(key string) func(State) (string, error) {
	return func(s State) (string, error) {
		v, ok := s.String(key)
		if !ok {
			return "", fmt.Errorf("state key %q missing or not a string", key)
		}
		return v, nil
	}
}

var (
	_ Step = (*StepFunc)(nil)
	_ Step = (*TemplateStep)(nil)
	_ Step = (*CallStep[string, string])(nil)
)
