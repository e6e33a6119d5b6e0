package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jonwraymond/flowguard/observe"
)

// State is the explicit context threaded through a pipeline. Steps read
// from it and return the keys they want to set.
type State map[string]any

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// String returns the value at key if it is a string.
func (s State) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Step is one unit of work in a pipeline.
//
// Contract:
//   - Invoke must not mutate its input; it returns a partial update that
//     the pipeline merges into the state. A nil update is allowed.
//   - Invoke must honor ctx cancellation.
type Step interface {
	Name() string
	Invoke(ctx context.Context, in State) (State, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	name string
	fn   func(context.Context, State) (State, error)
}

// Func creates a named StepFunc.
func Func(name string, fn func(context.Context, State) (State, error)) *StepFunc {
	return &StepFunc{name: name, fn: fn}
}

func (f *StepFunc) Name() string { return f.name }

func (f *StepFunc) Invoke(ctx context.Context, in State) (State, error) { return f.fn(ctx, in) }

// ErrNilStep is returned by Add for a nil step.
var ErrNilStep = errors.New("pipeline: nil step")

// StepError reports the step that halted a run.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Pipeline runs steps in order over a shared State.
type Pipeline struct {
	name   string
	steps  []Step
	logger observe.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for step progress and failures.
func WithLogger(l observe.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates an empty pipeline.
func New(name string, opts ...Option) *Pipeline {
	p := &Pipeline{name: name, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add appends steps. It returns p so calls can be chained.
func (p *Pipeline) Add(steps ...Step) (*Pipeline, error) {
	for _, s := range steps {
		if s == nil {
			return p, ErrNilStep
		}
	}
	p.steps = append(p.steps, steps...)
	return p, nil
}

// MustAdd is like Add but panics on a nil step.
func (p *Pipeline) MustAdd(steps ...Step) *Pipeline {
	if _, err := p.Add(steps...); err != nil {
		panic(err)
	}
	return p
}

// Steps returns the step names in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes every step against a copy of initial. The first failing
// step halts the run; the state accumulated so far is returned with a
// *StepError.
func (p *Pipeline) Run(ctx context.Context, initial State) (State, error) {
	state := initial.Clone()
	logger := p.logger.With(observe.Field{Key: "pipeline", Value: p.name})

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return state, &StepError{Step: step.Name(), Index: i, Err: err}
		}

		start := time.Now()
		update, err := step.Invoke(ctx, state.Clone())
		fields := []observe.Field{
			{Key: "step", Value: step.Name()},
			{Key: "duration_ms", Value: float64(time.Since(start).Microseconds()) / 1000},
		}
		if err != nil {
			logger.Error(ctx, "step failed", append(fields, observe.Field{Key: "error", Value: err})...)
			return state, &StepError{Step: step.Name(), Index: i, Err: err}
		}

		maps.Copy(state, update)
		logger.Debug(ctx, "step completed", append(fields, observe.Field{Key: "keys", Value: len(update)})...)
	}
	return state, nil
}
