package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/phishguard/internal/model"
)

// Step annotates a finished analysis. A failing step never discards the
// analysis; its error is only reported.
type Step interface {
	Do(ctx context.Context, a *model.FullAnalysis) error
	Name() string
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	Label string
	Fn    func(ctx context.Context, a *model.FullAnalysis) error
}

func (s StepFunc) Do(ctx context.Context, a *model.FullAnalysis) error { return s.Fn(ctx, a) }

func (s StepFunc) Name() string { return s.Label }

// Pipeline is the post-analysis processor handed to the engine. Steps run
// sequentially in insertion order.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps running later steps after a failure. The
// failures are joined into the error Run returns.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New returns an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Run applies every step to a. Cancellation is checked before each step.
// Step errors are wrapped with the step name.
func (p *Pipeline) Run(ctx context.Context, a *model.FullAnalysis) error {
	var errs []error
	for _, step := range p.steps {
		log := p.logger.With("step", step.Name(), "id", a.ID, "url", a.URL)
		if err := ctx.Err(); err != nil {
			log.Warn("post-analysis cancelled", "reason", err)
			return errors.Join(append(errs, err)...)
		}

		err := step.Do(ctx, a)
		if err == nil {
			log.Debug("post-analysis step done")
			continue
		}
		log.Error("post-analysis step failed", "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", step.Name(), err))
		if !p.continueOnError {
			break
		}
	}
	return errors.Join(errs...)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	return names
}
