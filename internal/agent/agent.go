package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"cfeagent/internal/inference"
	"cfeagent/internal/scape"
	"cfeagent/internal/tensor"
)

var ErrHorizonExhausted = errors.New("agent has acted over its whole time horizon")

type Options struct {
	ID      string
	Horizon int
	// Preference is the target distribution over observations; nil selects a
	// one-hot on observation 0.
	Preference    *tensor.Dense
	Solver        inference.SimplexMinimizer
	Plan          []int
	Epsilon       float64
	MaxIterations int
	ConstantTerm  bool
	// Source drives action sampling; nil seeds a PCG from 1.
	Source rand.Source
	Logger *zap.Logger
}

// CFEAgent plans by minimising free energy over its horizon and acts by
// sampling the current step of the action posterior. One agent lives for one
// episode.
type CFEAgent struct {
	id      string
	horizon int
	steps   int

	engine     *inference.Engine
	sampler    *inference.Sampler
	state      *inference.State
	history    *inference.History
	preference *tensor.Dense
	last       inference.Result

	logger *zap.Logger
}

// StepResult summarises one action-perception cycle.
type StepResult struct {
	Index       int
	Action      int
	Observation int
	FreeEnergy  float64
	Iterations  int
	Converged   bool
}

// New copies the generative model from env and seeds the observation history
// with the observation returned by env.Reset.
func New(env scape.Environment, observation int, opts Options) (*CFEAgent, error) {
	if opts.Horizon < 1 {
		return nil, fmt.Errorf("%w: got %d", inference.ErrHorizon, opts.Horizon)
	}
	if opts.Plan != nil && len(opts.Plan) != opts.Horizon {
		return nil, fmt.Errorf("%w: %d actions for horizon %d", inference.ErrInvalidPlan, len(opts.Plan), opts.Horizon)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Source == nil {
		opts.Source = rand.NewPCG(1, 1)
	}

	model, err := inference.NewModel(env.A(), env.B(), env.D())
	if err != nil {
		return nil, err
	}
	if model.Observations() != env.Observations() || model.States() != env.States() || model.Actions() != env.Actions() {
		return nil, fmt.Errorf("%w: environment sizes disagree with its matrices", inference.ErrInvalidModel)
	}

	preference := opts.Preference
	if preference == nil {
		if preference, err = tensor.OneHot(model.Observations(), 0); err != nil {
			return nil, err
		}
	}
	if preference.Rank() != 1 || preference.Len() != model.Observations() {
		return nil, fmt.Errorf("preference has shape %v, want [%d]", preference.Shape(), model.Observations())
	}

	state, err := inference.NewState(model, opts.Horizon)
	if err != nil {
		return nil, err
	}
	history := inference.NewHistory(model.Observations())
	if err := history.Append(observation); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if opts.ID != "" {
		logger = logger.With(zap.String("agent", opts.ID))
	}
	return &CFEAgent{
		id:      opts.ID,
		horizon: opts.Horizon,
		engine: inference.NewEngine(model, inference.Options{
			Solver:        opts.Solver,
			Plan:          opts.Plan,
			Epsilon:       opts.Epsilon,
			MaxIterations: opts.MaxIterations,
			ConstantTerm:  opts.ConstantTerm,
			Logger:        logger,
		}),
		sampler:    inference.NewSampler(opts.Source),
		state:      state,
		history:    history,
		preference: preference.Clone(),
		logger:     logger,
	}, nil
}

func (a *CFEAgent) ID() string                   { return a.id }
func (a *CFEAgent) Horizon() int                 { return a.horizon }
func (a *CFEAgent) Steps() int                   { return a.steps }
func (a *CFEAgent) Posterior() *inference.State  { return a.state }
func (a *CFEAgent) History() *inference.History  { return a.history }
func (a *CFEAgent) LastResult() inference.Result { return a.last }

func (a *CFEAgent) evidence() inference.Evidence {
	return inference.Evidence{History: a.history, Horizon: a.horizon, Preference: a.preference}
}

// Infer runs the inference loop from the current posterior and keeps the
// result as the new warm start.
func (a *CFEAgent) Infer(ctx context.Context) (inference.Result, error) {
	res, err := a.engine.Infer(ctx, a.state, a.evidence())
	if err != nil {
		return inference.Result{}, err
	}
	a.state = res.State
	a.last = res
	if !res.Converged {
		a.logger.Warn("inference stopped at the iteration cap", zap.Int("step", a.steps), zap.Error(res.Err()))
	}
	a.logger.Debug("inference finished",
		zap.Int("step", a.steps),
		zap.Float64("free_energy", res.FreeEnergy),
		zap.Int("iterations", res.Iterations),
		zap.Bool("converged", res.Converged))
	return res, nil
}

// Step runs one action-perception cycle: infer, sample the action for the
// current planning index, execute it and record the observation.
func (a *CFEAgent) Step(ctx context.Context, env scape.Environment) (StepResult, error) {
	if a.steps >= a.horizon {
		return StepResult{}, fmt.Errorf("%w (%d steps)", ErrHorizonExhausted, a.horizon)
	}
	res, err := a.Infer(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", a.steps, err)
	}

	index := a.steps
	action, err := a.sampler.Sample(a.state, index)
	if err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", index, err)
	}
	obs, err := env.Execute(action)
	if err != nil {
		return StepResult{}, fmt.Errorf("step %d: execute action %d: %w", index, action, err)
	}
	if a.history.Len() < a.horizon {
		if err := a.history.Append(obs); err != nil {
			return StepResult{}, fmt.Errorf("step %d: %w", index, err)
		}
	}
	a.steps++

	return StepResult{
		Index:       index,
		Action:      action,
		Observation: obs,
		FreeEnergy:  res.FreeEnergy,
		Iterations:  res.Iterations,
		Converged:   res.Converged,
	}, nil
}
