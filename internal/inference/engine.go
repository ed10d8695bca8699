// Package inference implements variational inference for a controlled hidden
// Markov model: belief propagation over hidden-state trajectories, the
// per-step action posterior, the free-energy functional and the
// coordinate-descent loop that alternates between them.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

const (
	DefaultEpsilon       = 0.01
	DefaultMaxIterations = 1000
)

var (
	ErrNotConverged = errors.New("inference did not converge")
	ErrNumerical    = errors.New("free energy is not finite")
)

type Options struct {
	// Solver minimises the per-step linear objective; nil selects LPSolver.
	Solver SimplexMinimizer
	// Plan, when non-nil, replaces action optimisation by a fixed sequence.
	Plan []int
	// Epsilon is the minimum free-energy decrease that keeps the loop going.
	Epsilon       float64
	MaxIterations int
	// ConstantTerm evaluates FreeEnergyWithConstant instead of FreeEnergy.
	ConstantTerm bool
	Logger       *zap.Logger
}

// Engine runs inference against one generative model. It holds no posterior
// state, so one engine may serve any number of sequential Infer calls.
type Engine struct {
	model         *Model
	solver        SimplexMinimizer
	plan          []int
	epsilon       float64
	maxIterations int
	constantTerm  bool
	logger        *zap.Logger
}

func NewEngine(m *Model, opts Options) *Engine {
	if opts.Solver == nil {
		opts.Solver = LPSolver{}
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var plan []int
	if opts.Plan != nil {
		plan = append([]int{}, opts.Plan...)
	}
	return &Engine{
		model:         m,
		solver:        opts.Solver,
		plan:          plan,
		epsilon:       opts.Epsilon,
		maxIterations: opts.MaxIterations,
		constantTerm:  opts.ConstantTerm,
		logger:        opts.Logger,
	}
}

func (e *Engine) Model() *Model { return e.model }

func (e *Engine) objective(st *State, ev Evidence) float64 {
	if e.constantTerm {
		return e.FreeEnergyWithConstant(st, ev)
	}
	return e.FreeEnergy(st, ev)
}

// Result reports the outcome of one Infer call.
type Result struct {
	State      *State
	FreeEnergy float64
	Iterations int
	Converged  bool
	// Trace holds the free energy after every iteration.
	Trace []float64
}

// Err returns ErrNotConverged for a result that hit the iteration cap.
func (r Result) Err() error {
	if r.Converged {
		return nil
	}
	return fmt.Errorf("%w within %d iterations (best free energy %.6f)", ErrNotConverged, r.Iterations, r.FreeEnergy)
}

// Infer alternates belief and action updates, warm-started from st, until the
// free energy stops decreasing by at least Epsilon. If the last iteration
// raised the free energy, the lowest-free-energy state seen is returned
// instead of the last one. When MaxIterations is reached first that state is
// returned with Converged=false.
func (e *Engine) Infer(ctx context.Context, st *State, ev Evidence) (Result, error) {
	if st.Horizon() != ev.Horizon {
		return Result{}, fmt.Errorf("%w: state horizon %d, evidence horizon %d", ErrHorizon, st.Horizon(), ev.Horizon)
	}

	prev := math.Inf(1)
	best, bestFE := st, math.Inf(1)
	current := st
	trace := make([]float64, 0, 8)

	for it := 1; it <= e.maxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		next := e.UpdateBeliefs(current, ev)
		next, err := e.UpdateActions(next, ev)
		if err != nil {
			return Result{}, err
		}

		fe := e.objective(next, ev)
		if math.IsNaN(fe) || math.IsInf(fe, 0) {
			return Result{}, fmt.Errorf("%w at iteration %d", ErrNumerical, it)
		}
		trace = append(trace, fe)
		e.logger.Debug("inference iteration", zap.Int("iteration", it), zap.Float64("free_energy", fe))

		current = next
		if fe < bestFE {
			best, bestFE = next, fe
		}
		if prev-fe < e.epsilon {
			// The updates do not guarantee descent; a final rise falls back to
			// the best state seen.
			if bestFE < fe {
				return Result{State: best, FreeEnergy: bestFE, Iterations: it, Converged: true, Trace: trace}, nil
			}
			return Result{State: current, FreeEnergy: fe, Iterations: it, Converged: true, Trace: trace}, nil
		}
		prev = fe
	}

	return Result{State: best, FreeEnergy: bestFE, Iterations: e.maxIterations, Trace: trace}, nil
}
