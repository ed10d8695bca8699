package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cfeagent/internal/agent"
	"cfeagent/internal/inference"
	"cfeagent/internal/model"
	"cfeagent/internal/scape"
	"cfeagent/internal/stats"
	"cfeagent/internal/storage"
	"cfeagent/internal/tensor"
)

var ErrInvalidExperiment = errors.New("invalid experiment")

type Config struct {
	Store storage.Store
	// ArtifactsDir receives per-run artifacts, the run index and the appended
	// result log. Empty disables file output.
	ArtifactsDir string
	Logger       *zap.Logger
}

// Experiment is one batch of episodes. Maze overrides Config.MazeFile when
// set.
type Experiment struct {
	RunID  string
	Config model.ExperimentConfig
	Maze   *scape.Maze
	// Render, when set, receives the maze after reset and after every step.
	Render io.Writer
	// Progress is called once per finished episode, possibly concurrently.
	Progress func(model.EpisodeRecord)
}

// Runner executes experiments and persists their records.
type Runner struct {
	store        storage.Store
	artifactsDir string
	logger       *zap.Logger
	now          func() time.Time

	mu      sync.RWMutex
	started bool

	renderMu sync.Mutex
}

func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:        cfg.Store,
		artifactsDir: cfg.ArtifactsDir,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Runner) Init(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("store is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.store.Init(ctx); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *Runner) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

func (r *Runner) Store() storage.Store { return r.store }

// Normalize validates cfg and fills unset optional fields: Workers, Solver,
// Epsilon and MaxIter when zero, and Tolerance when negative. A zero
// Tolerance is kept and means an exact position match.
func Normalize(cfg model.ExperimentConfig) (model.ExperimentConfig, error) {
	if cfg.Episodes < 1 {
		return cfg, fmt.Errorf("%w: episodes must be positive, got %d", ErrInvalidExperiment, cfg.Episodes)
	}
	if cfg.Cycles < 1 {
		return cfg, fmt.Errorf("%w: cycles must be positive, got %d", ErrInvalidExperiment, cfg.Cycles)
	}
	if cfg.Noise < 0 || cfg.Noise >= 1 {
		return cfg, fmt.Errorf("%w: noise must be in [0,1), got %g", ErrInvalidExperiment, cfg.Noise)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = stats.DefaultTolerance
	}
	if cfg.Solver == "" {
		cfg.Solver = "lp"
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = inference.DefaultEpsilon
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = inference.DefaultMaxIterations
	}
	if _, err := inference.NewSolver(cfg.Solver, cfg.Temperature); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidExperiment, err)
	}
	return cfg, nil
}

// Run executes every episode of exp with up to Config.Workers episodes in
// flight. Each episode gets its own environment, agent and solver seeded
// with Seed + episode index, so results do not depend on scheduling.
func (r *Runner) Run(ctx context.Context, exp Experiment) (model.RunRecord, error) {
	if !r.Started() {
		return model.RunRecord{}, fmt.Errorf("runner is not initialized")
	}
	cfg, err := Normalize(exp.Config)
	if err != nil {
		return model.RunRecord{}, err
	}
	maze := exp.Maze
	if maze == nil {
		if cfg.MazeFile == "" {
			return model.RunRecord{}, fmt.Errorf("%w: maze file is required", ErrInvalidExperiment)
		}
		if maze, err = scape.LoadMaze(cfg.MazeFile); err != nil {
			return model.RunRecord{}, err
		}
	}
	// Fail before spawning workers when the maze cannot yield a model.
	if _, err := scape.NewMazeEnv(maze, scape.WithNoise(cfg.Noise)); err != nil {
		return model.RunRecord{}, err
	}
	if cfg.Preferred < 0 || cfg.Preferred >= maze.Rows+maze.Cols-5 {
		return model.RunRecord{}, fmt.Errorf("%w: preferred observation %d out of range", ErrInvalidExperiment, cfg.Preferred)
	}

	runID := exp.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := r.logger.With(zap.String("run", runID))
	logger.Info("experiment started",
		zap.String("maze", cfg.MazeFile),
		zap.Int("episodes", cfg.Episodes),
		zap.Int("cycles", cfg.Cycles),
		zap.String("solver", cfg.Solver),
		zap.Int("workers", cfg.Workers))

	timer := stats.NewTimeTracker()
	timer.Tic()
	createdAt := r.now()

	episodes := make([]model.EpisodeRecord, cfg.Episodes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Episodes; i++ {
		g.Go(func() error {
			ep, err := r.runEpisode(gctx, maze, cfg, i, exp.Render, logger)
			if err != nil {
				return fmt.Errorf("episode %d: %w", i, err)
			}
			episodes[i] = ep
			if exp.Progress != nil {
				exp.Progress(ep)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("experiment failed", zap.Error(err))
		return model.RunRecord{}, err
	}
	timer.Toc()

	tracker := stats.NewPerformanceTracker(cfg.LocalMinima, cfg.Tolerance)
	for _, ep := range episodes {
		tracker.Add(ep.Outcome, ep.LocalMinimum)
	}

	record := storage.Versioned(model.RunRecord{
		ID:        runID,
		CreatedAt: createdAt.UTC(),
		Duration:  timer.Elapsed(),
		Config:    cfg,
		Counts:    tracker.Counts(),
		Episodes:  episodes,
	})
	if err := r.persist(ctx, record); err != nil {
		return model.RunRecord{}, err
	}

	global, _, _ := stats.Probabilities(record.Counts)
	logger.Info("experiment finished",
		zap.Duration("duration", record.Duration),
		zap.Float64("p_global", global),
		zap.Int("global", record.Counts.Global),
		zap.Int("other", record.Counts.Other))
	return record, nil
}

func (r *Runner) persist(ctx context.Context, record model.RunRecord) error {
	if err := r.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run %s: %w", record.ID, err)
	}
	if r.artifactsDir == "" {
		return nil
	}
	if _, err := stats.WriteRunArtifacts(r.artifactsDir, record); err != nil {
		return fmt.Errorf("write artifacts for run %s: %w", record.ID, err)
	}
	if err := stats.AppendRunIndex(r.artifactsDir, stats.IndexEntry(record)); err != nil {
		return fmt.Errorf("index run %s: %w", record.ID, err)
	}
	return stats.AppendResultLog(r.artifactsDir, record)
}

func (r *Runner) runEpisode(ctx context.Context, maze *scape.Maze, cfg model.ExperimentConfig, index int, render io.Writer, logger *zap.Logger) (model.EpisodeRecord, error) {
	env, err := scape.NewMazeEnv(maze, scape.WithNoise(cfg.Noise))
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	return r.playEpisode(ctx, env, cfg, index, render, logger)
}

// playEpisode drives one agent through env for up to cfg.Cycles steps and
// classifies where it ended.
func (r *Runner) playEpisode(ctx context.Context, env scape.PositionedEnvironment, cfg model.ExperimentConfig, index int, render io.Writer, logger *zap.Logger) (model.EpisodeRecord, error) {
	seed := cfg.Seed + uint64(index)
	solver, err := inference.NewSolver(cfg.Solver, cfg.Temperature)
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	preference, err := preferenceFor(env.Observations(), cfg.Preferred)
	if err != nil {
		return model.EpisodeRecord{}, err
	}

	obs := env.Reset()
	a, err := agent.New(env, obs, agent.Options{
		ID:            fmt.Sprintf("episode-%d", index),
		Horizon:       cfg.Cycles,
		Preference:    preference,
		Solver:        solver,
		Epsilon:       cfg.Epsilon,
		MaxIterations: cfg.MaxIter,
		ConstantTerm:  cfg.ConstantTerm,
		Source:        rand.NewPCG(seed, seed),
		Logger:        logger,
	})
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	r.render(render, env, index, -1)

	ep := model.EpisodeRecord{
		Index:           index,
		Seed:            seed,
		Actions:         make([]int, 0, cfg.Cycles),
		Observations:    make([]int, 0, cfg.Cycles),
		FreeEnergy:      make([]float64, 0, cfg.Cycles),
		ReachedExitStep: -1,
	}
	for k := 0; k < cfg.Cycles; k++ {
		res, err := a.Step(ctx, env)
		if err != nil {
			return model.EpisodeRecord{}, err
		}
		ep.Cycles++
		ep.Actions = append(ep.Actions, res.Action)
		ep.Observations = append(ep.Observations, res.Observation)
		ep.FreeEnergy = append(ep.FreeEnergy, res.FreeEnergy)
		ep.Iterations += res.Iterations
		if !res.Converged {
			ep.NotConverged++
		}
		r.render(render, env, index, k)

		if env.AgentPosition() == env.ExitPosition() && ep.ReachedExitStep < 0 {
			ep.ReachedExitStep = k
			if cfg.StopAtExit {
				break
			}
		}
	}

	final := env.AgentPosition()
	ep.Final = toCell(final)
	tracker := stats.NewPerformanceTracker(cfg.LocalMinima, cfg.Tolerance)
	ep.Outcome, ep.LocalMinimum = tracker.Classify(ep.Final, toCell(env.ExitPosition()))
	logger.Debug("episode finished",
		zap.Int("episode", index),
		zap.Stringer("final", final),
		zap.String("outcome", string(ep.Outcome)),
		zap.Int("cycles", ep.Cycles),
		zap.Int("iterations", ep.Iterations))
	return ep, nil
}

func (r *Runner) render(w io.Writer, env scape.PositionedEnvironment, episode, step int) {
	if w == nil {
		return
	}
	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	if step < 0 {
		fmt.Fprintf(w, "episode %d: reset\n", episode)
	} else {
		fmt.Fprintf(w, "episode %d: step %d\n", episode, step)
	}
	if err := env.Render(w); err != nil {
		r.logger.Warn("render failed", zap.Error(err))
	}
}

// preferenceFor puts all preference mass on one observed exit distance.
func preferenceFor(observations, preferred int) (*tensor.Dense, error) {
	return tensor.OneHot(observations, preferred)
}

func toCell(p scape.Position) model.Cell {
	return model.Cell{Row: p.Row, Col: p.Col}
}
