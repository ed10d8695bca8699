package cfeagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cfeagent/internal/model"
	"cfeagent/internal/platform"
	"cfeagent/internal/stats"
	"cfeagent/internal/storage"
)

const (
	defaultArtifactsDir = "results"
	defaultExportsDir   = "exports"
	defaultDBPath       = "cfeagent.db"
)

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// DisableArtifacts keeps runs in the store only.
	DisableArtifacts bool
	Logger           *zap.Logger
}

type Client struct {
	store  storage.Store
	runner *platform.Runner
	logger *zap.Logger

	artifactsDir string
	exportsDir   string
	noArtifacts  bool
}

type (
	ExperimentConfig = model.ExperimentConfig
	Cell             = model.Cell
	RunRecord        = model.RunRecord
	EpisodeRecord    = model.EpisodeRecord
)

type RunRequest struct {
	RunID  string
	Config ExperimentConfig
	// Render receives the maze after every step.
	Render   io.Writer
	Progress func(EpisodeRecord)
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Record       RunRecord
	PGlobal      float64
	PLocal       []float64
	POther       float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID     string
	Name      string
	CreatedAt string
	MazeFile  string
	Episodes  int
	Cycles    int
	Solver    string
	Seed      uint64
	PGlobal   float64
	Duration  string
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	runnerDir := artifactsDir
	if opts.DisableArtifacts {
		runnerDir = ""
	}
	return &Client{
		store:        store,
		runner:       platform.NewRunner(platform.Config{Store: store, ArtifactsDir: runnerDir, Logger: logger}),
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		noArtifacts:  opts.DisableArtifacts,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.runner.Init(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	record, err := c.runner.Run(ctx, platform.Experiment{
		RunID:    req.RunID,
		Config:   req.Config,
		Render:   req.Render,
		Progress: req.Progress,
	})
	if err != nil {
		return RunSummary{}, err
	}
	global, local, other := stats.Probabilities(record.Counts)
	summary := RunSummary{
		RunID:   record.ID,
		Record:  record,
		PGlobal: global,
		PLocal:  local,
		POther:  other,
	}
	if !c.artifactsDisabled() {
		summary.ArtifactsDir = filepath.Join(c.artifactsDir, record.ID)
	}
	return summary, nil
}

// Runs lists stored runs, newest first. When the store holds none, as with
// a fresh memory store, the artifacts run index is listed instead.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	var entries []stats.RunIndexEntry
	if len(runs) > 0 {
		for _, run := range runs {
			entries = append(entries, stats.IndexEntry(run))
		}
	} else if !c.artifactsDisabled() {
		if entries, err = stats.ListRunIndex(c.artifactsDir); err != nil {
			return nil, err
		}
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, entry := range entries {
		out = append(out, RunItem{
			RunID:     entry.RunID,
			Name:      entry.Name,
			CreatedAt: entry.CreatedAtUTC,
			MazeFile:  entry.MazeFile,
			Episodes:  entry.Episodes,
			Cycles:    entry.Cycles,
			Solver:    entry.Solver,
			Seed:      entry.Seed,
			PGlobal:   entry.PGlobal,
			Duration:  (time.Duration(entry.DurationMS) * time.Millisecond).String(),
		})
	}
	return out, nil
}

// Show loads one run by id, or the most recent run.
func (c *Client) Show(ctx context.Context, req ShowRequest) (RunRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunRecord{}, err
	}
	if ok {
		return run, nil
	}
	if !c.artifactsDisabled() {
		run, ok, err = stats.ReadRunRecord(c.artifactsDir, runID)
		if err != nil {
			return RunRecord{}, err
		}
		if ok {
			return storage.Versioned(run), nil
		}
	}
	return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// FreeEnergy returns the per-step free energy of every episode of a run,
// keyed by episode index, as written to the run's artifacts.
func (c *Client) FreeEnergy(ctx context.Context, req ShowRequest) (map[int][]float64, error) {
	if c.artifactsDisabled() {
		return nil, errors.New("artifacts are disabled for this client")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	series, ok, err := stats.ReadFreeEnergySeries(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return series, nil
}

// Report writes the result log of a stored run.
func (c *Client) Report(ctx context.Context, req ShowRequest, w io.Writer) error {
	run, err := c.Show(ctx, req)
	if err != nil {
		return err
	}
	return stats.WriteResultLog(w, run)
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if c.artifactsDisabled() {
		return ExportSummary{}, errors.New("artifacts are disabled for this client")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) > 0 {
		return runs[0].ID, nil
	}
	if !c.artifactsDisabled() {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return "", err
		}
		if len(entries) > 0 {
			return entries[0].RunID, nil
		}
	}
	return "", fmt.Errorf("%w: no runs available", ErrRunNotFound)
}

func (c *Client) artifactsDisabled() bool { return c.noArtifacts }
