package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cfeagent/internal/model"
	"cfeagent/internal/scape"
	"cfeagent/internal/storage"
	"cfeagent/pkg/cfeagent"
)

// app holds the global flags and the logger built from them.
type app struct {
	verbose      bool
	storeKind    string
	dbPath       string
	artifactsDir string
	timeout      time.Duration

	logger *zap.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "cfectl",
		Short: "Run constrained free energy agents on maze experiments",
		Long: `cfectl runs batches of active-inference agents on grid mazes.

Each episode builds a fresh agent whose generative model is derived from the
maze; the agent plans by minimising constrained free energy and acts by
sampling its action posterior. Results are stored and summarised per run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if a.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.storeKind, "store", storage.DefaultStoreKind, "Store backend: memory|sqlite")
	root.PersistentFlags().StringVar(&a.dbPath, "db-path", "cfeagent.db", "SQLite database path")
	root.PersistentFlags().StringVar(&a.artifactsDir, "artifacts-dir", "results", "Directory for run artifacts and the result log")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Abort after this long (0 disables)")

	root.AddCommand(
		newRunCmd(a),
		newRunsCmd(a),
		newShowCmd(a),
		newExportCmd(a),
		newProfilesCmd(a),
	)
	return root
}

func (a *app) client(disableArtifacts bool) (*cfeagent.Client, error) {
	return cfeagent.New(cfeagent.Options{
		StoreKind:        a.storeKind,
		DBPath:           a.dbPath,
		ArtifactsDir:     a.artifactsDir,
		DisableArtifacts: disableArtifacts,
		Logger:           a.logger,
	})
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

type runFlags struct {
	configPath  string
	profile     string
	mazeDir     string
	runID       string
	render      bool
	noArtifacts bool
	printConfig bool
	cfg         model.ExperimentConfig
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{cfg: defaultExperimentConfig()}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment",
		Example: `  cfectl run --profile deadend --episodes 20 --cycles 15
  cfectl run --config experiment.yaml --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, f)
			if err != nil {
				return err
			}
			if f.printConfig {
				return encodeExperimentConfig(a.out, cfg)
			}
			return a.runExperiment(cmd, f, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML experiment file")
	fl.StringVar(&f.profile, "profile", "", "Bundled maze profile (see 'cfectl profiles')")
	fl.StringVar(&f.mazeDir, "maze-dir", defaultMazeDir, "Directory holding bundled maze files")
	fl.StringVar(&f.runID, "run-id", "", "Run id (default: random UUID)")
	fl.BoolVar(&f.render, "render", false, "Draw the maze after every step")
	fl.BoolVar(&f.noArtifacts, "no-artifacts", false, "Keep the run in the store only")
	fl.BoolVar(&f.printConfig, "print-config", false, "Print the resolved configuration as YAML and exit")

	fl.StringVar(&f.cfg.MazeFile, "maze", f.cfg.MazeFile, "Maze file")
	fl.IntVar(&f.cfg.Episodes, "episodes", f.cfg.Episodes, "Number of independent episodes")
	fl.IntVar(&f.cfg.Cycles, "cycles", f.cfg.Cycles, "Action-perception cycles per episode (time horizon)")
	fl.IntVar(&f.cfg.Tolerance, "tolerance", f.cfg.Tolerance, "Manhattan tolerance when classifying end positions")
	fl.Float64Var(&f.cfg.Noise, "noise", f.cfg.Noise, "Model noise in [0,1)")
	fl.IntVar(&f.cfg.Preferred, "preferred", f.cfg.Preferred, "Preferred observation (exit distance)")
	fl.StringVar(&f.cfg.Solver, "solver", f.cfg.Solver, "Action solver: lp|vertex|softmax")
	fl.Float64Var(&f.cfg.Temperature, "temperature", f.cfg.Temperature, "Softmax solver temperature")
	fl.Float64Var(&f.cfg.Epsilon, "epsilon", f.cfg.Epsilon, "Free energy convergence threshold")
	fl.IntVar(&f.cfg.MaxIter, "max-iterations", f.cfg.MaxIter, "Inference iteration cap per step")
	fl.Uint64Var(&f.cfg.Seed, "seed", f.cfg.Seed, "Base seed; episode i uses seed+i")
	fl.IntVar(&f.cfg.Workers, "workers", f.cfg.Workers, "Episodes run concurrently")
	fl.BoolVar(&f.cfg.StopAtExit, "stop-at-exit", f.cfg.StopAtExit, "End an episode once the exit is reached")
	fl.BoolVar(&f.cfg.ConstantTerm, "constant-term", f.cfg.ConstantTerm, "Report free energy including the preference constant")
	return cmd
}

// experimentFlags override the resolved config only when set explicitly.
var experimentFlags = []string{
	"maze", "episodes", "cycles", "tolerance", "noise", "preferred", "solver",
	"temperature", "epsilon", "max-iterations", "seed", "workers", "stop-at-exit",
	"constant-term",
}

// resolveRunConfig layers defaults, profile, config file and explicit flags,
// in that order of increasing precedence.
func resolveRunConfig(cmd *cobra.Command, f *runFlags) (model.ExperimentConfig, error) {
	cfg := defaultExperimentConfig()
	var err error
	if f.profile != "" {
		if cfg, err = applyProfile(cfg, f.profile, f.mazeDir); err != nil {
			return cfg, err
		}
	}
	if f.configPath != "" {
		if cfg, err = loadExperimentConfig(f.configPath, cfg); err != nil {
			return cfg, err
		}
	}
	for _, name := range experimentFlags {
		if !cmd.Flags().Changed(name) {
			continue
		}
		switch name {
		case "maze":
			cfg.MazeFile = f.cfg.MazeFile
		case "episodes":
			cfg.Episodes = f.cfg.Episodes
		case "cycles":
			cfg.Cycles = f.cfg.Cycles
		case "tolerance":
			cfg.Tolerance = f.cfg.Tolerance
		case "noise":
			cfg.Noise = f.cfg.Noise
		case "preferred":
			cfg.Preferred = f.cfg.Preferred
		case "solver":
			cfg.Solver = f.cfg.Solver
		case "temperature":
			cfg.Temperature = f.cfg.Temperature
		case "epsilon":
			cfg.Epsilon = f.cfg.Epsilon
		case "max-iterations":
			cfg.MaxIter = f.cfg.MaxIter
		case "seed":
			cfg.Seed = f.cfg.Seed
		case "workers":
			cfg.Workers = f.cfg.Workers
		case "stop-at-exit":
			cfg.StopAtExit = f.cfg.StopAtExit
		case "constant-term":
			cfg.ConstantTerm = f.cfg.ConstantTerm
		}
	}
	if cfg.MazeFile == "" {
		return cfg, fmt.Errorf("a maze is required: use --profile, --maze or a config file")
	}
	return cfg, nil
}

func (a *app) runExperiment(cmd *cobra.Command, f *runFlags, cfg model.ExperimentConfig) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	client, err := a.client(f.noArtifacts)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := cfeagent.RunRequest{RunID: f.runID, Config: cfg}
	if f.render {
		req.Render = a.out
	}
	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	record := summary.Record
	fmt.Fprintf(a.out, "run %s\n", summary.RunID)
	fmt.Fprintf(a.out, "maze=%s episodes=%s cycles=%d solver=%s duration=%s\n",
		cfg.MazeFile, humanize.Comma(int64(cfg.Episodes)), cfg.Cycles, record.Config.Solver, record.Duration.Round(time.Millisecond))
	fmt.Fprintf(a.out, "P(global)=%s", formatProbability(summary.PGlobal))
	for i, p := range summary.PLocal {
		fmt.Fprintf(a.out, " P(local %d)=%s", i+1, formatProbability(p))
	}
	fmt.Fprintf(a.out, " P(other)=%s\n", formatProbability(summary.POther))
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(a.out, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			client, err := a.client(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			items, err := client.Runs(ctx, cfeagent.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(a.out, "no runs")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCREATED\tMAZE\tEPISODES\tCYCLES\tSOLVER\tP(GLOBAL)\tDURATION")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					item.RunID, formatCreated(item.CreatedAt), item.MazeFile, humanize.Comma(int64(item.Episodes)),
					item.Cycles, item.Solver, formatProbability(item.PGlobal), item.Duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		latest     bool
		episodes   bool
		freeEnergy bool
	)
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the result log of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			client, err := a.client(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			req := cfeagent.ShowRequest{Latest: latest}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			if err := client.Report(ctx, req, a.out); err != nil {
				return err
			}
			if freeEnergy {
				if err := printFreeEnergy(ctx, client, req, a.out); err != nil {
					return err
				}
			}
			if !episodes {
				return nil
			}
			run, err := client.Show(ctx, req)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EPISODE\tOUTCOME\tFINAL\tCYCLES\tITERATIONS\tACTIONS")
			for _, ep := range run.Episodes {
				outcome := string(ep.Outcome)
				if ep.Outcome == model.OutcomeLocal {
					outcome = fmt.Sprintf("local %d", ep.LocalMinimum)
				}
				fmt.Fprintf(w, "%d\t%s\t(%d,%d)\t%d\t%s\t%s\n",
					ep.Index, outcome, ep.Final.Row, ep.Final.Col, ep.Cycles, humanize.Comma(int64(ep.Iterations)), formatActions(ep.Actions))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Show the most recent run")
	cmd.Flags().BoolVar(&episodes, "episodes", false, "Also list every episode")
	cmd.Flags().BoolVar(&freeEnergy, "free-energy", false, "Also print the per-step free energy of every episode")
	return cmd
}

func printFreeEnergy(ctx context.Context, client *cfeagent.Client, req cfeagent.ShowRequest, out io.Writer) error {
	series, err := client.FreeEnergy(ctx, req)
	if err != nil {
		return err
	}
	indices := make([]int, 0, len(series))
	for index := range series {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EPISODE\tFREE ENERGY")
	for _, index := range indices {
		values := make([]string, len(series[index]))
		for i, v := range series[index] {
			values[i] = strconv.FormatFloat(v, 'f', 4, 64)
		}
		fmt.Fprintf(w, "%d\t%s\n", index, strings.Join(values, " "))
	}
	return w.Flush()
}

func newExportCmd(a *app) *cobra.Command {
	var (
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Copy a run's artifacts to another directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			client, err := a.client(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			req := cfeagent.ExportRequest{Latest: latest, OutDir: outDir}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			summary, err := client.Export(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exported run %s to %s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "exports", "Destination directory")
	return cmd
}

func newProfilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List bundled maze profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tMAZE\tLOCAL MINIMA\tDESCRIPTION")
			for _, name := range profileNames() {
				p := mazeProfiles[name]
				cells := make([]string, len(p.LocalMinima))
				for i, c := range p.LocalMinima {
					cells[i] = fmt.Sprintf("(%d,%d)", c.Row, c.Col)
				}
				minima := strings.Join(cells, " ")
				if minima == "" {
					minima = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.MazeFile, minima, p.Description)
			}
			return w.Flush()
		},
	}
}

func formatProbability(p float64) string {
	return humanize.FtoaWithDigits(p, 3)
}

func formatCreated(value string) string {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return humanize.Time(t)
}

func formatActions(actions []int) string {
	names := make([]string, len(actions))
	for i, act := range actions {
		names[i] = scape.Action(act).String()
	}
	return strings.Join(names, " ")
}
