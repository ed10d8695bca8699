package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cfeagent/internal/model"
)

// ResultLogFile is the plain-text log that successive runs append to.
const ResultLogFile = "results.txt"

// WriteResultLog writes the human-readable summary of a run: configuration,
// running time and outcome frequencies.
func WriteResultLog(w io.Writer, record model.RunRecord) error {
	var sb strings.Builder
	if record.ID != "" {
		fmt.Fprintf(&sb, "========== EXPERIMENT %s ==========\n\n", record.ID)
	}
	sb.WriteString(configSection(record.Config))
	sb.WriteString(timeSection(record.Duration))
	sb.WriteString(performanceSection(record.Counts))
	_, err := io.WriteString(w, sb.String())
	return err
}

// AppendResultLog appends the summary of record to dir/results.txt.
func AppendResultLog(dir string, record model.RunRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, ResultLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := WriteResultLog(f, record); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func configSection(cfg model.ExperimentConfig) string {
	var sb strings.Builder
	sb.WriteString("========== EXPERIMENT CONFIGURATION ==========\n")
	fmt.Fprintf(&sb, "Number of action-perception cycles: %d\n", cfg.Cycles)
	fmt.Fprintf(&sb, "Number of simulations: %d\n", cfg.Episodes)
	fmt.Fprintf(&sb, "Maze file's name: %s\n", cfg.MazeFile)
	return sb.String()
}
