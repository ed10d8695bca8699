package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"cfeagent/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	summaryFile    = "summary.json"
	episodesFile   = "episodes.json"
	freeEnergyFile = "free_energy.csv"
)

type RunSummary struct {
	RunID      string              `json:"run_id"`
	Duration   string              `json:"duration"`
	Counts     model.OutcomeCounts `json:"counts"`
	PGlobal    float64             `json:"p_global"`
	PLocal     []float64           `json:"p_local"`
	POther     float64             `json:"p_other"`
	MeanEnergy float64             `json:"mean_final_free_energy"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Name         string  `json:"name,omitempty"`
	MazeFile     string  `json:"maze_file"`
	Episodes     int     `json:"episodes"`
	Cycles       int     `json:"cycles"`
	Solver       string  `json:"solver"`
	Seed         uint64  `json:"seed"`
	Workers      int     `json:"workers"`
	PGlobal      float64 `json:"p_global"`
	DurationMS   int64   `json:"duration_ms"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// IndexEntry derives the run index line for record.
func IndexEntry(record model.RunRecord) RunIndexEntry {
	global, _, _ := Probabilities(record.Counts)
	return RunIndexEntry{
		RunID:        record.ID,
		Name:         record.Config.Name,
		MazeFile:     record.Config.MazeFile,
		Episodes:     record.Config.Episodes,
		Cycles:       record.Config.Cycles,
		Solver:       record.Config.Solver,
		Seed:         record.Config.Seed,
		Workers:      record.Config.Workers,
		PGlobal:      global,
		DurationMS:   record.Duration.Milliseconds(),
		CreatedAtUTC: record.CreatedAt.UTC().Format(indexTimeLayout),
	}
}

// indexTimeLayout keeps every fractional digit so entries sort as text too.
const indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (e RunIndexEntry) createdAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Summarize computes the summary written next to a run's episodes.
func Summarize(record model.RunRecord) RunSummary {
	global, local, other := Probabilities(record.Counts)
	summary := RunSummary{
		RunID:    record.ID,
		Duration: record.Duration.String(),
		Counts:   record.Counts,
		PGlobal:  global,
		PLocal:   local,
		POther:   other,
	}
	n := 0
	for _, ep := range record.Episodes {
		if len(ep.FreeEnergy) == 0 {
			continue
		}
		summary.MeanEnergy += ep.FreeEnergy[len(ep.FreeEnergy)-1]
		n++
	}
	if n > 0 {
		summary.MeanEnergy /= float64(n)
	}
	return summary
}

// WriteRunArtifacts writes the configuration, summary, episodes, free energy
// series and result log of record under baseDir/<run id>.
func WriteRunArtifacts(baseDir string, record model.RunRecord) (string, error) {
	if record.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, record.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), record.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), Summarize(record)); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, episodesFile), record.Episodes); err != nil {
		return "", err
	}
	if err := writeFreeEnergySeries(filepath.Join(runDir, freeEnergyFile), record.Episodes); err != nil {
		return "", err
	}
	f, err := os.Create(filepath.Join(runDir, ResultLogFile))
	if err != nil {
		return "", err
	}
	if err := WriteResultLog(f, record); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return runDir, nil
}

func writeFreeEnergySeries(path string, episodes []model.EpisodeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"episode", "step", "action", "observation", "free_energy"}); err != nil {
		return err
	}
	for _, ep := range episodes {
		for step, fe := range ep.FreeEnergy {
			row := []string{
				strconv.Itoa(ep.Index),
				strconv.Itoa(step),
				strconv.Itoa(valueAt(ep.Actions, step)),
				strconv.Itoa(valueAt(ep.Observations, step)),
				strconv.FormatFloat(fe, 'g', -1, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func valueAt(values []int, i int) int {
	if i < len(values) {
		return values[i]
	}
	return -1
}

// ReadFreeEnergySeries returns the per-step free energies of each episode in
// the run, keyed by episode index.
func ReadFreeEnergySeries(baseDir, runID string) (map[int][]float64, bool, error) {
	f, err := os.Open(filepath.Join(baseDir, runID, freeEnergyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, false, err
	}
	series := make(map[int][]float64)
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) != 5 {
			return nil, false, fmt.Errorf("free energy row %d has %d fields", i, len(row))
		}
		episode, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, false, fmt.Errorf("free energy row %d: %w", i, err)
		}
		value, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, false, fmt.Errorf("free energy row %d: %w", i, err)
		}
		series[episode] = append(series[episode], value)
	}
	return series, true, nil
}

func ReadRunConfig(baseDir, runID string) (model.ExperimentConfig, bool, error) {
	var cfg model.ExperimentConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

// ReadRunEpisodes loads the episode records written for a run.
func ReadRunEpisodes(baseDir, runID string) ([]model.EpisodeRecord, bool, error) {
	var episodes []model.EpisodeRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, episodesFile), &episodes)
	return episodes, ok, err
}

// ReadRunRecord rebuilds a run record from its artifacts and index entry. It
// reports false when the run has no artifacts under baseDir.
func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	if runID == "" {
		return model.RunRecord{}, false, nil
	}
	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	summary, ok, err := ReadRunSummary(baseDir, runID)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	if !ok {
		return model.RunRecord{}, false, fmt.Errorf("run %s: missing %s", runID, summaryFile)
	}
	episodes, _, err := ReadRunEpisodes(baseDir, runID)
	if err != nil {
		return model.RunRecord{}, false, err
	}

	record := model.RunRecord{
		ID:       runID,
		Config:   cfg,
		Counts:   summary.Counts,
		Episodes: episodes,
	}
	if summary.Duration != "" {
		if record.Duration, err = time.ParseDuration(summary.Duration); err != nil {
			return model.RunRecord{}, false, fmt.Errorf("run %s: %w", runID, err)
		}
	}
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	for _, entry := range index {
		if entry.RunID == runID {
			record.CreatedAt = entry.createdAt()
			break
		}
	}
	return record, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		ti, tj := indexed[i].entry.createdAt(), indexed[j].entry.createdAt()
		if ti.Equal(tj) {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return ti.After(tj)
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, episodesFile, freeEnergyFile, ResultLogFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
