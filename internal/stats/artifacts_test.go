package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfeagent/internal/model"
)

func sampleRecord(id string, createdAt time.Time) model.RunRecord {
	return model.RunRecord{
		ID:        id,
		CreatedAt: createdAt,
		Duration:  2 * time.Second,
		Config: model.ExperimentConfig{
			MazeFile: "data/mazes/deadend.maze",
			Episodes: 2,
			Cycles:   3,
			Solver:   "lp",
			Seed:     7,
			Workers:  2,
		},
		Counts: model.OutcomeCounts{Global: 1, Local: []int{1}},
		Episodes: []model.EpisodeRecord{
			{Index: 0, Actions: []int{3, 3, 4}, Observations: []int{3, 2, 2}, FreeEnergy: []float64{4, 3, 2}, Outcome: model.OutcomeLocal, LocalMinimum: 1},
			{Index: 1, Actions: []int{0, 3, 3}, Observations: []int{5, 4, 3}, FreeEnergy: []float64{5, 4.5, 4}, Outcome: model.OutcomeGlobal},
		},
	}
}

func TestWriteResultLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResultLog(&buf, sampleRecord("", time.Time{})))
	want := strings.Join([]string{
		"========== EXPERIMENT CONFIGURATION ==========",
		"Number of action-perception cycles: 3",
		"Number of simulations: 2",
		"Maze file's name: data/mazes/deadend.maze",
		"========== TIME TRACKER ==========",
		"Running Time: 2s",
		"========== MAZE PERFORMANCE TRACKER ==========",
		"P(global): 0.5",
		"P(local 1): 0.5",
		"P(other): 0",
		"",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestAppendResultLogAppends(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AppendResultLog(dir, sampleRecord("a", time.Time{})))
	require.NoError(t, AppendResultLog(dir, sampleRecord("b", time.Time{})))

	data, err := os.ReadFile(filepath.Join(dir, ResultLogFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "EXPERIMENT CONFIGURATION"))
	assert.Contains(t, string(data), "========== EXPERIMENT a ==========")
	assert.Contains(t, string(data), "========== EXPERIMENT b ==========")
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")
	record := sampleRecord("run-123", time.Now())

	runDir, err := WriteRunArtifacts(baseDir, record)
	require.NoError(t, err)
	for _, file := range []string{configFile, summaryFile, episodesFile, freeEnergyFile, ResultLogFile} {
		_, err := os.Stat(filepath.Join(runDir, file))
		require.NoError(t, err, file)
	}

	cfg, ok, err := ReadRunConfig(baseDir, record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(record.Config, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	summary, ok, err := ReadRunSummary(baseDir, record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.5, summary.PGlobal, 1e-12)
	assert.InDelta(t, 3.0, summary.MeanEnergy, 1e-12)

	series, ok, err := ReadFreeEnergySeries(baseDir, record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[int][]float64{0: {4, 3, 2}, 1: {5, 4.5, 4}}, series)

	exported, err := ExportRunArtifacts(baseDir, record.ID, outDir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(exported, summaryFile))
	require.NoError(t, err)

	_, ok, err = ReadRunConfig(baseDir, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = WriteRunArtifacts(baseDir, model.RunRecord{})
	require.Error(t, err)
}

func TestRunIndexOrdersNewestFirst(t *testing.T) {
	baseDir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(sampleRecord("old", base))))
	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(sampleRecord("new", base.Add(time.Hour)))))
	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(sampleRecord("tie", base.Add(time.Hour)))))

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RunID
	}
	assert.Equal(t, []string{"tie", "new", "old"}, ids)
	assert.Equal(t, int64(2000), entries[0].DurationMS)

	// Re-appending replaces in place.
	updated := IndexEntry(sampleRecord("old", base))
	updated.Workers = 9
	require.NoError(t, AppendRunIndex(baseDir, updated))
	entries, err = ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 9, entries[2].Workers)

	require.Error(t, AppendRunIndex(baseDir, RunIndexEntry{}))
}

func TestRunIndexOrdersWithinOneSecond(t *testing.T) {
	baseDir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(sampleRecord("later", base.Add(500*time.Millisecond)))))
	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(sampleRecord("whole-second", base))))
	// Entries written with a variable-width fraction still sort by time.
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "legacy", CreatedAtUTC: base.Add(250 * time.Millisecond).Format(time.RFC3339Nano)}))

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RunID
	}
	assert.Equal(t, []string{"later", "legacy", "whole-second"}, ids)
	assert.Equal(t, "2026-03-01T12:00:05.000000000Z", entries[2].CreatedAtUTC)
}

func TestReadRunRecordRebuildsFromArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	record := sampleRecord("run-7", time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC))
	_, err := WriteRunArtifacts(baseDir, record)
	require.NoError(t, err)
	require.NoError(t, AppendRunIndex(baseDir, IndexEntry(record)))

	got, ok, err := ReadRunRecord(baseDir, record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(record, got); diff != "" {
		t.Fatalf("rebuilt record mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = ReadRunRecord(baseDir, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRunIndexEmpty(t *testing.T) {
	entries, err := ListRunIndex(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
