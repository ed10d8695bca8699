package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"cfeagent/internal/inference"
	"cfeagent/internal/model"
	"cfeagent/internal/scape"
	"cfeagent/internal/stats"
)

const (
	defaultEpisodes = 100
	defaultCycles   = 30
	defaultMazeDir  = "data/mazes"
)

func defaultExperimentConfig() model.ExperimentConfig {
	return model.ExperimentConfig{
		Episodes:  defaultEpisodes,
		Cycles:    defaultCycles,
		Tolerance: stats.DefaultTolerance,
		Noise:     scape.DefaultNoise,
		Solver:    "lp",
		Epsilon:   inference.DefaultEpsilon,
		MaxIter:   inference.DefaultMaxIterations,
		Seed:      1,
		Workers:   4,
	}
}

// loadExperimentConfig decodes a YAML experiment file over base. Keys absent
// from the file keep their base values; unknown keys are rejected.
func loadExperimentConfig(path string, base model.ExperimentConfig) (model.ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg, err := decodeExperimentConfig(data, base)
	if err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeExperimentConfig(data []byte, base model.ExperimentConfig) (model.ExperimentConfig, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return base, err
	}
	return cfg, nil
}

func encodeExperimentConfig(w io.Writer, cfg model.ExperimentConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
