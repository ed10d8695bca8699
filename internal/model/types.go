package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Cell is a maze coordinate as stored in configs and records.
type Cell struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// ExperimentConfig describes a batch of independent episodes on one maze.
// Tolerance is the Manhattan radius used to classify end positions: zero
// requires an exact match and a negative value selects the default of one.
type ExperimentConfig struct {
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	MazeFile    string  `json:"maze_file" yaml:"maze_file"`
	Episodes    int     `json:"episodes" yaml:"episodes"`
	Cycles      int     `json:"cycles" yaml:"cycles"`
	LocalMinima []Cell  `json:"local_minima,omitempty" yaml:"local_minima,omitempty"`
	Tolerance   int     `json:"tolerance" yaml:"tolerance"`
	Noise       float64 `json:"noise" yaml:"noise"`
	Preferred   int     `json:"preferred_observation" yaml:"preferred_observation"`
	Solver      string  `json:"solver" yaml:"solver"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Epsilon     float64 `json:"epsilon" yaml:"epsilon"`
	MaxIter     int     `json:"max_iterations" yaml:"max_iterations"`
	Seed        uint64  `json:"seed" yaml:"seed"`
	Workers     int     `json:"workers" yaml:"workers"`
	StopAtExit  bool    `json:"stop_at_exit" yaml:"stop_at_exit"`
	// ConstantTerm adds the preference negentropy of unobserved steps to the
	// reported free energy.
	ConstantTerm bool `json:"constant_term,omitempty" yaml:"constant_term,omitempty"`
}

// Outcome classifies where an episode ended.
type Outcome string

const (
	OutcomeGlobal Outcome = "global"
	OutcomeLocal  Outcome = "local"
	OutcomeOther  Outcome = "other"
)

// EpisodeRecord is the summary of one episode.
type EpisodeRecord struct {
	Index           int       `json:"index"`
	Seed            uint64    `json:"seed"`
	Cycles          int       `json:"cycles"`
	Actions         []int     `json:"actions"`
	Observations    []int     `json:"observations"`
	FreeEnergy      []float64 `json:"free_energy"`
	Iterations      int       `json:"iterations"`
	NotConverged    int       `json:"not_converged"`
	Final           Cell      `json:"final"`
	Outcome         Outcome   `json:"outcome"`
	LocalMinimum    int       `json:"local_minimum,omitempty"`
	ReachedExitStep int       `json:"reached_exit_step"`
}

// OutcomeCounts tallies episode outcomes. Local[i] counts endings near the
// i-th configured local minimum.
type OutcomeCounts struct {
	Global int   `json:"global"`
	Local  []int `json:"local"`
	Other  int   `json:"other"`
}

func (c OutcomeCounts) Total() int {
	total := c.Global + c.Other
	for _, n := range c.Local {
		total += n
	}
	return total
}

// RunRecord is the persisted result of one experiment.
type RunRecord struct {
	VersionedRecord
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Duration  time.Duration    `json:"duration"`
	Config    ExperimentConfig `json:"config"`
	Counts    OutcomeCounts    `json:"counts"`
	Episodes  []EpisodeRecord  `json:"episodes"`
}
