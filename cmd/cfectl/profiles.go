package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"cfeagent/internal/model"
)

// mazeProfile is a bundled maze together with its known local minima.
type mazeProfile struct {
	Name        string
	MazeFile    string
	LocalMinima []model.Cell
	Description string
}

var mazeProfiles = map[string]mazeProfile{
	"deadend": {
		Name:        "deadend",
		MazeFile:    "deadend.maze",
		LocalMinima: []model.Cell{{Row: 3, Col: 3}},
		Description: "exit behind a wall; the short way in ends two cells from it",
	},
	"corridor": {
		Name:        "corridor",
		MazeFile:    "corridor.maze",
		Description: "open room, no local minima",
	},
	"switchback": {
		Name:        "switchback",
		MazeFile:    "switchback.maze",
		LocalMinima: []model.Cell{{Row: 3, Col: 5}},
		Description: "winding path with a pocket above the exit",
	},
}

func profileNames() []string {
	names := make([]string, 0, len(mazeProfiles))
	for name := range mazeProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyProfile points cfg at the profile's maze under mazeDir and sets its
// local minima.
func applyProfile(cfg model.ExperimentConfig, name, mazeDir string) (model.ExperimentConfig, error) {
	profile, ok := mazeProfiles[name]
	if !ok {
		return cfg, fmt.Errorf("unknown profile %q (available: %v)", name, profileNames())
	}
	cfg.Name = profile.Name
	cfg.MazeFile = filepath.Join(mazeDir, profile.MazeFile)
	cfg.LocalMinima = append([]model.Cell(nil), profile.LocalMinima...)
	return cfg, nil
}
