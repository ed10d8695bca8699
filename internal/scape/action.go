package scape

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAction = errors.New("invalid action")

// Action is one of the five moves available in a maze.
type Action int

const (
	Up Action = iota
	Down
	Left
	Right
	Idle
)

// NumActions is the size of the action alphabet.
const NumActions = 5

var actionNames = [NumActions]string{"up", "down", "left", "right", "idle"}

func (a Action) Valid() bool { return a >= 0 && a < NumActions }

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// ParseAction accepts an action name, case-insensitively.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Position is a (row, column) cell.
type Position struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// Apply returns the cell the action targets from p, ignoring walls.
func (a Action) Apply(p Position) Position {
	switch a {
	case Up:
		p.Row--
	case Down:
		p.Row++
	case Left:
		p.Col--
	case Right:
		p.Col++
	}
	return p
}

// ManhattanDistance is |Δrow| + |Δcol|.
func ManhattanDistance(p, q Position) int {
	return abs(p.Row-q.Row) + abs(p.Col-q.Col)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
