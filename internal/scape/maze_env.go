package scape

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"cfeagent/internal/tensor"
)

// DefaultNoise is the probability mass spread over unintended outcomes in A,
// B and D.
const DefaultNoise = 0.01

var ErrDegenerateModel = errors.New("degenerate maze model")

// MazeEnv is a maze in which the agent observes its Manhattan distance to the
// exit and moves with the five grid actions.
type MazeEnv struct {
	maze     *Maze
	noise    float64
	stateIDs map[Position]int
	states   int
	agent    Position
}

type MazeOption func(*MazeEnv)

// WithNoise overrides DefaultNoise.
func WithNoise(noise float64) MazeOption {
	return func(e *MazeEnv) { e.noise = noise }
}

var _ PositionedEnvironment = (*MazeEnv)(nil)

func NewMazeEnv(m *Maze, opts ...MazeOption) (*MazeEnv, error) {
	env := &MazeEnv{
		maze:     m,
		noise:    DefaultNoise,
		stateIDs: make(map[Position]int),
		agent:    m.Start,
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.noise < 0 || env.noise >= 1 {
		return nil, fmt.Errorf("noise must be in [0,1), got %g", env.noise)
	}
	for i, cell := range m.FreeCells() {
		env.stateIDs[cell] = i
	}
	env.states = len(env.stateIDs)

	if env.states < 2 {
		return nil, fmt.Errorf("%w: %d free cells, need at least 2", ErrDegenerateModel, env.states)
	}
	if env.Observations() < 2 {
		return nil, fmt.Errorf("%w: %dx%d maze has %d observations", ErrDegenerateModel, m.Rows, m.Cols, env.Observations())
	}
	for cell := range env.stateIDs {
		if d := ManhattanDistance(cell, m.Exit); d >= env.Observations() {
			return nil, fmt.Errorf("%w: cell %s is %d from the exit but only %d distances are observable (missing border walls?)",
				ErrDegenerateModel, cell, d, env.Observations())
		}
	}
	return env, nil
}

func (e *MazeEnv) Maze() *Maze { return e.maze }

func (e *MazeEnv) Actions() int { return NumActions }
func (e *MazeEnv) States() int  { return e.states }

// Observations is the number of distinct exit distances in a maze enclosed by
// walls.
func (e *MazeEnv) Observations() int { return e.maze.Rows + e.maze.Cols - 5 }

func (e *MazeEnv) AgentPosition() Position { return e.agent }
func (e *MazeEnv) ExitPosition() Position  { return e.maze.Exit }

func (e *MazeEnv) Reset() int {
	e.agent = e.maze.Start
	obs, _ := e.Execute(int(Idle))
	return obs
}

func (e *MazeEnv) Execute(action int) (int, error) {
	a := Action(action)
	if !a.Valid() {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidAction, action, NumActions)
	}
	e.agent = e.maze.Move(e.agent, a)
	return ManhattanDistance(e.agent, e.maze.Exit), nil
}

func (e *MazeEnv) A() *tensor.Dense {
	obs := e.Observations()
	a := filled(e.noise/float64(obs-1), obs, e.states)
	for cell, id := range e.stateIDs {
		a.Set(1-e.noise, ManhattanDistance(cell, e.maze.Exit), id)
	}
	return a
}

func (e *MazeEnv) B() *tensor.Dense {
	b := filled(e.noise/float64(e.states-1), e.states, e.states, NumActions)
	for cell, id := range e.stateIDs {
		for k := Action(0); k < NumActions; k++ {
			next := e.stateIDs[e.maze.Move(cell, k)]
			b.Set(1-e.noise, next, id, int(k))
		}
	}
	return b
}

func (e *MazeEnv) D() *tensor.Dense {
	d := filled(e.noise/float64(e.states-1), e.states)
	d.Set(1-e.noise, e.stateIDs[e.maze.Start])
	return d
}

func filled(v float64, shape ...int) *tensor.Dense {
	t := tensor.New(shape...)
	data := t.Data()
	for i := range data {
		data[i] = v
	}
	return t
}

// Render draws the maze with the agent (A), exit (E) and walls (W).
func (e *MazeEnv) Render(w io.Writer) error {
	var sb strings.Builder
	for i := 0; i < e.maze.Rows; i++ {
		for j := 0; j < e.maze.Cols; j++ {
			p := Position{Row: i, Col: j}
			switch {
			case p == e.agent:
				sb.WriteByte('A')
			case p == e.maze.Exit:
				sb.WriteByte('E')
			case e.maze.Free(p):
				sb.WriteByte(' ')
			default:
				sb.WriteByte('W')
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("A = agent position\nE = exit position\nW = wall\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
