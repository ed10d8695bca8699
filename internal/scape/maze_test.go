package scape

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfeagent/internal/inference"
	"cfeagent/internal/tensor"
)

const deadEndMaze = `5 8
WWWWWWWW
W......W
W.WWWW.W
WS..WE.W
WWWWWWWW
`

func TestParseMaze(t *testing.T) {
	m, err := ParseMaze(strings.NewReader(deadEndMaze))
	require.NoError(t, err)
	assert.Equal(t, 5, m.Rows)
	assert.Equal(t, 8, m.Cols)
	assert.Equal(t, Position{Row: 3, Col: 1}, m.Start)
	assert.Equal(t, Position{Row: 3, Col: 5}, m.Exit)
	assert.Len(t, m.FreeCells(), 13)
	assert.False(t, m.Free(Position{Row: 3, Col: 4}))
	assert.False(t, m.Free(Position{Row: -1, Col: 0}))
}

func TestParseMazePadsShortLinesWithWalls(t *testing.T) {
	m, err := ParseMaze(strings.NewReader("3 5\nWSE\nW..\n"))
	require.NoError(t, err)
	assert.True(t, m.Free(Position{Row: 1, Col: 2}))
	assert.False(t, m.Free(Position{Row: 0, Col: 3}))
	assert.False(t, m.Free(Position{Row: 1, Col: 4}))
	// Missing third line is all walls.
	for j := 0; j < 5; j++ {
		assert.False(t, m.Free(Position{Row: 2, Col: j}))
	}
}

func TestParseMazeErrors(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"one token":     "5\nWSEW\n",
		"three tokens":  "1 4 2\nWSEW\n",
		"non numeric":   "a 4\nWSEW\n",
		"zero rows":     "0 4\n",
		"bad character": "1 4\nWSXE\n",
		"no start":      "1 4\nW.EW\n",
		"two exits":     "1 5\nWSEEW\n",
		"tab character": "2 4\nWS\tE\nWWWW\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMaze(strings.NewReader(input))
			require.ErrorIs(t, err, ErrMazeFormat)
		})
	}
}

func TestLoadBundledMazes(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "data", "mazes", "*.maze"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		m, err := LoadMaze(path)
		require.NoError(t, err, path)
		env, err := NewMazeEnv(m)
		require.NoError(t, err, path)
		_, err = inference.NewModel(env.A(), env.B(), env.D())
		require.NoError(t, err, path)
	}
}

func TestMazeEnvModelIsStochastic(t *testing.T) {
	m, err := ParseMaze(strings.NewReader(deadEndMaze))
	require.NoError(t, err)
	env, err := NewMazeEnv(m)
	require.NoError(t, err)

	assert.Equal(t, 8, env.Observations())
	assert.Equal(t, 13, env.States())
	assert.Equal(t, NumActions, env.Actions())
	assert.Equal(t, []int{8, 13}, env.A().Shape())
	assert.Equal(t, []int{13, 13, NumActions}, env.B().Shape())

	for _, s := range tensor.SumAxis(env.A(), 0).Data() {
		assert.InDelta(t, 1.0, s, 1e-9)
	}
	for _, s := range tensor.SumAxis(env.B(), 0).Data() {
		assert.InDelta(t, 1.0, s, 1e-9)
	}
	d := env.D()
	assert.InDelta(t, 1-DefaultNoise, d.At(env.stateIDs[m.Start]), 1e-12)
}

func TestMazeEnvTransitionsFollowWalls(t *testing.T) {
	m, err := ParseMaze(strings.NewReader(deadEndMaze))
	require.NoError(t, err)
	env, err := NewMazeEnv(m, WithNoise(0))
	require.NoError(t, err)
	b := env.B()

	start := env.stateIDs[m.Start]
	above := env.stateIDs[Position{Row: 2, Col: 1}]
	assert.Equal(t, 1.0, b.At(above, start, int(Up)))
	// Down and Left hit walls.
	assert.Equal(t, 1.0, b.At(start, start, int(Down)))
	assert.Equal(t, 1.0, b.At(start, start, int(Left)))
	assert.Equal(t, 1.0, b.At(start, start, int(Idle)))
}

func TestMazeEnvExecute(t *testing.T) {
	m, err := ParseMaze(strings.NewReader(deadEndMaze))
	require.NoError(t, err)
	env, err := NewMazeEnv(m)
	require.NoError(t, err)

	assert.Equal(t, 4, env.Reset())
	obs, err := env.Execute(int(Right))
	require.NoError(t, err)
	assert.Equal(t, 3, obs)
	obs, err = env.Execute(int(Right))
	require.NoError(t, err)
	assert.Equal(t, 2, obs)
	// The dead end: the wall blocks further progress.
	obs, err = env.Execute(int(Right))
	require.NoError(t, err)
	assert.Equal(t, 2, obs)
	assert.Equal(t, Position{Row: 3, Col: 3}, env.AgentPosition())

	_, err = env.Execute(NumActions)
	require.ErrorIs(t, err, ErrInvalidAction)
	_, err = env.Execute(-1)
	require.ErrorIs(t, err, ErrInvalidAction)

	assert.Equal(t, 4, env.Reset())
	assert.Equal(t, m.Start, env.AgentPosition())
}

func TestMazeEnvRejectsDegenerateMazes(t *testing.T) {
	m, err := ParseMaze(strings.NewReader("1 4\nWSEW\n"))
	require.NoError(t, err)
	_, err = NewMazeEnv(m)
	require.ErrorIs(t, err, ErrDegenerateModel)

	// Without border walls distances exceed the observation alphabet.
	m, err = ParseMaze(strings.NewReader("3 6\nS.....\n......\n.....E\n"))
	require.NoError(t, err)
	_, err = NewMazeEnv(m)
	require.ErrorIs(t, err, ErrDegenerateModel)
}

func TestMazeEnvRender(t *testing.T) {
	m, err := ParseMaze(strings.NewReader(deadEndMaze))
	require.NoError(t, err)
	env, err := NewMazeEnv(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.Render(&buf))
	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "WA  WE W", lines[3])
	assert.Equal(t, "WWWWWWWW", lines[0])
}

func TestActions(t *testing.T) {
	p := Position{Row: 2, Col: 2}
	assert.Equal(t, Position{Row: 1, Col: 2}, Up.Apply(p))
	assert.Equal(t, Position{Row: 3, Col: 2}, Down.Apply(p))
	assert.Equal(t, Position{Row: 2, Col: 1}, Left.Apply(p))
	assert.Equal(t, Position{Row: 2, Col: 3}, Right.Apply(p))
	assert.Equal(t, p, Idle.Apply(p))

	a, err := ParseAction(" Left ")
	require.NoError(t, err)
	assert.Equal(t, Left, a)
	_, err = ParseAction("jump")
	require.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, "idle", Idle.String())
	assert.False(t, Action(NumActions).Valid())
}
