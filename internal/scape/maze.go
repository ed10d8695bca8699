package scape

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrMazeFormat = errors.New("incorrect maze file format")

const (
	cellWall  = 'W'
	cellFree  = '.'
	cellStart = 'S'
	cellExit  = 'E'
)

// Maze is a parsed grid of walls and free cells with one start and one exit.
type Maze struct {
	Name  string
	Rows  int
	Cols  int
	Start Position
	Exit  Position

	walls [][]bool
}

// LoadMaze parses the maze file at path.
func LoadMaze(path string) (*Maze, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseMaze(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Name = path
	return m, nil
}

// ParseMaze reads a header line "rows cols" followed by rows lines over the
// alphabet {W, ., S, E}. Lines shorter than cols, and missing lines, are
// padded with walls; characters past cols are ignored.
func ParseMaze(r io.Reader) (*Maze, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing header", ErrMazeFormat)
	}
	fields := strings.Fields(sc.Text())
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: header has %d tokens, want 2", ErrMazeFormat, len(fields))
	}
	rows, err := strconv.Atoi(fields[0])
	if err != nil || rows <= 0 {
		return nil, fmt.Errorf("%w: invalid row count %q", ErrMazeFormat, fields[0])
	}
	cols, err := strconv.Atoi(fields[1])
	if err != nil || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid column count %q", ErrMazeFormat, fields[1])
	}

	m := &Maze{Rows: rows, Cols: cols, walls: make([][]bool, rows)}
	starts, exits := 0, 0
	for i := 0; i < rows; i++ {
		line := ""
		if sc.Scan() {
			line = strings.TrimRight(sc.Text(), "\r")
		}
		m.walls[i] = make([]bool, cols)
		for j := 0; j < cols; j++ {
			if j >= len(line) {
				m.walls[i][j] = true
				continue
			}
			switch line[j] {
			case cellWall:
				m.walls[i][j] = true
			case cellFree:
			case cellStart:
				m.Start = Position{Row: i, Col: j}
				starts++
			case cellExit:
				m.Exit = Position{Row: i, Col: j}
				exits++
			default:
				return nil, fmt.Errorf("%w: unexpected character %q at row %d column %d", ErrMazeFormat, line[j], i, j)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if starts != 1 || exits != 1 {
		return nil, fmt.Errorf("%w: found %d start and %d exit cells, want one of each", ErrMazeFormat, starts, exits)
	}
	return m, nil
}

// Free reports whether p is inside the grid and not a wall.
func (m *Maze) Free(p Position) bool {
	if p.Row < 0 || p.Row >= m.Rows || p.Col < 0 || p.Col >= m.Cols {
		return false
	}
	return !m.walls[p.Row][p.Col]
}

// Move applies a from p; blocked moves leave the position unchanged.
func (m *Maze) Move(p Position, a Action) Position {
	next := a.Apply(p)
	if !m.Free(next) {
		return p
	}
	return next
}

// FreeCells lists free cells in row-major order.
func (m *Maze) FreeCells() []Position {
	var cells []Position
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			if !m.walls[i][j] {
				cells = append(cells, Position{Row: i, Col: j})
			}
		}
	}
	return cells
}
