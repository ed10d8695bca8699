package scape

import (
	"io"

	"cfeagent/internal/tensor"
)

// Environment is the world an agent acts in. It sizes and supplies the
// generative model and executes actions.
type Environment interface {
	Observations() int
	States() int
	Actions() int

	// A is the likelihood [observations x states].
	A() *tensor.Dense
	// B is the transition tensor [next state x state x action].
	B() *tensor.Dense
	// D is the prior over the initial state.
	D() *tensor.Dense

	// Reset restores the initial configuration and returns the first
	// observation.
	Reset() int
	// Execute applies an action and returns the resulting observation.
	Execute(action int) (int, error)
}

// PositionedEnvironment is a grid world: it exposes positions for outcome
// classification and draws itself.
type PositionedEnvironment interface {
	Environment
	AgentPosition() Position
	ExitPosition() Position
	Render(w io.Writer) error
}
