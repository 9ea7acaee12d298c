package core

import "errors"

var (
	// ErrMobilityStuck is returned when boundary rejection sampling could not
	// find an in-bounds move within the retry cap. The node keeps its
	// position for the tick.
	ErrMobilityStuck = errors.New("mobility stuck: no in-bounds direction found")
	// ErrNodeExists indicates a node with the same ID is already registered.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound indicates a requested node is not part of the state.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeOutOfBounds indicates a node was placed outside the area.
	ErrNodeOutOfBounds = errors.New("node position out of bounds")
	// ErrInvalidBounds indicates a zero, negative or NaN simulation area.
	ErrInvalidBounds = errors.New("invalid simulation bounds")
)
