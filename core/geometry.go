package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/manet-simulator/model"
)

// Bounds is the closed simulation rectangle [0, MaxX] × [0, MaxY].
type Bounds struct {
	MaxX float64
	MaxY float64
}

// Validate rejects empty or negative areas.
func (b Bounds) Validate() error {
	if b.MaxX <= 0 || b.MaxY <= 0 || math.IsNaN(b.MaxX) || math.IsNaN(b.MaxY) {
		return fmt.Errorf("%w: bounds must be positive, got %gx%g", ErrInvalidBounds, b.MaxX, b.MaxY)
	}
	return nil
}

// Contains reports whether p lies inside the closed rectangle.
func (b Bounds) Contains(p model.Position) bool {
	return p.X >= 0 && p.X <= b.MaxX && p.Y >= 0 && p.Y <= b.MaxY
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b model.Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
