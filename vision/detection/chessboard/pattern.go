package chessboard

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// PatternSpec describes the calibration target: the number of internal corners per row (Cols)
// and per column (Rows), and the side length of a square.
type PatternSpec struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size"`
}

// DefaultPatternSpec returns the 7x6 board with unit squares.
func DefaultPatternSpec() PatternSpec {
	return PatternSpec{Cols: 7, Rows: 6, SquareSize: 1.0}
}

// Validate ensures all parts of the pattern are valid.
func (p *PatternSpec) Validate(path string) error {
	if p.Cols < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("cols must be at least 2, got %d", p.Cols))
	}
	if p.Rows < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("rows must be at least 2, got %d", p.Rows))
	}
	if p.SquareSize <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("square_size must be positive, got %v", p.SquareSize))
	}
	return nil
}

// NumCorners is the number of internal corners of the board.
func (p PatternSpec) NumCorners() int {
	return p.Cols * p.Rows
}

// ObjectPoints returns the planar grid of corners in row-major order: point k is
// (i*s, j*s, 0) with i = k mod Cols and j = k div Cols.
func (p PatternSpec) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, p.NumCorners())
	for j := 0; j < p.Rows; j++ {
		for i := 0; i < p.Cols; i++ {
			pts = append(pts, r3.Vector{X: float64(i) * p.SquareSize, Y: float64(j) * p.SquareSize})
		}
	}
	return pts
}
