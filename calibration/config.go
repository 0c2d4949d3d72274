package calibration

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/intrinsics/vision/detection/chessboard"
)

// Config gathers the parameters of a calibration pipeline.
type Config struct {
	Pattern   chessboard.PatternSpec            `json:"pattern"`
	Detection chessboard.DetectionConfiguration `json:"detection"`
	Subpixel  chessboard.SubpixelConfiguration  `json:"subpixel"`
	Solver    SolverConfiguration               `json:"solver"`
	// Workers bounds the number of images processed concurrently. Zero uses one worker per CPU.
	Workers int `json:"workers"`
	// DebugDir, when set, receives an overlay of every successful detection.
	DebugDir string `json:"debug_dir"`
}

// DefaultConfig returns the configuration of a 7x6 board with default detection and solver parameters.
func DefaultConfig() Config {
	return Config{
		Pattern:   chessboard.DefaultPatternSpec(),
		Detection: chessboard.DefaultDetectionConfiguration(),
		Subpixel:  chessboard.DefaultSubpixelConfiguration(),
		Solver:    DefaultSolverConfiguration(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Pattern.Validate(subPath(path, "pattern")); err != nil {
		return err
	}
	if err := cfg.Detection.Validate(subPath(path, "detection")); err != nil {
		return err
	}
	if err := cfg.Subpixel.Validate(subPath(path, "subpixel")); err != nil {
		return err
	}
	if err := cfg.Solver.Validate(subPath(path, "solver")); err != nil {
		return err
	}
	if cfg.Workers < 0 {
		return goutils.NewConfigValidationError(path, errors.New("workers cannot be negative"))
	}
	return nil
}

func subPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
