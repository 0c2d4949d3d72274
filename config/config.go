// Package config defines the configuration of the calibration service and how it is read from disk.
package config

import (
	"net"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/intrinsics/calibration"
	"go.viam.com/intrinsics/vision/detection/chessboard"
)

// Config describes the calibration pipeline and the service exposing it.
type Config struct {
	ConfigFilePath string `json:"-"`

	Pattern   chessboard.PatternSpec            `json:"pattern"`
	Detection chessboard.DetectionConfiguration `json:"detection"`
	Subpixel  chessboard.SubpixelConfiguration  `json:"subpixel"`
	Solver    calibration.SolverConfiguration   `json:"solver"`
	Workers   int                               `json:"workers"`
	DebugDir  string                            `json:"debug_dir"`

	Network NetworkConfig `json:"network"`
	// UploadDir, when set, keeps a copy of every uploaded calibration image.
	UploadDir string `json:"upload_dir"`
	Debug     bool   `json:"debug"`
	// LogFile, when set, also writes logs to this file, rotated every LogMaxSizeMB megabytes.
	LogFile      string `json:"log_file"`
	LogMaxSizeMB int    `json:"log_max_size_mb"`
}

// DefaultLogMaxSizeMB is the log file size that triggers a rotation.
const DefaultLogMaxSizeMB = 100

// Default returns the configuration used when no file is given.
func Default() *Config {
	calib := calibration.DefaultConfig()
	return &Config{
		Pattern:   calib.Pattern,
		Detection: calib.Detection,
		Subpixel:  calib.Subpixel,
		Solver:    calib.Solver,
	}
}

// Calibration returns the part of the configuration used by the calibration pipeline.
func (c *Config) Calibration() calibration.Config {
	return calibration.Config{
		Pattern:   c.Pattern,
		Detection: c.Detection,
		Subpixel:  c.Subpixel,
		Solver:    c.Solver,
		Workers:   c.Workers,
		DebugDir:  c.DebugDir,
	}
}

// Ensure ensures all parts of the config are valid, filling in defaults.
func (c *Config) Ensure() error {
	if c.LogMaxSizeMB < 0 {
		return utils.NewConfigValidationError("log_max_size_mb", errors.New("must not be negative"))
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	calib := c.Calibration()
	if err := calib.Validate(""); err != nil {
		return err
	}
	return c.Network.Validate("network")
}

// NetworkConfig describes networking settings for the web server.
type NetworkConfig struct {
	// BindAddress is the address that the web server will bind to.
	// The default behavior is to bind to localhost:8080.
	BindAddress string `json:"bind_address"`

	BindAddressDefaultSet bool `json:"-"`
}

// DefaultBindAddress is the default address that will be listened on.
const DefaultBindAddress = "localhost:8080"

// Validate ensures all parts of the config are valid.
func (nc *NetworkConfig) Validate(path string) error {
	if nc.BindAddress == "" {
		nc.BindAddress = DefaultBindAddress
		nc.BindAddressDefaultSet = true
	}
	if _, _, err := net.SplitHostPort(nc.BindAddress); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating bind_address"))
	}
	return nil
}
