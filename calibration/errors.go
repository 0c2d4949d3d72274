package calibration

import "github.com/pkg/errors"

var (
	// ErrNoInputImages is returned when a calibration batch is empty.
	ErrNoInputImages = errors.New("no input images")
	// ErrImageSizeMismatch is returned for images whose size differs from the first image of the batch.
	ErrImageSizeMismatch = errors.New("image size differs from the rest of the batch")
	// ErrNoUsableViews is returned when no image of the batch produced a complete pattern detection.
	ErrNoUsableViews = errors.New("no usable views")
	// ErrDegenerateConfiguration is returned when the views do not constrain the intrinsics.
	ErrDegenerateConfiguration = errors.New("degenerate view configuration")
	// ErrSolverDivergence is returned when the nonlinear refinement fails to converge.
	ErrSolverDivergence = errors.New("solver diverged")
	// ErrNotCalibrated is returned when intrinsics are read before any successful calibration.
	ErrNotCalibrated = errors.New("not calibrated")
)
