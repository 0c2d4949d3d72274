package chessboard

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrPatternNotFound is returned when the full chessboard cannot be located in an image.
var ErrPatternNotFound = errors.New("chessboard pattern not found")

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	BlurSigma     float64 `json:"blur_sigma"`      // gaussian blur applied before computing the saddle map
	NMSWindow     int     `json:"nms_window"`      // half size of the non-maximum suppression window
	ResponseRatio float64 `json:"response_ratio"`  // minimum saddle score relative to the strongest one
	MaxCandidates int     `json:"max_candidates"`  // maximum number of saddle points kept
	XCornerRadius float64 `json:"x_corner_radius"` // radius of the circle sampled to verify X-junctions
	MinContrast   float64 `json:"min_contrast"`    // minimum gray level range on that circle
	GridTolerance float64 `json:"grid_tolerance"`  // snapping distance relative to the lattice step
	MaxSeeds      int     `json:"max_seeds"`       // number of lattice seeds tried before giving up
}

// DefaultDetectionConfiguration returns the default detection parameters.
func DefaultDetectionConfiguration() DetectionConfiguration {
	return DetectionConfiguration{
		BlurSigma:     1.5,
		NMSWindow:     5,
		ResponseRatio: 0.1,
		MaxCandidates: 400,
		XCornerRadius: 5,
		MinContrast:   30,
		GridTolerance: 0.35,
		MaxSeeds:      5,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *DetectionConfiguration) Validate(path string) error {
	switch {
	case cfg.BlurSigma < 0:
		return utils.NewConfigValidationError(path, errors.New("blur_sigma cannot be negative"))
	case cfg.NMSWindow < 1:
		return utils.NewConfigValidationError(path, errors.New("nms_window must be at least 1"))
	case cfg.ResponseRatio < 0 || cfg.ResponseRatio > 1:
		return utils.NewConfigValidationError(path, errors.New("response_ratio must be in [0, 1]"))
	case cfg.MaxCandidates < 4:
		return utils.NewConfigValidationError(path, errors.New("max_candidates must be at least 4"))
	case cfg.XCornerRadius < 2:
		return utils.NewConfigValidationError(path, errors.New("x_corner_radius must be at least 2"))
	case cfg.MinContrast < 0:
		return utils.NewConfigValidationError(path, errors.New("min_contrast cannot be negative"))
	case cfg.GridTolerance <= 0 || cfg.GridTolerance >= 0.5:
		return utils.NewConfigValidationError(path, errors.New("grid_tolerance must be in (0, 0.5)"))
	case cfg.MaxSeeds < 1:
		return utils.NewConfigValidationError(path, errors.New("max_seeds must be at least 1"))
	}
	return nil
}

// FindCornerCandidates returns the saddle points of the image that look like chessboard X-junctions.
func FindCornerCandidates(img *mat.Dense, cfg *DetectionConfiguration) []r2.Point {
	saddles := GetSaddlePoints(img, cfg)
	pts := make([]r2.Point, 0, len(saddles))
	for _, s := range saddles {
		if isXCorner(img, s.Point, cfg.XCornerRadius, cfg.MinContrast) {
			pts = append(pts, s.Point)
		}
	}
	return pts
}

// FindChessboard locates the internal corners of the pattern in a luminance image. The corners are
// returned in the order of pattern.ObjectPoints(), at pixel precision. Failures wrap ErrPatternNotFound.
func FindChessboard(img *mat.Dense, pattern PatternSpec, cfg DetectionConfiguration) ([]r2.Point, error) {
	pts := FindCornerCandidates(img, &cfg)
	if len(pts) < pattern.NumCorners() {
		return nil, errors.Wrapf(ErrPatternNotFound, "found %d corner candidates, need %d", len(pts), pattern.NumCorners())
	}

	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	seeds := make([]int, len(pts))
	for k := range seeds {
		seeds[k] = k
	}
	sort.SliceStable(seeds, func(a, b int) bool {
		return pts[seeds[a]].Sub(centroid).Norm() < pts[seeds[b]].Sub(centroid).Norm()
	})

	var errs error
	for _, seed := range seeds[:min(len(seeds), cfg.MaxSeeds)] {
		lattice, err := growLattice(pts, seed, cfg.GridTolerance)
		if err == nil {
			err = checkRegular(lattice)
		}
		if err == nil {
			var corners []r2.Point
			corners, err = orderLattice(lattice, pattern)
			if err == nil {
				return corners, nil
			}
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errors.Wrap(ErrPatternNotFound, errs.Error())
}
