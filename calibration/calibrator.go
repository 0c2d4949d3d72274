package calibration

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage"
	"go.viam.com/intrinsics/utils"
	"go.viam.com/intrinsics/vision/detection/chessboard"
)

// ViewResult is the outcome of pattern detection on one image of a batch: either the refined
// corners or the reason the image was skipped.
type ViewResult struct {
	Index   int
	Corners []r2.Point
	Err     error
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithClock sets the clock used for timestamps and durations.
func WithClock(clk clock.Clock) Option {
	return func(c *Calibrator) {
		c.clock = clk
	}
}

// WithState makes the Calibrator publish its results to an existing State.
func WithState(state *State) Option {
	return func(c *Calibrator) {
		c.state = state
	}
}

// Calibrator runs the calibration pipeline on batches of images and keeps the latest result.
type Calibrator struct {
	cfg    Config
	logger logging.Logger
	clock  clock.Clock
	state  *State

	runMu sync.Mutex
}

// NewCalibrator returns a new Calibrator for the given configuration.
func NewCalibrator(cfg Config, logger logging.Logger, opts ...Option) (*Calibrator, error) {
	if err := cfg.Validate("calibration"); err != nil {
		return nil, err
	}
	c := &Calibrator{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.state == nil {
		c.state = NewState(c.clock)
	}
	return c, nil
}

// Calibrate estimates the camera intrinsics from a batch of images and publishes them on success.
// A failed run leaves the previous result in place.
func (c *Calibrator) Calibrate(ctx context.Context, images []image.Image) (Intrinsics, error) {
	sol, err := c.CalibrateSolution(ctx, images)
	if err != nil {
		return Intrinsics{}, err
	}
	return sol.Result(), nil
}

// CalibrateSolution is Calibrate returning the full solver output.
func (c *Calibrator) CalibrateSolution(ctx context.Context, images []image.Image) (*Solution, error) {
	if len(images) == 0 {
		return nil, ErrNoInputImages
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()

	start := c.clock.Now()
	ref, ok := referenceSize(images)
	if !ok {
		return nil, errors.Wrap(ErrNoUsableViews, "every image is nil")
	}
	results, err := c.detectAll(ctx, images, ref)
	if err != nil {
		return nil, err
	}

	var failures error
	for _, r := range lo.Reject(results, func(r ViewResult, _ int) bool { return r.Err == nil }) {
		c.logger.Infow("skipping image", "image", r.Index, "reason", r.Err)
		failures = multierr.Append(failures, errors.Wrapf(r.Err, "image %d", r.Index))
	}
	collector := NewCollector()
	objectPoints := c.cfg.Pattern.ObjectPoints()
	for _, r := range lo.Filter(results, func(r ViewResult, _ int) bool { return r.Err == nil }) {
		if err := collector.Add(Correspondence{ObjectPoints: objectPoints, ImagePoints: r.Corners}); err != nil {
			failures = multierr.Append(failures, errors.Wrapf(err, "image %d", r.Index))
		}
	}
	if collector.Len() == 0 {
		return nil, errors.Wrap(ErrNoUsableViews, failures.Error())
	}
	c.logger.Debugw("pattern detection done", "usable", collector.Len(), "images", len(images),
		"elapsed", c.clock.Since(start))

	sol, err := Solve(collector.Correspondences(), ref.X, ref.Y, c.cfg.Solver, c.logger)
	if err != nil {
		return nil, err
	}
	c.state.Update(sol.Result())

	summary, err := sol.ErrorSummary()
	if err != nil {
		c.logger.Warnw("cannot summarize reprojection errors", "error", err)
	}
	c.logger.Infow("calibration done",
		"intrinsics", sol.Result(),
		"views", collector.Len(),
		"rms", sol.RMS,
		"worst_view_rms", summary.Max,
		"elapsed", c.clock.Since(start))
	return sol, nil
}

// CurrentIntrinsics returns the latest published result, or ErrNotCalibrated.
func (c *Calibrator) CurrentIntrinsics() (Intrinsics, error) {
	return c.state.Read()
}

// State returns the state the Calibrator publishes to.
func (c *Calibrator) State() *State {
	return c.state
}

// DetectCorners finds and refines the pattern corners in a single image.
func (c *Calibrator) DetectCorners(img image.Image) ([]r2.Point, error) {
	lum, err := rimage.ConvertToLuminanceFloat(img)
	if err != nil {
		return nil, err
	}
	corners, err := chessboard.FindChessboard(lum, c.cfg.Pattern, c.cfg.Detection)
	if err != nil {
		return nil, err
	}
	return chessboard.RefineCorners(lum, corners, c.cfg.Subpixel), nil
}

// detectAll runs detection on every image with at most Workers images in flight. Results keep
// the input order.
func (c *Calibrator) detectAll(ctx context.Context, images []image.Image, ref image.Point) ([]ViewResult, error) {
	workers := c.cfg.Workers
	if workers == 0 {
		workers = utils.ParallelFactor
	}

	results := make([]ViewResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.detectView(i, img, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// referenceSize is the size of the first non-nil image of the batch; every other image must match it.
func referenceSize(images []image.Image) (image.Point, bool) {
	for _, img := range images {
		if img != nil {
			return img.Bounds().Size(), true
		}
	}
	return image.Point{}, false
}

func (c *Calibrator) detectView(i int, img image.Image, ref image.Point) ViewResult {
	if img == nil {
		return ViewResult{Index: i, Err: errors.New("image is nil")}
	}
	if size := img.Bounds().Size(); size != ref {
		return ViewResult{Index: i, Err: errors.Wrapf(ErrImageSizeMismatch, "%dx%d instead of %dx%d", size.X, size.Y, ref.X, ref.Y)}
	}
	corners, err := c.DetectCorners(img)
	if err != nil {
		return ViewResult{Index: i, Err: err}
	}
	if c.cfg.DebugDir != "" {
		out := filepath.Join(c.cfg.DebugDir, fmt.Sprintf("view_%d.png", i))
		if err := chessboard.SaveCornersPNG(img, corners, c.cfg.Pattern, out); err != nil {
			c.logger.Warnw("cannot save detection overlay", "path", out, "error", err)
		}
	}
	return ViewResult{Index: i, Corners: corners}
}
