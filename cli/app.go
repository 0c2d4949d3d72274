// Package cli contains the command line interface of the calibration service.
package cli

import (
	"encoding/json"
	"fmt"
	"image"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/intrinsics/calibration"
	"go.viam.com/intrinsics/config"
	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage"
	"go.viam.com/intrinsics/rimage/transform"
	"go.viam.com/intrinsics/vision/detection/chessboard"
	"go.viam.com/intrinsics/web/server"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagBindAddress = "bind-address"
	flagUploadDir   = "upload-dir"
	flagDebugDir    = "debug-dir"
	flagFull        = "full"
	flagTable       = "table"
	flagOut         = "out"
)

var app = &cli.App{
	Name:            "intrinsics",
	Usage:           "estimate camera intrinsics from chessboard images",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "serve",
			Usage:  "serve the calibration HTTP API",
			Action: ServeAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagBindAddress,
					Usage: "address to listen on, overrides the config",
				},
				&cli.StringFlag{
					Name:  flagUploadDir,
					Usage: "keep a copy of every uploaded image in `DIR`",
				},
			},
		},
		{
			Name:      "calibrate",
			Usage:     "calibrate from image files and print the intrinsics as JSON",
			ArgsUsage: "FILE...",
			Action:    CalibrateAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagDebugDir,
					Usage: "write a detection overlay per image to `DIR`",
				},
				&cli.BoolFlag{
					Name:  flagFull,
					Usage: "also print distortion and reprojection errors",
				},
				&cli.BoolFlag{
					Name:  flagTable,
					Usage: "print a table of the per view reprojection errors instead of JSON",
				},
			},
		},
		{
			Name:      "detect",
			Usage:     "detect the chessboard corners of one image",
			ArgsUsage: "FILE",
			Action:    DetectAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagOut,
					Usage: "write the detection overlay to `FILE`",
				},
			},
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// setup reads the configuration and builds a logger writing to the app's error stream, keeping
// the output stream for results. The returned function closes the log file, if any.
func setup(c *cli.Context) (*config.Config, logging.Logger, func(), error) {
	logger := logging.NewBlankLogger("intrinsics")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}

	var cfg *config.Config
	if path := c.String(flagConfig); path != "" {
		var err error
		cfg, err = config.Read(path, logger)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		cfg = config.Default()
		if err := cfg.Ensure(); err != nil {
			return nil, nil, nil, err
		}
	}
	if cfg.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	cleanup := func() {}
	if cfg.LogFile != "" {
		appender, closer := logging.NewFileAppender(cfg.LogFile, cfg.LogMaxSizeMB)
		logger.AddAppender(appender)
		cleanup = func() { utils.UncheckedError(closer.Close()) }
	}
	return cfg, logger, cleanup, nil
}

// ServeAction runs the HTTP service until interrupted.
func ServeAction(c *cli.Context) error {
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	if addr := c.String(flagBindAddress); addr != "" {
		cfg.Network.BindAddress = addr
		if err := cfg.Network.Validate("network"); err != nil {
			return err
		}
	}
	if dir := c.String(flagUploadDir); dir != "" {
		cfg.UploadDir = dir
	}

	calibrator, err := calibration.NewCalibrator(cfg.Calibration(), logger.Sublogger("calibration"))
	if err != nil {
		return err
	}
	srv := server.New(calibrator, logger.Sublogger("server"), server.Options{UploadDir: cfg.UploadDir})
	return srv.ListenAndServe(c.Context, cfg.Network.BindAddress)
}

type calibrationReport struct {
	calibration.Intrinsics
	Width      int                      `json:"width_px"`
	Height     int                      `json:"height_px"`
	Model      transform.DistortionType `json:"distortion_model"`
	Distortion *transform.BrownConrady  `json:"distortion"`
	RMS        float64                  `json:"rms"`
	FxStdDev   float64                  `json:"fx_std_dev"`
	FyStdDev   float64                  `json:"fy_std_dev"`
	ViewErrors []float64                `json:"view_errors"`
	Summary    calibration.ErrorSummary `json:"error_summary"`
	Iterations int                      `json:"iterations"`
	Converged  bool                     `json:"converged"`
}

// CalibrateAction calibrates from the image files given as arguments.
func CalibrateAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("expected at least one image FILE")
	}
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	if dir := c.String(flagDebugDir); dir != "" {
		cfg.DebugDir = dir
	}

	images, err := readImages(c.Args().Slice())
	if err != nil {
		return err
	}
	calibrator, err := calibration.NewCalibrator(cfg.Calibration(), logger)
	if err != nil {
		return err
	}
	solution, err := calibrator.CalibrateSolution(c.Context, images)
	if err != nil {
		return err
	}

	if c.Bool(flagTable) {
		return printViewTable(c.App.Writer, solution)
	}

	var out interface{} = solution.Result()
	if c.Bool(flagFull) {
		summary, err := solution.ErrorSummary()
		if err != nil {
			return err
		}
		out = calibrationReport{
			Intrinsics: solution.Result(),
			Width:      solution.Intrinsics.Width,
			Height:     solution.Intrinsics.Height,
			Model:      solution.Distortion.ModelType(),
			Distortion: solution.Distortion,
			RMS:        solution.RMS,
			FxStdDev:   solution.FxStdDev,
			FyStdDev:   solution.FyStdDev,
			ViewErrors: solution.ViewErrors,
			Summary:    summary,
			Iterations: solution.Iterations,
			Converged:  solution.Converged,
		}
	}
	return printJSON(c.App.Writer, out)
}

// DetectAction reports the corners found in a single image.
func DetectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one image FILE")
	}
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	calibrator, err := calibration.NewCalibrator(cfg.Calibration(), logger)
	if err != nil {
		return err
	}

	img, err := rimage.NewImageFromFile(c.Args().First())
	if err != nil {
		return err
	}
	corners, err := calibrator.DetectCorners(img)
	if err != nil {
		return err
	}
	if out := c.String(flagOut); out != "" {
		if err := chessboard.SaveCornersPNG(img, corners, cfg.Pattern, out); err != nil {
			return err
		}
		logger.Infow("wrote overlay", "path", out)
	}

	pts := make([][2]float64, 0, len(corners))
	for _, p := range corners {
		pts = append(pts, [2]float64{p.X, p.Y})
	}
	return printJSON(c.App.Writer, map[string]interface{}{"corners": pts})
}

func readImages(paths []string) ([]image.Image, error) {
	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := rimage.NewImageFromFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read %q", p)
		}
		images = append(images, img)
	}
	return images, nil
}

func printViewTable(w io.Writer, solution *calibration.Solution) error {
	summary, err := solution.ErrorSummary()
	if err != nil {
		return err
	}
	res := solution.Result()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Fx %.2f  Fy %.2f  Ox %.2f  Oy %.2f", res.Fx, res.Fy, res.Ox, res.Oy))
	t.AppendHeader(table.Row{"View", "RMS (px)"})
	for i, e := range solution.ViewErrors {
		t.AppendRow(table.Row{i, fmt.Sprintf("%.4f", e)})
	}
	t.AppendFooter(table.Row{"all", fmt.Sprintf("%.4f", solution.RMS)})
	t.AppendFooter(table.Row{"median", fmt.Sprintf("%.4f", summary.Median)})
	t.AppendFooter(table.Row{"max", fmt.Sprintf("%.4f", summary.Max)})
	t.Render()
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "cannot write output")
	}
	return nil
}
