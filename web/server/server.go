// Package server exposes a Calibrator over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/intrinsics/calibration"
	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage"
)

const (
	imagesField     = "images"
	requestIDHeader = "X-Request-Id"

	// DefaultMaxUploadMemory is how much of a multipart upload is held in memory before spilling to disk.
	DefaultMaxUploadMemory = 32 << 20
	// DefaultMaxUploadBytes caps the size of a calibration request body.
	DefaultMaxUploadBytes = 256 << 20

	msgNoImages       = "No images uploaded"
	msgNoCorners      = "No chessboard corners detected"
	msgNotCalibrated  = "Calibration not done yet"
	defaultUploadName = "upload"
)

// Options configures a Server.
type Options struct {
	// UploadDir, when set, receives a copy of every uploaded image under its base name.
	UploadDir       string
	MaxUploadMemory int64
	MaxUploadBytes  int64
}

// Server serves calibration requests.
type Server struct {
	calibrator *calibration.Calibrator
	logger     logging.Logger
	options    Options
}

// New returns a Server backed by calibrator.
func New(calibrator *calibration.Calibrator, logger logging.Logger, options Options) *Server {
	if options.MaxUploadMemory <= 0 {
		options.MaxUploadMemory = DefaultMaxUploadMemory
	}
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{calibrator: calibrator, logger: logger, options: options}
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/calibrate"), s.handleCalibrate)
	mux.HandleFunc(pat.Get("/get_intrinsics"), s.handleGetIntrinsics)
	return cors.AllowAll().Handler(mux)
}

// ListenAndServe serves on bindAddress until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, bindAddress string) error {
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer, err := utils.NewPossiblySecureHTTPServer(s.Handler(), utils.HTTPServerOptions{
		Secure:         false,
		MaxHeaderBytes: 1 << 20,
		Addr:           listener.Addr().String(),
	})
	if err != nil {
		return err
	}

	shutdownDone := make(chan struct{})
	utils.PanicCapturingGo(func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorw("error shutting down", "error", err)
		}
	})

	s.logger.Infow("serving", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("error writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(requestIDHeader, requestID)

	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxUploadBytes)
	var files []*multipart.FileHeader
	if err := r.ParseMultipartForm(s.options.MaxUploadMemory); err == nil {
		defer utils.UncheckedErrorFunc(r.MultipartForm.RemoveAll)
		files = r.MultipartForm.File[imagesField]
	} else {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Infow("upload too large", "request", requestID, "limit", tooLarge.Limit)
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.logger.Debugw("cannot parse upload", "request", requestID, "error", err)
	}
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, msgNoImages)
		return
	}

	images := make([]image.Image, 0, len(files))
	for _, fh := range files {
		img, err := s.readUpload(fh)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		images = append(images, img)
	}

	s.logger.Infow("calibrating", "request", requestID, "images", len(images))
	result, err := s.calibrator.Calibrate(r.Context(), images)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, calibration.ErrNoInputImages):
		s.writeError(w, http.StatusBadRequest, msgNoImages)
	case errors.Is(err, calibration.ErrNoUsableViews):
		s.logger.Infow("calibration failed", "request", requestID, "error", err)
		s.writeError(w, http.StatusBadRequest, msgNoCorners)
	case errors.Is(err, calibration.ErrDegenerateConfiguration), errors.Is(err, calibration.ErrSolverDivergence):
		s.logger.Infow("calibration failed", "request", requestID, "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Errorw("calibration failed", "request", requestID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readUpload decodes one uploaded file, saving a copy first when an upload directory is set.
func (s *Server) readUpload(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if s.options.UploadDir != "" {
		if err := s.saveUpload(fh.Filename, data); err != nil {
			return nil, err
		}
	}

	img, err := rimage.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", fh.Filename)
	}
	return img, nil
}

func (s *Server) saveUpload(filename string, data []byte) error {
	name := filepath.Base(filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		name = defaultUploadName
	}
	if err := os.MkdirAll(s.options.UploadDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.options.UploadDir, name), data, 0o600)
}

func (s *Server) handleGetIntrinsics(w http.ResponseWriter, r *http.Request) {
	result, err := s.calibrator.CurrentIntrinsics()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, msgNotCalibrated)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
