package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/hub"
	"github.com/teslashibe/mood-map/pkg/models"
	"github.com/teslashibe/mood-map/pkg/moodmap"
	"github.com/teslashibe/mood-map/pkg/scheduler"
)

const (
	msgNoFace      = "No face detected in the image"
	msgNoImage     = "No image provided. Send either 'image' file or 'image_data' base64 string"
	msgBadImage    = "Failed to decode image"
	msgModelsNotUp = "Models are not loaded"
)

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		switch code {
		case fiber.StatusNotFound:
			msg = "Endpoint not found"
		case fiber.StatusRequestEntityTooLarge:
			msg = "File too large. Maximum size is 16MB"
		default:
			msg = fe.Message
		}
	} else {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// statusCode maps orchestrator errors to HTTP codes.
func statusCode(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, camera.ErrDeviceDenied):
		return fiber.StatusForbidden
	case errors.Is(err, scheduler.ErrNoFaceDetected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, moodmap.ErrBusy),
		errors.Is(err, moodmap.ErrCancelled),
		errors.Is(err, moodmap.ErrNoResult):
		return fiber.StatusConflict
	case errors.Is(err, moodmap.ErrNotReady),
		errors.Is(err, models.ErrModelLoadFailure),
		errors.Is(err, scheduler.ErrModelsNotReady):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// reply answers a command with the resulting status. The status carries
// the user notice, never the raw error.
func (s *Server) reply(c *fiber.Ctx, err error) error {
	code := statusCode(err)
	if code == fiber.StatusInternalServerError {
		s.log.Error("command failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(s.opts.Orchestrator.Status())
}

// mountOnDemand loads the models before the next handler while the
// orchestrator has not been mounted. A failed load is left for the
// handler to report, since the orchestrator keeps the outcome.
func (s *Server) mountOnDemand(c *fiber.Ctx) error {
	switch s.opts.Orchestrator.Status().State {
	case moodmap.StateIdle, moodmap.StateModelLoading:
		if err := s.opts.Orchestrator.Mount(c.UserContext()); err != nil {
			s.log.Warn("mount on request failed", "path", c.Path(), "error", err)
		}
	}
	return c.Next()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.opts.Orchestrator.Status()
	ready := st.State != moodmap.StateIdle && st.State != moodmap.StateModelLoading && st.State != moodmap.StateError
	return c.JSON(fiber.Map{
		"status":       "healthy",
		"message":      "Mood Map API is running",
		"version":      s.opts.Version,
		"state":        st.State,
		"models_ready": ready,
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.opts.Orchestrator.Status())
}

func (s *Server) handleStartCapture(c *fiber.Ctx) error {
	return s.reply(c, s.opts.Orchestrator.StartCapture(c.UserContext()))
}

func (s *Server) handleStopCapture(c *fiber.Ctx) error {
	s.opts.Orchestrator.StopCapture()
	return s.reply(c, nil)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.opts.Orchestrator.Reset()
	return s.reply(c, nil)
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	a, err := s.opts.Orchestrator.Analyze(c.UserContext())
	if err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{
		"result": NewReport(*a),
		"status": s.opts.Orchestrator.Status(),
	})
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	data, name, err := s.opts.Orchestrator.Snapshot()
	switch {
	case errors.Is(err, moodmap.ErrNoResult):
		return fiber.NewError(fiber.StatusConflict, "No analysis result yet")
	case err != nil:
		s.log.Error("snapshot failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Could not render the snapshot")
	}

	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	c.Type("png")
	return c.Send(data)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	if s.opts.Sink == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "Export is not configured")
	}
	name, err := s.opts.Orchestrator.Export(c.UserContext(), s.opts.Sink)
	if err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{"file": name})
}

func (s *Server) handleOverlay(c *fiber.Ctx) error {
	if s.opts.Overlay == nil {
		return fiber.ErrNotFound
	}
	data, err := s.opts.Overlay.PNG()
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	c.Type("png")
	return c.Send(data)
}

// analyzeImage runs one still image and converts the outcome to a report
// and status code.
func (s *Server) analyzeImage(ctx context.Context, data []byte) (Report, int) {
	a, err := moodmap.AnalyzeImage(ctx, s.opts.Detector, data, time.Now())
	switch {
	case err == nil:
		return NewReport(a), fiber.StatusOK
	case errors.Is(err, scheduler.ErrNoFaceDetected):
		return NoFaceReport(), fiber.StatusOK
	case errors.Is(err, face.ErrEmptyFrame):
		return unknownReport(msgBadImage), fiber.StatusBadRequest
	case errors.Is(err, scheduler.ErrModelsNotReady):
		return unknownReport(msgModelsNotUp), fiber.StatusServiceUnavailable
	default:
		s.log.Error("image analysis failed", "error", err)
		return unknownReport("Analysis failed"), fiber.StatusInternalServerError
	}
}

func (s *Server) handleAnalyzeImage(c *fiber.Ctx) error {
	data, err := readImage(c)
	if err != nil {
		return err
	}
	report, code := s.analyzeImage(c.UserContext(), data)
	return c.Status(code).JSON(report)
}

func (s *Server) handleBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["images"]) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "No images provided")
	}
	files := form.File["images"]

	results := make([]Report, 0, len(files))
	for i, fh := range files {
		if fh.Filename == "" {
			continue
		}
		data, err := readFile(fh)
		if err != nil {
			continue
		}

		report, code := s.analyzeImage(c.UserContext(), data)
		if code == fiber.StatusBadRequest {
			continue
		}
		index := i
		report.ImageIndex = &index
		report.Filename = fh.Filename
		results = append(results, report)
	}

	return c.JSON(fiber.Map{
		"total_images":     len(files),
		"processed_images": len(results),
		"results":          results,
	})
}

// readImage accepts a multipart "image" file or a JSON body with a base64
// "image_data" field, optionally as a data URL.
func readImage(c *fiber.Ctx) ([]byte, error) {
	if fh, err := c.FormFile("image"); err == nil {
		if fh.Filename == "" {
			return nil, fiber.NewError(fiber.StatusBadRequest, "No file selected")
		}
		data, err := readFile(fh)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, msgBadImage)
		}
		return data, nil
	}

	var req struct {
		ImageData string `json:"image_data"`
	}
	if err := c.BodyParser(&req); err != nil || req.ImageData == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, msgNoImage)
	}
	data, err := decodeImageData(req.ImageData)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, msgBadImage)
	}
	return data, nil
}

// decodeImageData decodes base64, stripping a "data:image/...;base64,"
// prefix if present.
func decodeImageData(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:image") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, MaxUploadSize))
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	var greeting []hub.Message
	if data, err := json.Marshal(s.opts.Orchestrator.Status()); err == nil {
		greeting = append(greeting, hub.NewJSONMessage(data))
	}
	hub.NewClient(s.statusHub, c, greeting...).Run()
}

func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.cameraHub, c).Run()
}
