// Package web serves the Mood Map API and live status over websockets.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/hub"
	"github.com/teslashibe/mood-map/pkg/moodmap"
)

// MaxUploadSize bounds image uploads.
const MaxUploadSize = 16 * 1024 * 1024

// OverlaySource renders the live overlay. *overlay.Surface implements it.
type OverlaySource interface {
	PNG() ([]byte, error)
}

// Options wires the server to the rest of the application.
type Options struct {
	Port         string
	Orchestrator *moodmap.Orchestrator
	Detector     moodmap.ImageDetector
	Overlay      OverlaySource // optional
	Sink         moodmap.Sink  // optional, enables POST /api/export
	StaticDir    string        // optional dashboard files
	Version      string
	Logger       *slog.Logger

	// LazyLoad mounts the orchestrator on the first request that needs
	// the models instead of expecting the caller to mount it at startup.
	LazyLoad bool
}

// Server is the HTTP and websocket front end.
type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	statusHub *hub.Hub
	cameraHub *hub.Hub
}

// NewServer builds the routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Port == "" {
		opts.Port = "8080"
	}

	s := &Server{
		opts:      opts,
		log:       opts.Logger,
		statusHub: hub.New("status", opts.Logger),
		cameraHub: hub.New("camera", opts.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Mood Map",
		DisableStartupMessage: true,
		BodyLimit:             MaxUploadSize,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	// needsModels prefixes handlers that cannot run before a mount.
	needsModels := func(h fiber.Handler) []fiber.Handler {
		if opts.LazyLoad {
			return []fiber.Handler{s.mountOnDemand, h}
		}
		return []fiber.Handler{h}
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Post("/capture/start", needsModels(s.handleStartCapture)...)
	api.Post("/capture/stop", s.handleStopCapture)
	api.Post("/analyze", needsModels(s.handleAnalyze)...)
	api.Post("/reset", s.handleReset)
	api.Get("/snapshot", s.handleSnapshot)
	api.Post("/export", s.handleExport)
	api.Get("/overlay", s.handleOverlay)
	api.Post("/images/analyze", needsModels(s.handleAnalyzeImage)...)
	api.Post("/images/batch", needsModels(s.handleBatch)...)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.pumpStatus(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("web dashboard listening", "url", "http://localhost:"+s.opts.Port)
		errc <- s.app.Listen(":" + s.opts.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// SendFrame streams a live frame to camera websocket clients. It is meant
// to be the orchestrator's OnFrame hook.
func (s *Server) SendFrame(frame camera.Frame) {
	if s.cameraHub.ClientCount() == 0 {
		return
	}
	s.cameraHub.BroadcastBinary(frame.Data)
}

// pumpStatus forwards orchestrator updates to the status hub.
func (s *Server) pumpStatus(ctx context.Context) {
	updates, unsubscribe := s.opts.Orchestrator.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := s.statusHub.BroadcastJSON(st); err != nil {
				s.log.Warn("encode status", "error", err)
			}
		}
	}
}
