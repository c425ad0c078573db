package main

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/mood-map/internal/config"
	"github.com/teslashibe/mood-map/internal/log"
	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/face/opencv"
	"github.com/teslashibe/mood-map/pkg/models"
	"github.com/teslashibe/mood-map/pkg/moodmap"
	"github.com/teslashibe/mood-map/pkg/overlay"
	"github.com/teslashibe/mood-map/pkg/scheduler"
	"github.com/teslashibe/mood-map/pkg/snapshot"
)

// app is the wired component graph shared by every command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	engine  face.Engine
	boot    *models.Bootstrapper
	cameras *camera.Manager
	sched   *scheduler.Scheduler
	surface *overlay.Surface
	orch    *moodmap.Orchestrator
}

// newApp builds the components. onFrame may be nil.
func newApp(cfg config.Config, onFrame func(camera.Frame)) (*app, error) {
	a := &app{cfg: cfg, log: log.Component("moodmap")}

	manifest, err := loadManifest(cfg)
	if err != nil {
		return nil, err
	}

	camCfg := camera.GetPreset(cfg.CameraPreset)
	if camCfg == nil {
		return nil, fmt.Errorf("unknown camera preset %q (have %v)", cfg.CameraPreset, camera.PresetNames())
	}
	camCfg.DeviceID = cfg.CameraDevice

	var device camera.Device
	switch cfg.Engine {
	case "mock":
		a.engine = demoEngine()
		manifest = models.ManifestOf(manifest.Names()...)
		device = camera.NewMockDevice()
	default:
		a.engine = opencv.New(log.Component("engine"))
		device = camera.NewOpenCVDevice()
	}

	a.boot = models.New(a.engine, manifest, models.Config{
		Dir:     cfg.ModelDir,
		BaseURL: cfg.ModelBaseURL,
		Timeout: cfg.ModelTimeout,
	}, log.Component("models"))

	a.cameras = camera.NewManager(device, *camCfg, log.Component("camera"))

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = cfg.TickInterval
	schedCfg.MaxAttempts = cfg.MaxAttempts
	schedCfg.RetryDelay = cfg.RetryDelay
	schedCfg.Options = face.Options{InputSize: cfg.InputSize, ScoreThreshold: cfg.ScoreThreshold}
	a.sched = scheduler.New(a.engine, a.boot, schedCfg, log.Component("scheduler"))

	a.surface = overlay.NewSurface(0, 0, overlay.DefaultStyle())

	a.orch = moodmap.New(moodmap.Deps{
		Models:     a.boot,
		Camera:     a.cameras,
		Detector:   a.sched,
		Overlay:    a.surface,
		Compositor: snapshot.NewCompositor(a.surface, cfg.Attribution),
	}, moodmap.Config{
		ReleaseDelay:    cfg.ReleaseDelay,
		OnFrame:         onFrame,
		MaxReadFailures: cfg.MaxReadFailures,
	}, log.Component("orchestrator"))

	return a, nil
}

func loadManifest(cfg config.Config) (models.Manifest, error) {
	if cfg.ManifestPath != "" {
		return models.LoadManifest(cfg.ManifestPath)
	}
	return opencv.DefaultManifest()
}

// demoEngine finds a smiling face in every frame.
func demoEngine() *face.MockEngine {
	e := face.NewMockEngine()
	e.Fallback = face.MockResult{Detections: []face.Detection{
		face.SampleDetection(face.Expressions{face.Happy: 0.82, face.Neutral: 0.10, face.Sad: 0.08}),
	}}
	return e
}

// Close stops the orchestrator first so no loop touches the camera or
// engine while they shut down.
func (a *app) Close() {
	if err := a.orch.Close(); err != nil {
		a.log.Warn("close orchestrator", "error", err)
	}
	if err := a.cameras.Close(); err != nil {
		a.log.Warn("close camera", "error", err)
	}
	a.surface.Close()
	if err := a.engine.Close(); err != nil {
		a.log.Warn("close engine", "error", err)
	}
}
