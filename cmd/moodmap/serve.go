package main

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/mood-map/internal/log"
	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/snapshot"
	"github.com/teslashibe/mood-map/pkg/web"
)

var (
	servePort string
	staticDir string
	serveLazy bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API and live status websockets",
	Long: `Serves the Mood Map API. Models start loading right away; the camera is
only opened when a client starts a capture or an analysis.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides MOODMAP_PORT)")
	serveCmd.Flags().StringVar(&staticDir, "static", "", "directory with dashboard files to serve at /")
	serveCmd.Flags().BoolVar(&serveLazy, "lazy", false, "load models on the first request instead of at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	var srv *web.Server
	a, err := newApp(cfg, func(f camera.Frame) { srv.SendFrame(f) })
	if err != nil {
		return err
	}
	defer a.Close()

	srv = web.NewServer(web.Options{
		Port:         cfg.Port,
		Orchestrator: a.orch,
		Detector:     a.sched,
		Overlay:      a.surface,
		Sink:         snapshot.FileSink{Dir: cfg.ExportDir},
		StaticDir:    staticDir,
		Version:      version,
		Logger:       log.Component("web"),
		LazyLoad:     serveLazy,
	})

	if !serveLazy {
		go func() {
			if err := a.orch.Mount(ctx); err != nil {
				a.log.Error("models failed to load", "error", err)
			}
		}()
	}

	a.log.Info("mood map starting", "version", version, "engine", cfg.Engine, "port", cfg.Port)
	return srv.Start(ctx)
}
