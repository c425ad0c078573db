package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/mood-map/pkg/moodmap"
	"github.com/teslashibe/mood-map/pkg/scheduler"
	"github.com/teslashibe/mood-map/pkg/web"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>...",
	Short: "Analyze still images without a camera",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.boot.EnsureLoaded(ctx); err != nil {
		return err
	}

	results := make([]web.Report, 0, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var report web.Report
		analysis, err := moodmap.AnalyzeImage(ctx, a.sched, data, time.Now())
		switch {
		case err == nil:
			report = web.NewReport(analysis)
		case errors.Is(err, scheduler.ErrNoFaceDetected):
			report = web.NoFaceReport()
		default:
			return fmt.Errorf("%s: %w", path, err)
		}
		index := i
		report.ImageIndex = &index
		report.Filename = filepath.Base(path)
		results = append(results, report)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
