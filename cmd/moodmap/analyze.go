package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/mood-map/pkg/snapshot"
	"github.com/teslashibe/mood-map/pkg/web"
)

var analyzeOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the camera once and save an annotated snapshot",
	Long: `Loads the models, samples the camera until a face is found or the attempts
run out, prints the result as JSON and saves mood-map-<date>.png.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "snapshot directory (overrides MOODMAP_EXPORT_DIR)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if analyzeOut != "" {
		cfg.ExportDir = analyzeOut
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Mount(ctx); err != nil {
		return err
	}

	result, err := a.orch.Analyze(ctx)
	if err != nil {
		if st := a.orch.Status(); st.Notice != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), st.Notice.Message)
		}
		return err
	}

	sink := snapshot.FileSink{Dir: cfg.ExportDir}
	name, err := a.orch.Export(ctx, sink)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(web.NewReport(*result)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "snapshot saved to %s\n", sink.Path(name))
	return nil
}
