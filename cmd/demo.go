package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Render the sample dataset without calling any collaborator",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := initPipeline(ctx, "demo")
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.Pipeline.Demo(ctx)
		if err != nil {
			return eris.Wrap(err, "demo")
		}

		zap.L().Info("demo complete",
			zap.String("run_id", res.RunID),
			zap.Int("metrics", len(res.Dataset.Metrics)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
