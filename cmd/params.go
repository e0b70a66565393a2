package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/pipeline"
)

var (
	paramsClient   string
	paramsScenario string
	paramsYearA    string
	paramsYearB    string
	paramsKind     string
	paramsFallback bool
	paramsOutDir   string
	paramsPublish  bool
)

var paramsCmd = &cobra.Command{
	Use:   "params <document>",
	Short: "Extract filing parameters and reconcile against a fresh calculation",
	Long:  "Extracts country, region, income, and filing status from a prior-year tax document, runs the tax calculator for the current year, backfills premium-gated fields, and reconciles both years into the standard artifact set.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := initPipeline(ctx, "params")
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.Pipeline.ExtractParams(ctx, pipeline.ParamsRequest{
			Document:       args[0],
			Kind:           parse.Kind(paramsKind),
			Client:         paramsClient,
			Scenario:       paramsScenario,
			YearA:          paramsYearA,
			YearB:          paramsYearB,
			FallbackSample: paramsFallback,
			OutputDir:      paramsOutDir,
		})
		if err != nil {
			return eris.Wrap(err, "params")
		}

		zap.L().Info("parameter extraction complete",
			zap.String("run_id", res.RunID),
			zap.Int("metrics", len(res.Dataset.Metrics)),
			zap.Bool("fallback", res.Fallback),
			zap.Int64("total_tokens", res.Usage.InputTokens+res.Usage.OutputTokens),
		)

		if paramsPublish {
			if err := publishResult(ctx, res); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	paramsCmd.Flags().StringVar(&paramsClient, "client", "", "client display name")
	paramsCmd.Flags().StringVar(&paramsScenario, "scenario", "", "client scenario context for the extraction prompt")
	paramsCmd.Flags().StringVar(&paramsYearA, "year-a", "", "label for the documented year (default Previous Year)")
	paramsCmd.Flags().StringVar(&paramsYearB, "year-b", "", "label for the calculated year (default Current Year)")
	paramsCmd.Flags().StringVar(&paramsKind, "kind", "", "force document kind (json-record, word-document, pdf-document)")
	paramsCmd.Flags().BoolVar(&paramsFallback, "fallback-sample", false, "substitute the sample dataset when extraction fails recoverably")
	paramsCmd.Flags().StringVar(&paramsOutDir, "output-dir", "", "artifact output directory (default from config)")
	paramsCmd.Flags().BoolVar(&paramsPublish, "publish", false, "publish the dataset to Notion")
	rootCmd.AddCommand(paramsCmd)
}
