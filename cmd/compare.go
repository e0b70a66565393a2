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
	compareClient    string
	compareScenario  string
	compareYearA     string
	compareYearB     string
	compareKindA     string
	compareKindB     string
	compareReasoning bool
	compareFallback  bool
	compareOutDir    string
	comparePublish   bool
)

var compareCmd = &cobra.Command{
	Use:   "compare <document-a> <document-b>",
	Short: "Compare two yearly tax documents",
	Long:  "Extracts key metrics from two tax documents (local path, http(s) or ftp URL), reconciles them into a year-over-year dataset, and writes PDF, XLSX, and JSON artifacts.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := initPipeline(ctx, "compare")
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.Pipeline.Compare(ctx, pipeline.CompareRequest{
			DocumentA:      args[0],
			DocumentB:      args[1],
			KindA:          parse.Kind(compareKindA),
			KindB:          parse.Kind(compareKindB),
			Client:         compareClient,
			Scenario:       compareScenario,
			YearA:          compareYearA,
			YearB:          compareYearB,
			Reasoning:      compareReasoning,
			FallbackSample: compareFallback,
			OutputDir:      compareOutDir,
		})
		if err != nil {
			return eris.Wrap(err, "compare")
		}

		zap.L().Info("comparison complete",
			zap.String("run_id", res.RunID),
			zap.Int("metrics", len(res.Dataset.Metrics)),
			zap.Bool("fallback", res.Fallback),
			zap.Int64("total_tokens", res.Usage.InputTokens+res.Usage.OutputTokens),
		)

		if comparePublish {
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
	compareCmd.Flags().StringVar(&compareClient, "client", "", "client display name")
	compareCmd.Flags().StringVar(&compareScenario, "scenario", "", "client scenario context for the extraction prompt")
	compareCmd.Flags().StringVar(&compareYearA, "year-a", "", "label for the first year (default 2023)")
	compareCmd.Flags().StringVar(&compareYearB, "year-b", "", "label for the second year (default 2024)")
	compareCmd.Flags().StringVar(&compareKindA, "kind-a", "", "force document A kind (json-record, word-document, pdf-document)")
	compareCmd.Flags().StringVar(&compareKindB, "kind-b", "", "force document B kind")
	compareCmd.Flags().BoolVar(&compareReasoning, "reasoning", false, "record the collaborator's metric-matching preamble on the run")
	compareCmd.Flags().BoolVar(&compareFallback, "fallback-sample", false, "substitute the sample dataset when extraction fails recoverably")
	compareCmd.Flags().StringVar(&compareOutDir, "output-dir", "", "artifact output directory (default from config)")
	compareCmd.Flags().BoolVar(&comparePublish, "publish", false, "publish the dataset to Notion")
	rootCmd.AddCommand(compareCmd)
}
