package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/pipeline"
)

var batchManifestPath string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run comparisons for every entry in a YAML manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m, err := loadManifest(batchManifestPath)
		if err != nil {
			return err
		}

		// One limiter shared across all workers so the fan-out respects
		// the collaborator rate as a whole.
		limiter := rate.NewLimiter(rate.Limit(cfg.Batch.RatePerSec), 1)

		rt, err := initPipeline(ctx, "batch", pipeline.WithLimiter(limiter), pipeline.WithPromptCache())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Pipeline.WarmCache(ctx); err != nil {
			zap.L().Warn("prompt cache primer failed", zap.Error(err))
		}

		return processBatch(ctx, m.requests(), cfg.Batch.MaxConcurrentRuns, rt.Pipeline.Compare)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchManifestPath, "manifest", "batch.yaml", "YAML manifest of comparison runs")
	rootCmd.AddCommand(batchCmd)
}

// manifest is the YAML batch description: a defaults block shared by all
// entries plus one entry per comparison run.
type manifest struct {
	Defaults manifestDefaults `yaml:"defaults"`
	Runs     []manifestRun    `yaml:"runs"`
}

type manifestDefaults struct {
	Scenario       string `yaml:"scenario"`
	OutputDir      string `yaml:"output_dir"`
	YearA          string `yaml:"year_a"`
	YearB          string `yaml:"year_b"`
	FallbackSample bool   `yaml:"fallback_sample"`
}

type manifestRun struct {
	Client    string `yaml:"client"`
	DocumentA string `yaml:"document_a"`
	DocumentB string `yaml:"document_b"`
	KindA     string `yaml:"kind_a"`
	KindB     string `yaml:"kind_b"`
	YearA     string `yaml:"year_a"`
	YearB     string `yaml:"year_b"`
	Scenario  string `yaml:"scenario"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read manifest")
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "parse manifest")
	}
	if len(m.Runs) == 0 {
		return nil, eris.New("manifest has no runs")
	}
	for i, r := range m.Runs {
		if r.DocumentA == "" || r.DocumentB == "" {
			return nil, eris.Errorf("manifest run %d: document_a and document_b are required", i+1)
		}
	}
	return &m, nil
}

// requests expands the manifest into compare requests, filling blanks
// from the defaults block.
func (m *manifest) requests() []pipeline.CompareRequest {
	reqs := make([]pipeline.CompareRequest, 0, len(m.Runs))
	for _, r := range m.Runs {
		req := pipeline.CompareRequest{
			DocumentA:      r.DocumentA,
			DocumentB:      r.DocumentB,
			KindA:          parse.Kind(r.KindA),
			KindB:          parse.Kind(r.KindB),
			Client:         r.Client,
			Scenario:       r.Scenario,
			YearA:          r.YearA,
			YearB:          r.YearB,
			FallbackSample: m.Defaults.FallbackSample,
			OutputDir:      m.Defaults.OutputDir,
		}
		if req.Scenario == "" {
			req.Scenario = m.Defaults.Scenario
		}
		if req.YearA == "" {
			req.YearA = m.Defaults.YearA
		}
		if req.YearB == "" {
			req.YearB = m.Defaults.YearB
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// compareFunc is the callback signature for executing one comparison.
type compareFunc func(ctx context.Context, req pipeline.CompareRequest) (*pipeline.Result, error)

// processBatch fans the requests out across workers. Individual failures
// are logged and counted; they never abort the batch.
func processBatch(ctx context.Context, reqs []pipeline.CompareRequest, concurrency int, compare compareFunc) error {
	zap.L().Info("batch started",
		zap.Int("runs", len(reqs)),
		zap.Int("workers", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var completed, failed atomic.Int64

	for _, req := range reqs {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("client", req.Client),
				zap.String("document_a", req.DocumentA),
			)

			res, err := compare(gctx, req)
			if err != nil {
				failed.Add(1)
				log.Error("comparison failed", zap.Error(err))
				return nil // one bad run must not stop the rest
			}

			completed.Add(1)
			log.Info("comparison complete",
				zap.String("run_id", res.RunID),
				zap.Int("metrics", len(res.Dataset.Metrics)),
				zap.Bool("fallback", res.Fallback),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch workers")
	}

	zap.L().Info("batch finished",
		zap.Int64("completed", completed.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
