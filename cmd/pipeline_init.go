package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/pipeline"
	"github.com/sells-group/taxcomp-cli/internal/source"
	"github.com/sells-group/taxcomp-cli/internal/store"
	anthropicpkg "github.com/sells-group/taxcomp-cli/pkg/anthropic"
	"github.com/sells-group/taxcomp-cli/pkg/notion"
	"github.com/sells-group/taxcomp-cli/pkg/taxapi"
)

// pipelineRuntime bundles the store and assembled pipeline that the
// compare, params, demo, batch, and serve commands all start from.
type pipelineRuntime struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close shuts the store down. Defer it right after initPipeline.
func (rt *pipelineRuntime) Close() {
	if rt.Store != nil {
		_ = rt.Store.Close()
	}
}

// initPipeline validates the config for the given command mode, opens
// and migrates the store, then wires the collaborator clients and input
// resolver into a Pipeline.
func initPipeline(ctx context.Context, mode string, opts ...pipeline.Option) (*pipelineRuntime, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	var taxOpts []taxapi.Option
	if cfg.TaxAPI.BaseURL != "" {
		taxOpts = append(taxOpts, taxapi.WithBaseURL(cfg.TaxAPI.BaseURL))
	}
	taxClient := taxapi.NewClient(cfg.TaxAPI.Key, taxOpts...)

	resolver := source.NewResolver(
		source.WithHTTPFetcher(source.NewHTTPFetcher(source.HTTPOptions{
			UserAgent:  cfg.Source.UserAgent,
			Timeout:    time.Duration(cfg.Source.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Source.MaxRetries,
		})),
		source.WithFTPFetcher(source.NewFTPFetcher(source.FTPOptions{
			Timeout: time.Duration(cfg.Source.FTPTimeoutSecs) * time.Second,
		})),
	)

	p := pipeline.New(cfg, st, anthropicClient, taxClient, resolver, opts...)

	return &pipelineRuntime{Store: st, Pipeline: p}, nil
}

// publishResult pushes the run's dataset to Notion, one page per metric.
func publishResult(ctx context.Context, res *pipeline.Result) error {
	if err := cfg.Validate("publish"); err != nil {
		return err
	}

	nc := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(3))
	pub, err := notion.PublishDataset(ctx, nc, cfg.Notion.DatabaseID, &res.Dataset)
	if err != nil {
		return eris.Wrap(err, "publish dataset")
	}

	zap.L().Info("dataset published",
		zap.String("run_id", res.RunID),
		zap.String("database_id", pub.DatabaseID),
		zap.Int("pages_created", pub.PagesCreated),
	)
	return nil
}
