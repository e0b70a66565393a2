// Package pipeline orchestrates the extraction flows end to end: resolve
// the input documents, call the collaborators, validate their responses,
// assemble the comparison dataset, render the artifact set, and record the
// run. A Pipeline is safe for concurrent use; batch mode shares one
// instance across all of its workers.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/taxcomp-cli/internal/config"
	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/render"
	"github.com/sells-group/taxcomp-cli/internal/resilience"
	"github.com/sells-group/taxcomp-cli/internal/sample"
	"github.com/sells-group/taxcomp-cli/internal/source"
	"github.com/sells-group/taxcomp-cli/internal/store"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
	"github.com/sells-group/taxcomp-cli/pkg/taxapi"
)

// Pipeline wires the extraction collaborator, the calculator, the input
// resolver, the renderer, and the run store into the three flows.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	ai       anthropic.Client
	calc     taxapi.Client
	resolver *source.Resolver

	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	limiter  *rate.Limiter

	cacheSystem bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimiter gates every collaborator call through l. Batch mode passes
// one limiter shared across all workers.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Pipeline) {
		p.limiter = l
	}
}

// WithPromptCache marks the extraction system prompts with a cache
// breakpoint. Worth it when many runs share one prompt, as in batch mode.
func WithPromptCache() Option {
	return func(p *Pipeline) {
		p.cacheSystem = true
	}
}

// New creates a Pipeline. Retry and circuit-breaker behavior come from the
// config's retry and circuit sections.
func New(cfg *config.Config, st store.Store, ai anthropic.Client, calc taxapi.Client, resolver *source.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    st,
		ai:       ai,
		calc:     calc,
		resolver: resolver,
		breakers: resilience.NewServiceBreakers(resilience.FromCircuitConfig(
			cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
		retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier, cfg.Retry.JitterFraction),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Breakers exposes the per-service circuit breakers so the monitoring
// collector can report their states.
func (p *Pipeline) Breakers() *resilience.ServiceBreakers {
	return p.breakers
}

// Result is the outcome of one completed flow.
type Result struct {
	RunID     string
	Dataset   model.Dataset
	Artifacts model.ArtifactPaths
	Reasoning string
	Usage     anthropic.TokenUsage

	// Fallback is set when the sample dataset was substituted after a
	// recoverable extraction failure.
	Fallback bool
}

// Demo renders the canned sample dataset through the standard artifact
// tail without touching either collaborator.
func (p *Pipeline) Demo(ctx context.Context) (*Result, error) {
	ds := sample.Dataset()

	run, err := p.store.CreateRun(ctx, model.RunKindDemo, ds.Client, "sample")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	p.setStatus(ctx, run.ID, model.RunStatusRunning)

	return p.finalize(ctx, run.ID, ds, "", "", false)
}

// materialize fetches one input into memory, inferring the document kind
// from the reference unless the caller forced one.
func (p *Pipeline) materialize(ctx context.Context, ref string, kind parse.Kind) (source.Document, error) {
	if kind != "" {
		return p.resolver.MaterializeAs(ctx, ref, kind)
	}
	return p.resolver.Materialize(ctx, ref)
}

// finalize runs the shared tail of every flow: render the artifact set,
// write it out, archive the metrics, and complete the run record.
func (p *Pipeline) finalize(ctx context.Context, runID string, ds model.Dataset, reasoning, outputDir string, fellBack bool) (*Result, error) {
	artifacts, err := render.Render(ds)
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, err
	}

	if outputDir == "" {
		outputDir = p.cfg.Output.Dir
	}
	paths, err := render.WriteArtifacts(outputDir, artifactStem(runID), artifacts)
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, err
	}

	if err := p.store.SaveMetrics(ctx, runID, ds.Metrics); err != nil {
		err = eris.Wrap(err, "pipeline: archive metrics")
		p.failRun(ctx, runID, err)
		return nil, err
	}

	// The artifacts exist and the metrics are archived; a completion
	// bookkeeping failure is not worth failing the whole run over.
	if err := p.store.CompleteRun(ctx, runID, paths, len(ds.Metrics), reasoning); err != nil {
		zap.L().Warn("pipeline: record run completion",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	zap.L().Info("pipeline: run completed",
		zap.String("run_id", runID),
		zap.Int("metrics", len(ds.Metrics)),
		zap.String("document", paths.Document),
		zap.Bool("fallback", fellBack),
	)

	return &Result{
		RunID:     runID,
		Dataset:   ds,
		Artifacts: paths,
		Reasoning: reasoning,
		Fallback:  fellBack,
	}, nil
}

func (p *Pipeline) setStatus(ctx context.Context, runID string, status model.RunStatus) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("pipeline: update run status",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (p *Pipeline) failRun(ctx context.Context, runID string, cause error) {
	if err := p.store.FailRun(ctx, runID, cause.Error()); err != nil {
		zap.L().Warn("pipeline: record run failure",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

// recoverable reports whether a failure may be replaced by the sample
// dataset when the caller asked for the fallback. Collaborator and
// response-contract failures qualify; parse and render failures do not,
// since canned data cannot repair a bad input file and a render failure
// would hit the sample just the same.
func recoverable(err error) bool {
	var (
		collab *CollaboratorError
		format *extract.FormatError
		shape  *extract.ShapeError
		schema *extract.SchemaError
	)
	return errors.As(err, &collab) ||
		errors.As(err, &format) ||
		errors.As(err, &shape) ||
		errors.As(err, &schema)
}

// fallbackDataset is the sample dataset re-badged with the requesting
// client. The scenario line stays as shipped so every artifact discloses
// that no documents were processed.
func fallbackDataset(client string) model.Dataset {
	ds := sample.Dataset()
	if client != "" {
		ds.Client = client
	}
	return ds
}

// artifactStem builds the output file stem. The short run id suffix keeps
// concurrent batch runs writing into a shared directory from colliding
// within the same second.
func artifactStem(runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("tax_comparison_%s_%s", time.Now().Format("20060102_150405"), short)
}

// inputDigest fingerprints the raw input bytes of a run. Parts are
// length-delimited so shifting bytes between documents changes the digest.
func inputDigest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
