package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/source"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
)

// CompareRequest describes one two-document comparison.
type CompareRequest struct {
	// DocumentA and DocumentB reference the year A and year B inputs as
	// local paths, http(s) URLs, or ftp URLs.
	DocumentA string
	DocumentB string

	// KindA and KindB force the document kinds; when empty the kind is
	// inferred from each reference's extension.
	KindA parse.Kind
	KindB parse.Kind

	Client   string
	Scenario string

	// YearA and YearB label the compared periods and double as the JSON
	// keys of the extraction contract.
	YearA string
	YearB string

	// Reasoning asks the collaborator to explain its metric matching in a
	// preamble. The preamble lands in the run record, never in artifacts.
	Reasoning bool

	// FallbackSample substitutes the sample dataset when extraction fails
	// recoverably, instead of failing the run.
	FallbackSample bool

	// OutputDir overrides the configured artifact directory.
	OutputDir string
}

func (r *CompareRequest) defaults() {
	if r.YearA == "" {
		r.YearA = "2023"
	}
	if r.YearB == "" {
		r.YearB = "2024"
	}
}

// Compare runs the two-document flow: normalize both inputs, one
// collaborator round trip against the array contract, dataset assembly
// with recomputed differences, then the shared render-and-record tail.
func (p *Pipeline) Compare(ctx context.Context, req CompareRequest) (*Result, error) {
	req.defaults()

	docA, err := p.materialize(ctx, req.DocumentA, req.KindA)
	if err != nil {
		return nil, err
	}
	docB, err := p.materialize(ctx, req.DocumentB, req.KindB)
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, model.RunKindCompare, req.Client, inputDigest(docA.Data, docB.Data))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(model.RunKindCompare)))
	log.Info("pipeline: run started",
		zap.String("document_a", req.DocumentA),
		zap.String("document_b", req.DocumentB),
		zap.String("client", req.Client),
	)
	p.setStatus(ctx, run.ID, model.RunStatusRunning)

	ds, reasoning, usage, err := p.compareDataset(ctx, req, docA, docB)
	fellBack := false
	if err != nil {
		if !req.FallbackSample || !recoverable(err) {
			p.failRun(ctx, run.ID, err)
			return nil, err
		}
		log.Warn("pipeline: substituting sample dataset", zap.Error(err))
		ds, reasoning, fellBack = fallbackDataset(req.Client), "", true
	}

	res, err := p.finalize(ctx, run.ID, ds, reasoning, req.OutputDir, fellBack)
	if err != nil {
		return nil, err
	}
	res.Usage = usage
	return res, nil
}

// compareDataset produces the comparison dataset proper. Validation runs
// after the resilient call returns, so a malformed response is permanent
// and never retried.
func (p *Pipeline) compareDataset(ctx context.Context, req CompareRequest, docA, docB source.Document) (model.Dataset, string, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	normA, err := parse.Normalize(docA.Data, docA.Kind)
	if err != nil {
		return model.Dataset{}, "", usage, err
	}
	normB, err := parse.Normalize(docB.Data, docB.Kind)
	if err != nil {
		return model.Dataset{}, "", usage, err
	}

	creq := extract.BuildComparison(req.Scenario, req.YearA, req.YearB,
		normA.PromptText(), normB.PromptText(), req.Reasoning)

	raw, usage, err := p.callModel(ctx, "compare", creq)
	if err != nil {
		return model.Dataset{}, "", usage, err
	}

	metrics, preamble, err := extract.ValidateComparison(raw, req.YearA, req.YearB)
	if err != nil {
		return model.Dataset{}, "", usage, err
	}
	if preamble != "" {
		zap.L().Debug("pipeline: reasoning preamble", zap.String("preamble", preamble))
	}

	return model.Dataset{
		Client:      req.Client,
		Scenario:    req.Scenario,
		YearALabel:  req.YearA,
		YearBLabel:  req.YearB,
		Metrics:     metrics,
		GeneratedAt: time.Now(),
	}, preamble, usage, nil
}
