package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/compare"
	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/source"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
	"github.com/sells-group/taxcomp-cli/pkg/taxapi"
)

// ParamsRequest describes one single-document parameter extraction run.
type ParamsRequest struct {
	// Document references the prior-year record as a local path, http(s)
	// URL, or ftp URL.
	Document string

	// Kind forces the document kind; when empty it is inferred from the
	// reference's extension.
	Kind parse.Kind

	Client   string
	Scenario string

	// YearA labels the documented (previous) period, YearB the calculated
	// (current) one. The reconciliation payload may override both.
	YearA string
	YearB string

	// FallbackSample substitutes the sample dataset when extraction fails
	// recoverably, instead of failing the run.
	FallbackSample bool

	// OutputDir overrides the configured artifact directory.
	OutputDir string
}

func (r *ParamsRequest) defaults() {
	if r.YearA == "" {
		r.YearA = "Previous Year"
	}
	if r.YearB == "" {
		r.YearB = "Current Year"
	}
}

// ExtractParams runs the single-document flow: pull the filing parameters
// out of the document, have the calculator compute the current year,
// backfill premium-gated fields when needed, then reconcile the documented
// year against the calculation and run the shared render-and-record tail.
func (p *Pipeline) ExtractParams(ctx context.Context, req ParamsRequest) (*Result, error) {
	req.defaults()

	doc, err := p.materialize(ctx, req.Document, req.Kind)
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, model.RunKindParams, req.Client, inputDigest(doc.Data))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(model.RunKindParams)))
	log.Info("pipeline: run started",
		zap.String("document", req.Document),
		zap.String("client", req.Client),
	)
	p.setStatus(ctx, run.ID, model.RunStatusRunning)

	ds, usage, err := p.paramsDataset(ctx, req, doc)
	fellBack := false
	if err != nil {
		if !req.FallbackSample || !recoverable(err) {
			p.failRun(ctx, run.ID, err)
			return nil, err
		}
		log.Warn("pipeline: substituting sample dataset", zap.Error(err))
		ds, fellBack = fallbackDataset(req.Client), true
	}

	res, err := p.finalize(ctx, run.ID, ds, "", req.OutputDir, fellBack)
	if err != nil {
		return nil, err
	}
	res.Usage = usage
	return res, nil
}

// paramsDataset produces the reconciliation dataset: parameter extraction,
// calculation, optional backfill, then the two-source reconciliation.
func (p *Pipeline) paramsDataset(ctx context.Context, req ParamsRequest, doc source.Document) (model.Dataset, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	norm, err := parse.Normalize(doc.Data, doc.Kind)
	if err != nil {
		return model.Dataset{}, usage, err
	}
	record := norm.PromptText()

	raw, u, err := p.callModel(ctx, "params", extract.BuildParameters(record))
	usage = addUsage(usage, u)
	if err != nil {
		return model.Dataset{}, usage, err
	}
	params, err := extract.ValidateParameters(raw)
	if err != nil {
		return model.Dataset{}, usage, err
	}
	zap.L().Info("pipeline: parameters extracted",
		zap.String("country", params.Country),
		zap.String("region", params.Region),
		zap.String("filing_status", params.FilingStatus),
	)

	calc, err := p.callCalculator(ctx, taxapi.CalculationRequest{
		Country:      params.Country,
		Region:       params.Region,
		Income:       params.CleanIncome(),
		FilingStatus: params.FilingStatus,
	})
	if err != nil {
		return model.Dataset{}, usage, err
	}

	if calc.HasPremiumPlaceholders() {
		calc, usage = p.backfill(ctx, params, calc, usage)
	}

	rraw, u, err := p.callModel(ctx, "reconcile",
		extract.BuildReconcile(req.Client, req.YearA, req.YearB, record, calculationText(calc)))
	usage = addUsage(usage, u)
	if err != nil {
		return model.Dataset{}, usage, err
	}
	recon, err := extract.ValidateReconciliation(rraw)
	if err != nil {
		return model.Dataset{}, usage, err
	}

	ds, err := compare.BuildDataset(recon, req.Client, req.Scenario, req.YearA, req.YearB)
	if err != nil {
		return model.Dataset{}, usage, err
	}
	ds.GeneratedAt = time.Now()
	return ds, usage, nil
}

// backfill replaces the calculator's premium-gated placeholder fields with
// collaborator estimates. Only gated fields are replaced; a populated
// field is never overwritten, whatever the collaborator returned. Any
// failure degrades to the partial calculation.
func (p *Pipeline) backfill(ctx context.Context, params model.TaxParameters, calc taxapi.Result, usage anthropic.TokenUsage) (taxapi.Result, anthropic.TokenUsage) {
	gated := calc.GatedFields()
	zap.L().Info("pipeline: calculation is premium-gated, backfilling",
		zap.Strings("fields", gated))

	raw, u, err := p.callModel(ctx, "backfill", extract.BuildBackfill(params, calc))
	usage = addUsage(usage, u)
	if err != nil {
		zap.L().Warn("pipeline: backfill failed, keeping partial calculation", zap.Error(err))
		return calc, usage
	}
	filled, err := extract.ValidateBackfill(raw)
	if err != nil {
		zap.L().Warn("pipeline: backfill response rejected, keeping partial calculation", zap.Error(err))
		return calc, usage
	}

	merged := make(taxapi.Result, len(calc)+1)
	for k, v := range calc {
		merged[k] = v
	}
	for _, field := range gated {
		if v, ok := filled[field]; ok {
			merged[field] = v
		}
	}
	if note, ok := filled["note"]; ok {
		merged["note"] = note
	}
	return merged, usage
}

// calculationText serializes the calculator result for the reconcile
// prompt, indented the same way normalized records are.
func calculationText(calc taxapi.Result) string {
	b, err := json.MarshalIndent(calc, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(calc))
	}
	return string(b)
}
