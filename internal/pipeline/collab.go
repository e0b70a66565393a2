package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/resilience"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
	"github.com/sells-group/taxcomp-cli/pkg/taxapi"
)

// Service names used for circuit breakers, retry logs, and error wrapping.
const (
	ServiceAnthropic = "anthropic"
	ServiceTaxAPI    = "taxapi"
)

// CollaboratorError means a call to an external service failed after
// retries, or was short-circuited by an open breaker. Distinct from the
// extraction validation errors: the service could not be reached or
// refused the call; nothing about a payload was wrong.
type CollaboratorError struct {
	Service string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Service, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// callModel sends one extraction request through the rate limiter, the
// retry wrapper, and the anthropic circuit breaker, and returns the
// response text. Retries cover transient failures only; the response
// contract is checked by the caller afterwards and is never retried.
func (p *Pipeline) callModel(ctx context.Context, phase string, req extract.Request) (string, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	maxTokens := int64(req.MaxTokens)
	if p.cfg.Anthropic.MaxTokens > 0 {
		maxTokens = int64(p.cfg.Anthropic.MaxTokens)
	}
	temperature := req.Temperature
	if p.cfg.Anthropic.Temperature > 0 {
		temperature = p.cfg.Anthropic.Temperature
	}

	system := []anthropic.SystemBlock{{Text: req.System}}
	if p.cacheSystem {
		system = anthropic.BuildCachedSystemBlocks(req.System)
	}

	mreq := anthropic.MessageRequest{
		Model:       p.cfg.Anthropic.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: &temperature,
	}

	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(ServiceAnthropic, phase)

	start := time.Now()
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, p.breakers.Get(ServiceAnthropic), func(ctx context.Context) (*anthropic.MessageResponse, error) {
			if err := p.wait(ctx); err != nil {
				return nil, err
			}
			return p.ai.CreateMessage(ctx, mreq)
		})
	})
	if err != nil {
		return "", usage, &CollaboratorError{Service: ServiceAnthropic, Err: err}
	}

	usage = resp.Usage
	usage.LogCost(p.cfg.Anthropic.Model, phase)

	text := responseText(resp)
	zap.L().Debug("pipeline: collaborator response",
		zap.String("phase", phase),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)),
		zap.String("stop_reason", resp.StopReason),
	)
	return text, usage, nil
}

// callCalculator submits one calculation through the same limiter, retry,
// and breaker treatment as the extraction collaborator.
func (p *Pipeline) callCalculator(ctx context.Context, creq taxapi.CalculationRequest) (taxapi.Result, error) {
	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(ServiceTaxAPI, "calculate")

	result, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (taxapi.Result, error) {
		return resilience.ExecuteVal(ctx, p.breakers.Get(ServiceTaxAPI), func(ctx context.Context) (taxapi.Result, error) {
			if err := p.wait(ctx); err != nil {
				return nil, err
			}
			return p.calc.Calculate(ctx, creq)
		})
	})
	if err != nil {
		return nil, &CollaboratorError{Service: ServiceTaxAPI, Err: err}
	}

	zap.L().Debug("pipeline: calculation received",
		zap.String("country", creq.Country),
		zap.String("region", creq.Region),
		zap.Int("fields", len(result)),
	)
	return result, nil
}

// WarmCache sends one primer request so the cached comparison system
// prompt is written before a batch fans out. No-op unless WithPromptCache
// was set.
func (p *Pipeline) WarmCache(ctx context.Context) error {
	if !p.cacheSystem {
		return nil
	}
	if err := p.wait(ctx); err != nil {
		return &CollaboratorError{Service: ServiceAnthropic, Err: err}
	}

	req := extract.BuildComparison("", "2023", "2024", "", "", false)
	_, err := anthropic.PrimerRequest(ctx, p.ai, anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.Model,
		MaxTokens: 16,
		System:    anthropic.BuildCachedSystemBlocks(req.System),
		Messages:  []anthropic.Message{{Role: "user", Content: "ok"}},
	})
	if err != nil {
		return &CollaboratorError{Service: ServiceAnthropic, Err: err}
	}
	return nil
}

// wait blocks on the shared rate limiter when one is configured.
func (p *Pipeline) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// responseText concatenates the text content blocks of a response.
func responseText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		b.WriteString(block.Text)
	}
	return b.String()
}

func addUsage(a, b anthropic.TokenUsage) anthropic.TokenUsage {
	a.InputTokens += b.InputTokens
	a.OutputTokens += b.OutputTokens
	a.CacheCreationInputTokens += b.CacheCreationInputTokens
	a.CacheReadInputTokens += b.CacheReadInputTokens
	return a
}
