// Package anthropic wraps the official SDK behind the narrow message API the
// extraction flows need, with prompt caching and cost attribution.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the extraction collaborator surface.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest describes one Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt segment, optionally cache-marked.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl marks a block as a cache breakpoint.
type CacheControl struct {
	TTL string // "5m" unless set to "1h"
}

// Message is one conversational turn.
type Message struct {
	Role    string // user or assistant
	Content string
}

// MessageResponse is the decoded reply.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string
}

// ContentBlock is one reply segment.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage is the per-call token accounting.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

type price struct {
	in, out float64 // $/MTok
}

var modelPricing = map[string]price{
	"claude-haiku-4-5-20251001":  {in: 0.80, out: 4.00},
	"claude-sonnet-4-5-20250929": {in: 3.00, out: 15.00},
}

// Cache writes bill at a surcharge on the input rate, reads at a discount.
const (
	cacheWriteRate = 1.25
	cacheReadRate  = 0.1
)

// EstimateCost prices the usage in USD, zero for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	perMTok := func(n int64, rate float64) float64 {
		return float64(n) / 1e6 * rate
	}
	return perMTok(u.InputTokens, p.in) +
		perMTok(u.OutputTokens, p.out) +
		perMTok(u.CacheCreationInputTokens, p.in*cacheWriteRate) +
		perMTok(u.CacheReadInputTokens, p.in*cacheReadRate)
}

// LogCost emits one structured usage line for the phase.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("anthropic usage",
		zap.String("phase", phase),
		zap.String("model", model),
		zap.Float64("est_cost_usd", u.EstimateCost(model)),
		zap.Int64("in_tokens", u.InputTokens),
		zap.Int64("out_tokens", u.OutputTokens),
		zap.Int64("cache_written", u.CacheCreationInputTokens),
		zap.Int64("cache_read", u.CacheReadInputTokens),
	)
}

type messagesClient struct {
	sdk sdk.Client
}

// NewClient builds a Client over the official SDK.
func NewClient(apiKey string) Client {
	return &messagesClient{sdk: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (c *messagesClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  encodeMessages(req.Messages),
		System:    encodeSystem(req.System),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: send message")
	}
	return decodeMessage(msg), nil
}

func encodeMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content))
			continue
		}
		out[i] = sdk.NewUserMessage(sdk.NewTextBlock(m.Content))
	}
	return out
}

func encodeSystem(blocks []SystemBlock) []sdk.TextBlockParam {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i].Text = b.Text
		if b.CacheControl == nil {
			continue
		}
		cc := sdk.NewCacheControlEphemeralParam()
		if ttl := b.CacheControl.TTL; ttl != "" {
			cc.TTL = sdk.CacheControlEphemeralTTL(ttl)
		}
		out[i].CacheControl = cc
	}
	return out
}

func decodeMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	resp.Content = make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
