package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// cacheTTL keeps the extraction system prompt warm across a whole batch
// fan-out, not just one comparison.
const cacheTTL = "1h"

// BuildCachedSystemBlocks wraps prompt text in a single system block marked
// as a cache breakpoint. Every extraction in a run shares the same system
// prompt, so one write funds cache reads for the rest.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: cacheTTL},
	}}
}

// PrimerRequest warms the prompt cache with one sequential call before the
// concurrent extractions go out. Callers usually discard the response.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
