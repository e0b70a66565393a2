package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxcomp-cli/internal/config"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
)

// testConfig returns a config tuned for fast tests: one attempt per
// collaborator call and a throwaway artifact directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 4096, Temperature: 0.1},
		Output:    config.OutputConfig{Dir: t.TempDir()},
		Retry:     config.RetrySettings{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 2, Multiplier: 2},
		Circuit:   config.CircuitSettings{FailureThreshold: 5, ResetTimeoutSecs: 60},
	}
}

// writeDoc drops content into dir under name and returns the full path.
func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// textResponse wraps text in a single-block collaborator response.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 120, OutputTokens: 40},
	}
}
