package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name  string
		usage TokenUsage
		want  float64
	}{
		{
			name:  "zero usage costs nothing",
			usage: TokenUsage{Model: "claude-sonnet-4-5"},
			want:  0,
		},
		{
			name: "sonnet input and output",
			usage: TokenUsage{
				Model:        "claude-sonnet-4-5",
				InputTokens:  1_000_000,
				OutputTokens: 1_000_000,
			},
			want: 18.00,
		},
		{
			name: "cache reads billed at cache rate",
			usage: TokenUsage{
				Model:           "claude-sonnet-4-5",
				InputTokens:     1_000_000,
				CacheReadTokens: 400_000,
			},
			// 600k uncached at $3/M plus 400k cached at $0.30/M.
			want: 1.92,
		},
		{
			name: "cache reads exceeding input clamp to zero uncached",
			usage: TokenUsage{
				Model:           "claude-sonnet-4-5",
				InputTokens:     100_000,
				CacheReadTokens: 500_000,
			},
			want: 0.15,
		},
		{
			name: "unknown model falls back to default pricing",
			usage: TokenUsage{
				Model:       "some-future-model",
				InputTokens: 1_000_000,
			},
			want: 3.00,
		},
		{
			name: "opus rates",
			usage: TokenUsage{
				Model:        "claude-opus-4-1",
				InputTokens:  100_000,
				OutputTokens: 100_000,
			},
			want: 9.00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateCost(tt.usage), 1e-9)
		})
	}
}

func TestPricingForFallback(t *testing.T) {
	assert.Equal(t, PricingFor(DefaultModel), PricingFor("nonexistent-model"))
}

func TestCalculateCostNeverNegative(t *testing.T) {
	models := []string{"claude-opus-4-1", "claude-sonnet-4-5", "claude-haiku-4-5", "unknown"}

	rapid.Check(t, func(t *rapid.T) {
		u := TokenUsage{
			Model:            models[rapid.IntRange(0, len(models)-1).Draw(t, "model")],
			InputTokens:      rapid.Int64Range(0, 10_000_000).Draw(t, "input"),
			OutputTokens:     rapid.Int64Range(0, 10_000_000).Draw(t, "output"),
			CacheReadTokens:  rapid.Int64Range(0, 10_000_000).Draw(t, "cache_read"),
			CacheWriteTokens: rapid.Int64Range(0, 10_000_000).Draw(t, "cache_write"),
		}
		if cost := CalculateCost(u); cost < 0 {
			t.Fatalf("negative cost %f for %+v", cost, u)
		}
	})
}
