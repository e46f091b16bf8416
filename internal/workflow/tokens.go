// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"math"
	"time"
)

// TokenUsage records driver-reported token counts for one agent invocation.
// Counts are taken verbatim from the driver; the core only does the cost
// arithmetic.
type TokenUsage struct {
	WorkflowID       string    `json:"workflow_id"`
	Agent            string    `json:"agent"`
	Model            string    `json:"model"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}

// ModelPricing holds per-million-token USD rates for one model.
type ModelPricing struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// DefaultModel is the pricing fallback for unknown model ids.
const DefaultModel = "claude-sonnet-4-5"

var pricingTable = map[string]ModelPricing{
	"claude-opus-4-1": {
		InputPerMillion:      15.00,
		OutputPerMillion:     75.00,
		CacheReadPerMillion:  1.50,
		CacheWritePerMillion: 18.75,
	},
	"claude-sonnet-4-5": {
		InputPerMillion:      3.00,
		OutputPerMillion:     15.00,
		CacheReadPerMillion:  0.30,
		CacheWritePerMillion: 3.75,
	},
	"claude-haiku-4-5": {
		InputPerMillion:      1.00,
		OutputPerMillion:     5.00,
		CacheReadPerMillion:  0.10,
		CacheWritePerMillion: 1.25,
	},
}

// PricingFor returns the pricing for a model id, falling back to the
// default model when the id is unknown.
func PricingFor(model string) ModelPricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return pricingTable[DefaultModel]
}

// CalculateCost computes the USD cost of a usage record, rounded to six
// decimals. Cache-read tokens are billed at the cache-read rate instead of
// the input rate; the uncached input portion never goes below zero.
func CalculateCost(u TokenUsage) float64 {
	p := PricingFor(u.Model)

	uncachedInput := u.InputTokens - u.CacheReadTokens
	if uncachedInput < 0 {
		uncachedInput = 0
	}

	cost := float64(uncachedInput)*p.InputPerMillion +
		float64(u.CacheReadTokens)*p.CacheReadPerMillion +
		float64(u.CacheWriteTokens)*p.CacheWritePerMillion +
		float64(u.OutputTokens)*p.OutputPerMillion
	cost /= 1_000_000

	return math.Round(cost*1e6) / 1e6
}
