package model

import (
	"sync"
	"time"
)

// Pricing is the cost of a model in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing covers the models the bundled adapters default to. Unknown
// models are recorded at zero cost.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Call is one recorded model invocation.
type Call struct {
	Model        string
	NodeID       string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and cost across model calls. It is
// safe for concurrent use. The zero value is not usable; call
// NewCostTracker.
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	calls   []Call
	total   float64
	byModel map[string]float64
	input   int64
	output  int64
	now     func() time.Time
}

// NewCostTracker returns a tracker using DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
		now:     time.Now,
	}
}

// SetPricing overrides the price of one model.
func (ct *CostTracker) SetPricing(model string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = p
}

// Record adds the usage of one reply and returns its cost.
func (ct *CostTracker) Record(nodeID string, out ChatOut) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[out.Model]
	cost := float64(out.Usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(out.Usage.OutputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, Call{
		Model:        out.Model,
		NodeID:       nodeID,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    ct.now(),
	})
	ct.total += cost
	ct.byModel[out.Model] += cost
	ct.input += int64(out.Usage.InputTokens)
	ct.output += int64(out.Usage.OutputTokens)
	return cost
}

// Total returns the cumulative cost in USD.
func (ct *CostTracker) Total() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// ByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) ByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Tokens returns the cumulative input and output token counts.
func (ct *CostTracker) Tokens() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.input, ct.output
}

// Calls returns a copy of the recorded calls in order.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]Call(nil), ct.calls...)
}

// Reset clears all recorded usage.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls = nil
	ct.total = 0
	ct.byModel = make(map[string]float64)
	ct.input, ct.output = 0, 0
}
