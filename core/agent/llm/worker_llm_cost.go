package llm

import (
	"sync"
	"time"
)

// USD per million tokens.
type price struct{ in, out float64 }

var pricing = map[string]price{
	"gpt-4o-mini": {in: 0.15, out: 0.60},
	"gpt-4o":      {in: 2.50, out: 10.00},
}

// CalculateCost estimates the spend for one call; unknown models cost zero.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	p := pricing[model]
	return (float64(promptTokens)*p.in + float64(completionTokens)*p.out) / 1e6
}

type CostStats struct {
	TotalCost         float64          `json:"total_cost"`
	TotalTokens       int64            `json:"total_tokens"`
	RequestCount      int64            `json:"request_count"`
	AvgCostPerRequest float64          `json:"avg_cost_per_request"`
	TodayCost         float64          `json:"today_cost"`
	ModelTokens       map[string]int64 `json:"model_tokens"`
}

// CostTracker accumulates oracle spend since process start. Only the
// current UTC day's subtotal is kept.
type CostTracker struct {
	mu    sync.Mutex
	now   func() time.Time
	stats CostStats
	day   string
}

func NewCostTracker() *CostTracker {
	return &CostTracker{
		now:   time.Now,
		stats: CostStats{ModelTokens: map[string]int64{}},
	}
}

// rollDay resets TodayCost when the UTC date changed. Caller holds mu.
func (t *CostTracker) rollDay() {
	if today := t.now().UTC().Format(time.DateOnly); today != t.day {
		t.day = today
		t.stats.TodayCost = 0
	}
}

// Track records one call and returns its cost.
func (t *CostTracker) Track(model string, promptTokens, completionTokens int) float64 {
	cost := CalculateCost(model, promptTokens, completionTokens)
	tokens := int64(promptTokens + completionTokens)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()
	t.stats.TotalCost += cost
	t.stats.TodayCost += cost
	t.stats.TotalTokens += tokens
	t.stats.RequestCount++
	t.stats.ModelTokens[model] += tokens
	return cost
}

func (t *CostTracker) GetStats() CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()

	out := t.stats
	out.ModelTokens = make(map[string]int64, len(t.stats.ModelTokens))
	for m, n := range t.stats.ModelTokens {
		out.ModelTokens[m] = n
	}
	if out.RequestCount > 0 {
		out.AvgCostPerRequest = out.TotalCost / float64(out.RequestCount)
	}
	return out
}
