package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestNormalizeKeywords(t *testing.T) {
	got := NormalizeKeywords([]string{"Refund", " refund", "RETURN", "", "price"})
	want := []string{"refund", "return", "price"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeKeywords() = %v, want %v", got, want)
	}
}

func TestPatternNormalizeClamps(t *testing.T) {
	tests := []struct {
		name           string
		confidence     float64
		successRate    float64
		wantConfidence float64
		wantSuccess    float64
	}{
		{"in range", 0.5, 0.7, 0.5, 0.7},
		{"below floor", 0.01, -0.2, 0.1, 0},
		{"above ceiling", 1.7, 1.3, 1.0, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pattern{ConfidenceScore: tt.confidence, SuccessRate: tt.successRate}
			p.Normalize()
			if p.ConfidenceScore != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", p.ConfidenceScore, tt.wantConfidence)
			}
			if p.SuccessRate != tt.wantSuccess {
				t.Errorf("successRate = %v, want %v", p.SuccessRate, tt.wantSuccess)
			}
		})
	}
}

func TestPatternCloneDoesNotAlias(t *testing.T) {
	now := time.Now()
	p := &Pattern{TriggerKeywords: []string{"a"}, LastUsedAt: &now, ExamplePairs: []ExamplePair{{Question: "q"}}}
	c := p.Clone()
	c.TriggerKeywords[0] = "b"
	c.ExamplePairs[0].Question = "changed"
	*c.LastUsedAt = now.Add(time.Hour)

	if p.TriggerKeywords[0] != "a" || p.ExamplePairs[0].Question != "q" || !p.LastUsedAt.Equal(now) {
		t.Error("clone shares state with original")
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice@Example.com", "@example.com"},
		{"Alice Smith <Alice@Corp.io>", "@corp.io"},
		{"no-at-sign", ""},
	}
	for _, tt := range tests {
		if got := SenderDomain(tt.in); got != tt.want {
			t.Errorf("SenderDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDraftEntryExpired(t *testing.T) {
	now := time.Now()
	e := &DraftCacheEntry{ExpiresAt: now.Add(time.Minute)}
	if e.Expired(now) {
		t.Error("fresh entry reported expired")
	}
	if !e.Expired(now.Add(2 * time.Minute)) {
		t.Error("stale entry reported fresh")
	}
}

func TestNudgeSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		rate      float64
		succeeded bool
		step      float64
		want      float64
	}{
		{"success pulls up", 0.8, true, 0.1, 0.82},
		{"failure pulls down", 0.8, false, 0.1, 0.72},
		{"zero step keeps rate", 0.5, false, 0, 0.5},
		{"full step jumps to outcome", 0.3, true, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NudgeSuccessRate(tt.rate, tt.succeeded, tt.step)
			if d := got - tt.want; d > 1e-9 || d < -1e-9 {
				t.Errorf("NudgeSuccessRate(%v, %v, %v) = %v, want %v", tt.rate, tt.succeeded, tt.step, got, tt.want)
			}
		})
	}
}
