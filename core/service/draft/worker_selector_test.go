package draft

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
)

func TestSelectPatternPath(t *testing.T) {
	h := newHarness(reply("Hi Ann, your refund is on its way."))
	defer h.close()
	p := h.seedRefundPattern()
	ctx := context.Background()

	res := h.selector.Select(ctx, domain.DraftRequest{Email: h.email("m1")})
	if !res.Success || res.Source != domain.SourcePattern {
		t.Fatalf("result = %+v, want pattern success", res)
	}
	// 0.4*1 + 0.3*0.9 + 0.2*0.8 + 0.1*0
	if math.Abs(res.Draft.ConfidenceScore-0.83) > 1e-9 {
		t.Errorf("confidence = %v, want the match score 0.83", res.Draft.ConfidenceScore)
	}
	if res.Draft.FallbackGeneration {
		t.Error("pattern draft flagged as fallback")
	}
	if len(res.Draft.MatchedPatternIDs) != 1 || res.Draft.MatchedPatternIDs[0] != p.ID {
		t.Errorf("MatchedPatternIDs = %v", res.Draft.MatchedPatternIDs)
	}
	if res.Draft.Subject != "Re: Refund" {
		t.Errorf("Subject = %q", res.Draft.Subject)
	}
	if tiers := h.oracle.Tiers(); len(tiers) != 1 || tiers[0] != out.TierMini {
		t.Errorf("oracle tiers = %v, want one mini call", tiers)
	}
	if want := "cache_lookup>stored_lookup>pattern_match>persist>done"; strings.Join(res.Trace, ">") != want {
		t.Errorf("trace = %v", res.Trace)
	}

	stored, _ := h.store.GetPattern(ctx, h.userID, p.ID)
	if stored.UsageCount != 1 || stored.LastUsedAt == nil || math.Abs(stored.SuccessRate-0.82) > 1e-9 {
		t.Errorf("usage not recorded: usage %d rate %v", stored.UsageCount, stored.SuccessRate)
	}
	if h.drafts.saves != 1 {
		t.Errorf("stored draft saves = %d, want 1", h.drafts.saves)
	}

	again := h.selector.Select(ctx, domain.DraftRequest{Email: h.email("m1")})
	if !again.Success || again.Source != domain.SourceMemoryCache {
		t.Errorf("second call source = %q, want memory cache", again.Source)
	}
	if h.oracle.Calls() != 1 {
		t.Errorf("cache hit must not call the oracle, calls = %d", h.oracle.Calls())
	}
}

func TestSelectFallbackWhenNoMatch(t *testing.T) {
	h := newHarness(reply("```\nThanks, I will look into it.\n```"))
	defer h.close()

	res := h.selector.Select(context.Background(), domain.DraftRequest{Email: h.email("m1")})
	if !res.Success || res.Source != domain.SourceFallback {
		t.Fatalf("result = %+v, want fallback success", res)
	}
	if res.Draft.ConfidenceScore != 0.6 || !res.Draft.FallbackGeneration {
		t.Errorf("draft = %+v", res.Draft)
	}
	if res.Draft.Body != "Thanks, I will look into it." {
		t.Errorf("Body = %q, fences should be stripped", res.Draft.Body)
	}
	if tiers := h.oracle.Tiers(); len(tiers) != 1 || tiers[0] != out.TierStandard {
		t.Errorf("oracle tiers = %v, want one standard call", tiers)
	}
}

func TestSelectNeverFailsHardWhenOracleFailsTwice(t *testing.T) {
	h := newHarness(func(out.OracleRequest) (string, error) { return "", errors.New("upstream timeout") })
	defer h.close()
	p := h.seedRefundPattern()
	ctx := context.Background()
	email := h.email("m1")

	res := h.selector.Select(ctx, domain.DraftRequest{Email: email})
	if res.Success {
		t.Fatal("expected success=false")
	}
	if res.Draft == nil || res.Source != domain.SourceMinimal {
		t.Fatalf("expected the acknowledgement draft, got %+v", res)
	}
	if res.Draft.ConfidenceScore != 0.3 || !res.Draft.FallbackGeneration {
		t.Errorf("draft = %+v", res.Draft)
	}
	if res.Draft.Body != AcknowledgementBody(email) {
		t.Errorf("Body = %q", res.Draft.Body)
	}
	if !strings.Contains(res.Error, "upstream timeout") {
		t.Errorf("Error = %q, want the oracle error", res.Error)
	}
	if h.oracle.Calls() != 2 {
		t.Errorf("oracle calls = %d, want pattern + fallback", h.oracle.Calls())
	}
	if want := "cache_lookup>stored_lookup>pattern_match>fallback_generation>minimal_draft>failed"; strings.Join(res.Trace, ">") != want {
		t.Errorf("trace = %v", res.Trace)
	}

	if got, _ := h.cache.Get(ctx, domain.DraftKey{EmailID: "m1", UserID: h.userID}); got != nil {
		t.Error("acknowledgement drafts must not be cached")
	}
	if h.drafts.saves != 0 {
		t.Error("acknowledgement drafts must not be stored")
	}
	stored, _ := h.store.GetPattern(ctx, h.userID, p.ID)
	if math.Abs(stored.SuccessRate-0.72) > 1e-9 {
		t.Errorf("failed pattern generation should record outcome 0, rate = %v", stored.SuccessRate)
	}
}

func TestSelectStoredDraftReprimesCache(t *testing.T) {
	h := newHarness(reply("unused"))
	defer h.close()
	ctx := context.Background()
	email := h.email("m1")

	stored := &domain.DraftCacheEntry{
		EmailID:   email.ID,
		UserID:    email.UserID,
		Body:      "stored body",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	_ = h.drafts.SaveDraft(ctx, stored)

	res := h.selector.Select(ctx, domain.DraftRequest{Email: email})
	if !res.Success || res.Source != domain.SourceStoredDraft || res.Draft.Body != "stored body" {
		t.Fatalf("result = %+v, want stored draft", res)
	}
	if got, source := h.cache.Get(ctx, stored.Key()); got == nil || source != domain.SourceMemoryCache {
		t.Error("stored draft should re-prime the memory cache")
	}
	if h.oracle.Calls() != 0 {
		t.Error("stored draft must not call the oracle")
	}
}

func TestSelectIgnoresExpiredStoredDraft(t *testing.T) {
	h := newHarness(reply("fresh reply"))
	defer h.close()
	ctx := context.Background()
	email := h.email("m1")
	_ = h.drafts.SaveDraft(ctx, &domain.DraftCacheEntry{
		EmailID: email.ID, UserID: email.UserID, Body: "old", ExpiresAt: time.Now().Add(-time.Minute),
	})

	res := h.selector.Select(ctx, domain.DraftRequest{Email: email})
	if res.Source != domain.SourceFallback || res.Draft.Body != "fresh reply" {
		t.Errorf("result = %+v, want regenerated draft", res)
	}
}

func TestSelectForceSkipsLookups(t *testing.T) {
	h := newHarness(reply("regenerated"))
	defer h.close()
	ctx := context.Background()
	email := h.email("m1")

	h.cache.Put(ctx, &domain.DraftCacheEntry{EmailID: email.ID, UserID: email.UserID, Body: "cached"})

	res := h.selector.Select(ctx, domain.DraftRequest{Email: email, Force: true})
	if !res.Success || res.Draft.Body != "regenerated" {
		t.Fatalf("result = %+v, want regenerated draft", res)
	}
	if res.Trace[0] != string(StatePatternMatch) {
		t.Errorf("trace = %v, forced runs start at pattern_match", res.Trace)
	}
	if got, _ := h.cache.Get(ctx, email2key(email)); got == nil || got.Body != "regenerated" {
		t.Error("forced draft should supersede the cached entry")
	}
}

func TestSelectInvalidInput(t *testing.T) {
	h := newHarness(reply("unused"))
	defer h.close()

	valid := h.email("m1")
	tests := []struct {
		name  string
		email domain.Email
	}{
		{"missing id", func() domain.Email { e := valid; e.ID = ""; return e }()},
		{"missing user", func() domain.Email { e := valid; e.UserID = [16]byte{}; return e }()},
		{"no content", func() domain.Email { e := valid; e.Subject, e.Body = "", " "; return e }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.selector.Select(context.Background(), domain.DraftRequest{Email: tt.email})
			if res.Success || res.Draft != nil || res.Error == "" {
				t.Errorf("result = %+v, want failure without a draft", res)
			}
		})
	}
	if h.oracle.Calls() != 0 {
		t.Error("invalid input must not reach the oracle")
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Invoice", "Re: Invoice"},
		{"RE: Invoice", "RE: Invoice"},
		{"", "Re:"},
	}
	for _, tt := range tests {
		if got := ReplySubject(tt.in); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func email2key(e domain.Email) domain.DraftKey {
	return domain.DraftKey{EmailID: e.ID, UserID: e.UserID}
}
