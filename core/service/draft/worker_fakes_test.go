package draft

import (
	"context"
	"sync"
	"time"

	"pattern_worker/adapter/out/persistence"
	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/common"
	"pattern_worker/core/service/pattern"

	"github.com/google/uuid"
)

type scriptedOracle struct {
	mu    sync.Mutex
	calls []out.OracleRequest
	fn    func(req out.OracleRequest) (string, error)
}

func (o *scriptedOracle) Generate(_ context.Context, req out.OracleRequest) (*out.OracleResponse, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	o.mu.Unlock()

	text, err := o.fn(req)
	if err != nil {
		return nil, err
	}
	return &out.OracleResponse{Text: text, TokensUsed: 10}, nil
}

func (o *scriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *scriptedOracle) Tiers() []out.ModelTier {
	o.mu.Lock()
	defer o.mu.Unlock()
	tiers := make([]out.ModelTier, 0, len(o.calls))
	for _, c := range o.calls {
		tiers = append(tiers, c.Tier)
	}
	return tiers
}

type memoryDrafts struct {
	mu      sync.Mutex
	entries map[string]*domain.DraftCacheEntry
	saves   int
}

func newMemoryDrafts() *memoryDrafts {
	return &memoryDrafts{entries: make(map[string]*domain.DraftCacheEntry)}
}

func (m *memoryDrafts) GetDraft(_ context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key.String()], nil
}

func (m *memoryDrafts) SaveDraft(_ context.Context, e *domain.DraftCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.entries[e.Key().String()] = e
	return nil
}

type harness struct {
	store    *persistence.MemoryPatternAdapter
	drafts   *memoryDrafts
	memory   *common.L1DraftCache
	cache    *common.HybridDraftCache
	oracle   *scriptedOracle
	selector *Selector
	userID   uuid.UUID
}

func newHarness(fn func(req out.OracleRequest) (string, error)) *harness {
	h := &harness{
		store:  persistence.NewMemoryPatternAdapter(),
		drafts: newMemoryDrafts(),
		memory: common.NewL1DraftCache(nil),
		oracle: &scriptedOracle{fn: fn},
		userID: uuid.New(),
	}
	h.cache = common.NewHybridDraftCache(h.memory, nil, time.Hour, nil)
	h.selector = NewSelector(SelectorDeps{
		Cache:     h.cache,
		Drafts:    h.drafts,
		Store:     h.store,
		Matcher:   pattern.NewMatcher(),
		Generator: NewGenerator(h.oracle, DefaultGeneratorConfig()),
	}, DefaultSelectorConfig())
	return h
}

func (h *harness) close() {
	h.memory.Close()
}

// seedRefundPattern stores a pattern that scores well above the match threshold for refundEmail.
func (h *harness) seedRefundPattern() *domain.Pattern {
	p := &domain.Pattern{
		UserID:           h.userID,
		PatternType:      domain.PatternQuestionResponse,
		ContextCategory:  domain.CategoryCustomerInquiry,
		TriggerKeywords:  []string{"refund", "return"},
		ResponseTemplate: "Hi {name}, your refund is on its way.",
		ConfidenceScore:  0.9,
		SuccessRate:      0.8,
	}
	if err := h.store.UpsertPattern(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

func (h *harness) email(id string) domain.Email {
	return domain.Email{
		ID:      id,
		UserID:  h.userID,
		From:    "Ann <ann@shop.example>",
		Subject: "Refund",
		Body:    "Hi, I want to return my order and get a refund.",
	}
}

func reply(text string) func(out.OracleRequest) (string, error) {
	return func(out.OracleRequest) (string, error) { return text, nil }
}
