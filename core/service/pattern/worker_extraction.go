package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/pkg/logger"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// ExtractionItem is one email, or one email with the user's reply, to learn from.
type ExtractionItem struct {
	Subject string
	Sender  string
	Body    string
	Reply   string
	// OwnReply marks Body as text the user authored.
	OwnReply bool
}

// ItemFromPair builds an extraction item from a received email and its reply.
func ItemFromPair(pair domain.EmailPair) ExtractionItem {
	item := ExtractionItem{
		Subject: pair.Received.Subject,
		Sender:  pair.Received.From,
		Body:    CleanBody(pair.Received.Body),
	}
	if pair.HasResponse() {
		item.Reply = CleanBody(pair.Response.Body)
	}
	return item
}

// ItemFromEmail builds an extraction item from a single email.
func ItemFromEmail(email domain.Email) ExtractionItem {
	return ExtractionItem{
		Subject:  email.Subject,
		Sender:   email.From,
		Body:     CleanBody(email.Body),
		OwnReply: email.IsFromUser,
	}
}

func (i ExtractionItem) text() string {
	return i.Subject + "\n" + i.Body + "\n" + i.Reply
}

// =============================================================================
// Oracle output parsing
// =============================================================================

type rawPattern struct {
	Item             int      `json:"item"`
	PatternType      string   `json:"pattern_type"`
	ContextCategory  string   `json:"context_category"`
	TriggerKeywords  []string `json:"trigger_keywords"`
	TriggerPhrases   []string `json:"trigger_phrases"`
	ResponseTemplate string   `json:"response_template"`
	ConfidenceScore  *float64 `json:"confidence_score"`
	Formality        string   `json:"formality"`
	StyleNotes       string   `json:"style_notes"`
}

// ParseError is returned when oracle output is not the expected JSON shape.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed pattern output: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseResult is either a decoded pattern list or a ParseError, never both.
type ParseResult struct {
	patterns []rawPattern
	err      *ParseError
}

// Ok reports whether the output decoded.
func (r ParseResult) Ok() bool { return r.err == nil }

func (r ParseResult) Err() *ParseError { return r.err }

func (r ParseResult) Len() int { return len(r.patterns) }

func (r ParseResult) raw() []rawPattern { return r.patterns }

// ParsePatterns decodes oracle text into raw patterns after stripping fences.
// Both {"patterns":[...]} and a bare array are accepted.
func ParsePatterns(text string) ParseResult {
	body := StripFences(text)
	if body == "" {
		return ParseResult{err: &ParseError{Raw: text, Cause: errors.New("empty output")}}
	}

	if body[0] == '[' {
		var list []rawPattern
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return ParseResult{err: &ParseError{Raw: text, Cause: err}}
		}
		return ParseResult{patterns: list}
	}

	var envelope struct {
		Patterns *[]rawPattern `json:"patterns"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return ParseResult{err: &ParseError{Raw: text, Cause: err}}
	}
	if envelope.Patterns == nil {
		return ParseResult{err: &ParseError{Raw: text, Cause: errors.New(`missing "patterns" field`)}}
	}
	return ParseResult{patterns: *envelope.Patterns}
}

// =============================================================================
// Extractor
// =============================================================================

// ExtractorConfig tunes batching and validation.
type ExtractorConfig struct {
	BatchSize      int
	Concurrency    int
	MinConfidence  float64
	DedupThreshold float64
	BodyLimit      int
	Chunk          ChunkOptions
	MaxTokens      int
	Temperature    float64
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BatchSize:      3,
		Concurrency:    3,
		MinConfidence:  0.3,
		DedupThreshold: DefaultDedupThreshold,
		BodyLimit:      2000,
		Chunk:          DefaultChunkOptions(),
		MaxTokens:      1500,
		Temperature:    0.2,
	}
}

// ExtractStats reports how many oracle batches ran and how many yielded nothing usable.
type ExtractStats struct {
	Batches      int
	OracleFailed int
	ParseFailed  int
	Discarded    int
	Deduplicated int
}

// Extractor turns emails into candidate patterns through the oracle.
type Extractor struct {
	oracle out.Oracle
	cfg    ExtractorConfig
	now    func() time.Time
}

func NewExtractor(oracle out.Oracle, cfg ExtractorConfig) *Extractor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 2000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	return &Extractor{oracle: oracle, cfg: cfg, now: time.Now}
}

// WithBatchSize returns a copy of the extractor using another batch size.
func (e *Extractor) WithBatchSize(n int) *Extractor {
	c := *e
	if n > 0 {
		c.cfg.BatchSize = n
	}
	return &c
}

// Extract learns from one item. Long bodies are chunked, each chunk is
// extracted on its own and the combined result is deduplicated.
func (e *Extractor) Extract(ctx context.Context, item ExtractionItem, languageHint string) ([]*domain.Pattern, ExtractStats) {
	chunks := SplitChunks(item.Body, e.cfg.Chunk)
	if len(chunks) <= 1 {
		return e.ExtractBatch(ctx, []ExtractionItem{item}, languageHint)
	}

	if languageHint == "" {
		languageHint = DetectLanguage(item.text())
	}
	items := make([]ExtractionItem, len(chunks))
	for i, chunk := range chunks {
		items[i] = item
		items[i].Body = chunk
	}
	patterns, stats := e.ExtractBatch(ctx, items, languageHint)
	deduped := Dedupe(patterns, e.cfg.DedupThreshold)
	stats.Deduplicated = len(patterns) - len(deduped)
	return deduped, stats
}

type languageBatch struct {
	language string
	items    []ExtractionItem
}

// ExtractBatch groups items by language, prompts the oracle once per batch
// and returns every validated pattern in input order. Oracle and parse
// failures only cost the affected batch.
func (e *Extractor) ExtractBatch(ctx context.Context, items []ExtractionItem, languageHint string) ([]*domain.Pattern, ExtractStats) {
	batches := e.plan(items, languageHint)
	results := make([][]*domain.Pattern, len(batches))
	var (
		mu    sync.Mutex
		stats = ExtractStats{Batches: len(batches)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, b := range batches {
		g.Go(func() error {
			patterns, bs := e.runBatch(gctx, b)
			results[i] = patterns
			mu.Lock()
			stats.OracleFailed += bs.OracleFailed
			stats.ParseFailed += bs.ParseFailed
			stats.Discarded += bs.Discarded
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var all []*domain.Pattern
	for _, r := range results {
		all = append(all, r...)
	}
	return all, stats
}

func (e *Extractor) plan(items []ExtractionItem, languageHint string) []languageBatch {
	var (
		order   []string
		buckets = make(map[string][]ExtractionItem)
	)
	for _, item := range items {
		if strings.TrimSpace(item.Body) == "" && strings.TrimSpace(item.Reply) == "" {
			continue
		}
		lang := languageHint
		if lang == "" {
			lang = DetectLanguage(item.text())
		}
		if _, ok := buckets[lang]; !ok {
			order = append(order, lang)
		}
		buckets[lang] = append(buckets[lang], item)
	}

	var batches []languageBatch
	for _, lang := range order {
		group := buckets[lang]
		for start := 0; start < len(group); start += e.cfg.BatchSize {
			end := start + e.cfg.BatchSize
			if end > len(group) {
				end = len(group)
			}
			batches = append(batches, languageBatch{language: lang, items: group[start:end]})
		}
	}
	return batches
}

func (e *Extractor) runBatch(ctx context.Context, b languageBatch) ([]*domain.Pattern, ExtractStats) {
	var stats ExtractStats
	start := time.Now()

	resp, err := e.oracle.Generate(ctx, out.OracleRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   buildExtractionPrompt(b.items, b.language, e.cfg.BodyLimit),
		Tier:         out.TierMini,
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
		JSON:         true,
	})
	if err != nil {
		stats.OracleFailed++
		logger.WithError(err).WithFields(map[string]any{
			"language": b.language,
			"items":    len(b.items),
		}).Warn("[Extractor] oracle call failed, batch yields no patterns")
		return nil, stats
	}

	parsed := ParsePatterns(resp.Text)
	if !parsed.Ok() {
		stats.ParseFailed++
		logger.WithError(parsed.Err()).WithField("language", b.language).
			Warn("[Extractor] discarding malformed batch output")
		return nil, stats
	}

	patterns := make([]*domain.Pattern, 0, parsed.Len())
	for _, raw := range parsed.raw() {
		p, ok := e.validate(raw, b)
		if !ok {
			stats.Discarded++
			continue
		}
		patterns = append(patterns, p)
	}

	logger.WithDuration(time.Since(start)).WithFields(map[string]any{
		"language":  b.language,
		"items":     len(b.items),
		"patterns":  len(patterns),
		"discarded": stats.Discarded,
		"tokens":    resp.TokensUsed,
	}).Debug("[Extractor] batch extracted")
	return patterns, stats
}

// validate drops entries missing a type or template, or below the confidence
// floor, and normalizes the rest.
func (e *Extractor) validate(raw rawPattern, b languageBatch) (*domain.Pattern, bool) {
	patternType := strings.ToLower(strings.TrimSpace(raw.PatternType))
	template := strings.TrimSpace(raw.ResponseTemplate)
	if patternType == "" || template == "" || raw.ConfidenceScore == nil {
		return nil, false
	}
	if *raw.ConfidenceScore < e.cfg.MinConfidence {
		return nil, false
	}

	category := strings.ToLower(strings.TrimSpace(raw.ContextCategory))
	if category == "" {
		category = string(domain.CategoryGeneral)
	}

	now := e.now()
	p := &domain.Pattern{
		PatternType:      domain.PatternType(patternType),
		ContextCategory:  domain.ContextCategory(category),
		TriggerKeywords:  raw.TriggerKeywords,
		TriggerPhrases:   raw.TriggerPhrases,
		ResponseTemplate: template,
		ConfidenceScore:  *raw.ConfidenceScore,
		SuccessRate:      domain.DefaultSuccessRate,
		Metadata: domain.PatternMetadata{
			Language:   b.language,
			Formality:  raw.Formality,
			StyleNotes: raw.StyleNotes,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if idx := raw.Item - 1; idx >= 0 && idx < len(b.items) {
		item := b.items[idx]
		if sender := domain.NormalizeAddress(item.Sender); sender != "" && !item.OwnReply {
			p.SenderPatterns = []string{domain.SenderDomain(sender)}
		}
		p.ExamplePairs = []domain.ExamplePair{examplePair(item)}
	}
	p.Normalize()
	return p, true
}

func examplePair(item ExtractionItem) domain.ExamplePair {
	const limit = 500
	if item.OwnReply {
		return domain.ExamplePair{Question: item.Subject, Answer: TruncateRunes(item.Body, limit)}
	}
	return domain.ExamplePair{
		Question: TruncateRunes(item.Body, limit),
		Answer:   TruncateRunes(item.Reply, limit),
	}
}
