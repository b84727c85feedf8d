package domain

import (
	"time"

	"github.com/google/uuid"
)

// DraftSource names the selection state that produced a draft.
type DraftSource string

const (
	SourceMemoryCache DraftSource = "memory_cache"
	SourcePersistent  DraftSource = "persistent_cache"
	SourceStoredDraft DraftSource = "stored_draft"
	SourcePattern     DraftSource = "pattern"
	SourceFallback    DraftSource = "fallback"
	SourceMinimal     DraftSource = "minimal"
)

// DraftKey identifies a draft cache slot.
type DraftKey struct {
	EmailID string
	UserID  uuid.UUID
}

func (k DraftKey) String() string {
	return k.UserID.String() + ":" + k.EmailID
}

// DraftCacheEntry is a generated reply draft. Entries are replaced, never mutated.
type DraftCacheEntry struct {
	EmailID            string      `json:"email_id" bson:"email_id"`
	UserID             uuid.UUID   `json:"user_id" bson:"user_id"`
	Subject            string      `json:"subject" bson:"subject"`
	Body               string      `json:"body" bson:"body"`
	ConfidenceScore    float64     `json:"confidence_score" bson:"confidence_score"`
	MatchedPatternIDs  []uuid.UUID `json:"matched_pattern_ids,omitempty" bson:"matched_pattern_ids,omitempty"`
	FallbackGeneration bool        `json:"fallback_generation" bson:"fallback_generation"`
	Source             DraftSource `json:"source" bson:"source"`
	CreatedAt          time.Time   `json:"created_at" bson:"created_at"`
	ExpiresAt          time.Time   `json:"expires_at" bson:"expires_at"`
}

func (e *DraftCacheEntry) Key() DraftKey {
	return DraftKey{EmailID: e.EmailID, UserID: e.UserID}
}

// Expired reports whether the entry is stale at the given instant.
func (e *DraftCacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// PatternMatch is a scored candidate from the matching engine.
type PatternMatch struct {
	Pattern *Pattern `json:"pattern"`
	Score   float64  `json:"score"`
}

// DraftRequest asks for a reply draft to one email.
type DraftRequest struct {
	Email Email `json:"email"`
	// Force skips cache and stored-draft lookups and supersedes the entry.
	Force bool `json:"force,omitempty"`
}

// DraftResult is the terminal outcome of draft selection. It never carries a panic.
type DraftResult struct {
	Success bool             `json:"success"`
	Draft   *DraftCacheEntry `json:"draft,omitempty"`
	Error   string           `json:"error,omitempty"`
	Source  DraftSource      `json:"source,omitempty"`
	// Trace lists the selection states visited, in order.
	Trace []string `json:"trace,omitempty"`
}

// BatchReport summarizes a batch where each item fails independently.
type BatchReport struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []*DraftResult `json:"results"`
}

// LearningReport counts what a learning run did to the store.
type LearningReport struct {
	Extracted int `json:"extracted"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add accumulates another report into r.
func (r *LearningReport) Add(o LearningReport) {
	r.Extracted += o.Extracted
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}
