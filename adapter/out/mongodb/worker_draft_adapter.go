package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Stored Draft Adapter
// =============================================================================

const (
	collectionDrafts = "reply_drafts"

	// Compression threshold - only compress if the body is larger than this
	compressionThreshold = 1024 // 1KB
)

// DraftAdapter implements out.StoredDraftRepository. Documents expire through
// a TTL index on expires_at; reads also skip entries past their expiry.
type DraftAdapter struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ out.StoredDraftRepository = (*DraftAdapter)(nil)

func NewDraftAdapter(db *mongo.Database) *DraftAdapter {
	return &DraftAdapter{
		collection: db.Collection(collectionDrafts),
		now:        time.Now,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *DraftAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type draftDocument struct {
	Key                string    `bson:"_id"`
	EmailID            string    `bson:"email_id"`
	UserID             string    `bson:"user_id"`
	Subject            string    `bson:"subject"`
	Body               []byte    `bson:"body"`
	IsCompressed       bool      `bson:"is_compressed"`
	ConfidenceScore    float64   `bson:"confidence_score"`
	MatchedPatternIDs  []string  `bson:"matched_pattern_ids,omitempty"`
	FallbackGeneration bool      `bson:"fallback_generation"`
	Source             string    `bson:"source"`
	CreatedAt          time.Time `bson:"created_at"`
	ExpiresAt          time.Time `bson:"expires_at"`
}

func toDocument(e *domain.DraftCacheEntry) (*draftDocument, error) {
	doc := &draftDocument{
		Key:                e.Key().String(),
		EmailID:            e.EmailID,
		UserID:             e.UserID.String(),
		Subject:            e.Subject,
		Body:               []byte(e.Body),
		ConfidenceScore:    e.ConfidenceScore,
		FallbackGeneration: e.FallbackGeneration,
		Source:             string(e.Source),
		CreatedAt:          e.CreatedAt,
		ExpiresAt:          e.ExpiresAt,
	}
	if len(doc.Body) > compressionThreshold {
		compressed, err := compress(doc.Body)
		if err != nil {
			return nil, err
		}
		doc.Body, doc.IsCompressed = compressed, true
	}
	for _, id := range e.MatchedPatternIDs {
		doc.MatchedPatternIDs = append(doc.MatchedPatternIDs, id.String())
	}
	return doc, nil
}

func (d *draftDocument) toEntry() (*domain.DraftCacheEntry, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}
	body := d.Body
	if d.IsCompressed {
		if body, err = decompress(body); err != nil {
			return nil, err
		}
	}
	e := &domain.DraftCacheEntry{
		EmailID:            d.EmailID,
		UserID:             userID,
		Subject:            d.Subject,
		Body:               string(body),
		ConfidenceScore:    d.ConfidenceScore,
		FallbackGeneration: d.FallbackGeneration,
		Source:             domain.DraftSource(d.Source),
		CreatedAt:          d.CreatedAt,
		ExpiresAt:          d.ExpiresAt,
	}
	for _, raw := range d.MatchedPatternIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		e.MatchedPatternIDs = append(e.MatchedPatternIDs, id)
	}
	return e, nil
}

// =============================================================================
// Operations
// =============================================================================

func (a *DraftAdapter) GetDraft(ctx context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error) {
	filter := bson.M{"_id": key.String(), "expires_at": bson.M{"$gt": a.now()}}

	var doc draftDocument
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toEntry()
}

// SaveDraft replaces any earlier draft for the same email.
func (a *DraftAdapter) SaveDraft(ctx context.Context, entry *domain.DraftCacheEntry) error {
	doc, err := toDocument(entry)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	_, err = a.collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts)
	return err
}

// DeleteDraft removes a stored draft; a missing draft is not an error.
func (a *DraftAdapter) DeleteDraft(ctx context.Context, key domain.DraftKey) error {
	_, err := a.collection.DeleteOne(ctx, bson.M{"_id": key.String()})
	return err
}

// =============================================================================
// Compression
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
