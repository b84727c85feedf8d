package graph

import (
	"context"
	"fmt"
	"strings"

	"pattern_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Sender Graph Adapter
// =============================================================================

// SenderGraphAdapter implements out.SenderGraph. Each (Sender)-[:ANSWERED_BY]->(Pattern)
// edge counts how often a pattern was learned from that sender's mail.
type SenderGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

var _ out.SenderGraph = (*SenderGraphAdapter)(nil)

func NewSenderGraphAdapter(driver neo4j.DriverWithContext, dbName string) *SenderGraphAdapter {
	return &SenderGraphAdapter{
		driver: driver,
		dbName: dbName,
	}
}

// EnsureIndexes creates necessary indexes and constraints.
func (a *SenderGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE INDEX sender_user_address_idx IF NOT EXISTS FOR (s:Sender) ON (s.user_id, s.address)`,
		`CREATE CONSTRAINT pattern_id_unique IF NOT EXISTS FOR (p:Pattern) REQUIRE p.pattern_id IS UNIQUE`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create sender graph index: %w", err)
		}
	}
	return nil
}

// LinkSender records that patternID answered mail from sender.
func (a *SenderGraphAdapter) LinkSender(ctx context.Context, userID, patternID uuid.UUID, sender string) error {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	query := `
		MERGE (s:Sender {user_id: $userID, address: $sender})
		MERGE (p:Pattern {pattern_id: $patternID})
		ON CREATE SET p.user_id = $userID
		MERGE (s)-[r:ANSWERED_BY]->(p)
		ON CREATE SET r.count = 0
		SET r.count = r.count + 1, r.last_seen = timestamp()
	`
	params := map[string]interface{}{
		"userID":    userID.String(),
		"patternID": patternID.String(),
		"sender":    sender,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to link sender: %w", err)
	}
	return nil
}

// PatternsForSender returns pattern IDs linked to sender, most frequent first.
func (a *SenderGraphAdapter) PatternsForSender(ctx context.Context, userID uuid.UUID, sender string, limit int) ([]uuid.UUID, error) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" || limit <= 0 {
		return nil, nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	query := `
		MATCH (s:Sender {user_id: $userID, address: $sender})-[r:ANSWERED_BY]->(p:Pattern)
		RETURN p.pattern_id AS pattern_id
		ORDER BY r.count DESC, r.last_seen DESC
		LIMIT $limit
	`
	params := map[string]interface{}{
		"userID": userID.String(),
		"sender": sender,
		"limit":  int64(limit),
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query sender patterns: %w", err)
	}

	var ids []uuid.UUID
	for result.Next(ctx) {
		raw := getStringValue(result.Record(), "pattern_id")
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ForgetPattern drops a deleted pattern and its edges.
func (a *SenderGraphAdapter) ForgetPattern(ctx context.Context, patternID uuid.UUID) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `MATCH (p:Pattern {pattern_id: $patternID}) DETACH DELETE p`,
			map[string]interface{}{"patternID": patternID.String()})
	})
	return err
}

func getStringValue(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
