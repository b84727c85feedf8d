package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// patternSchema is idempotent; it runs on every start.
var patternSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_patterns (
		id                UUID PRIMARY KEY,
		user_id           UUID NOT NULL,
		pattern_type      TEXT NOT NULL,
		context_category  TEXT NOT NULL,
		trigger_keywords  TEXT[] NOT NULL DEFAULT '{}',
		trigger_phrases   TEXT[] NOT NULL DEFAULT '{}',
		sender_patterns   TEXT[] NOT NULL DEFAULT '{}',
		response_template TEXT NOT NULL,
		confidence_score  DOUBLE PRECISION NOT NULL CHECK (confidence_score BETWEEN 0.1 AND 1.0),
		success_rate      DOUBLE PRECISION NOT NULL DEFAULT 0.8 CHECK (success_rate BETWEEN 0 AND 1),
		usage_count       INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		last_used_at      TIMESTAMPTZ,
		example_pairs     JSONB NOT NULL DEFAULT '[]',
		metadata          JSONB NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_patterns_user_kind
		ON email_patterns (user_id, pattern_type, context_category, confidence_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_email_patterns_keywords
		ON email_patterns USING GIN (trigger_keywords)`,
	`CREATE INDEX IF NOT EXISTS idx_email_patterns_senders
		ON email_patterns USING GIN (sender_patterns)`,
}

// EnsureSchema creates the pattern tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range patternSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
