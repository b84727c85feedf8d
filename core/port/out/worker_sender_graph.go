package out

import (
	"context"

	"github.com/google/uuid"
)

// SenderGraph tracks which patterns answered which senders.
type SenderGraph interface {
	LinkSender(ctx context.Context, userID, patternID uuid.UUID, sender string) error
	PatternsForSender(ctx context.Context, userID uuid.UUID, sender string, limit int) ([]uuid.UUID, error)
}
