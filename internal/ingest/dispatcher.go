package ingest

import (
	"context"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// BatchDispatcher turns validated, type-homogeneous batches into attendance
// records. A returned error covers the whole batch.
type BatchDispatcher interface {
	ProcessFaceBatch(ctx context.Context, readings []models.FaceReading) error
	ProcessCardBatch(ctx context.Context, readings []models.CardReading) error
}
