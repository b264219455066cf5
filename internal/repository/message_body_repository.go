package repository

import (
	"context"

	"notify-pipeline/internal/domain/entity"
)

// MessageBodyRepository stores content-addressed message bodies.
// Get and FindByFingerprint return (nil, nil) when no row exists.
type MessageBodyRepository interface {
	Get(ctx context.Context, id int64) (*entity.MessageBody, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.MessageBody, error)
	// Create inserts the body, or returns the id of the existing row with the same fingerprint.
	Create(ctx context.Context, body *entity.MessageBody) (int64, error)
	BackfillDisplay(ctx context.Context, id int64, source string) error
}
