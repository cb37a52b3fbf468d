package errorlog

import (
	"context"

	"github.com/vietddude/chainguard/internal/core/domain"
)

// Store persists error records.
type Store interface {
	Put(ctx context.Context, rec *domain.ErrorRecord) error
	GetAll(ctx context.Context) ([]*domain.ErrorRecord, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Trimmer is implemented by stores that can drop the oldest records
// natively. Trim keeps the newest max records and returns how many it removed.
type Trimmer interface {
	Trim(ctx context.Context, max int) (int, error)
}
