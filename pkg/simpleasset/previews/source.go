// Package previews defines where expired preview identities come from.
//
// Preview records live in the surrounding application's relational store.
// The expiry sweeper only needs the ids whose TTL has elapsed, so that is
// the whole contract.
package previews

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source lists previews whose TTL elapsed before now
type Source interface {
	ExpiredPreviewIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
