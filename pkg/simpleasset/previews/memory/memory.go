package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source is an in-memory previews.Source
type Source struct {
	mu      sync.RWMutex
	expires map[uuid.UUID]time.Time
}

// New creates an empty source
func New() *Source {
	return &Source{expires: make(map[uuid.UUID]time.Time)}
}

// Put records a preview and the time it expires
func (s *Source) Put(id uuid.UUID, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[id] = expiresAt
}

// Delete forgets a preview
func (s *Source) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, id)
}

// ExpiredPreviewIDs returns previews expiring at or before now, ordered by id
func (s *Source) ExpiredPreviewIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0)
	for id, at := range s.expires {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}
