package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiredPreviewIDs(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	b := uuid.MustParse("00000000-0000-4000-8000-000000000002")
	live := uuid.MustParse("00000000-0000-4000-8000-000000000003")

	s := New()
	s.Put(b, now.Add(-time.Hour))
	s.Put(a, now)
	s.Put(live, now.Add(time.Minute))

	ids, err := s.ExpiredPreviewIDs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	s.Delete(a)
	ids, err = s.ExpiredPreviewIDs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, ids)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ExpiredPreviewIDs(ctx, now)
	assert.ErrorIs(t, err, context.Canceled)
}
