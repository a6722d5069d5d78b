package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepositorySaveAndListRecent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap := &Snapshot{
			RunID:      "run-a",
			CapturedAt: time.Now(),
			Mean:       float64(i),
		}
		require.NoError(t, repo.Save(ctx, snap))
	}
	require.NoError(t, repo.Save(ctx, &Snapshot{RunID: "run-b", CapturedAt: time.Now()}))

	got, err := repo.ListRecent(ctx, "run-a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// ListRecent walks backwards, so the most recently saved snapshot (Mean=2) comes first.
	assert.Equal(t, float64(2), got[0].Mean)
	assert.Equal(t, float64(1), got[1].Mean)
}

func TestInMemoryRepositoryListRecentUnknownRun(t *testing.T) {
	repo := NewInMemoryRepository()
	got, err := repo.ListRecent(context.Background(), "nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
