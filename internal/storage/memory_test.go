// internal/storage/memory_test.go
package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func record(addr, state string) *PositionRecord {
	return &PositionRecord{
		TokenAddress:     addr,
		Symbol:           "TEST",
		State:            state,
		EntryPrice:       1,
		Quantity:         0.1,
		TargetMultiplier: 2,
		SellPercentage:   80,
		OpenedAt:         time.Now(),
	}
}

func TestSaveAndGetPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, record("mint-1", "open")))

	got, err := s.GetPosition(ctx, "mint-1")
	require.NoError(t, err)
	require.Equal(t, "mint-1", got.TokenAddress)
	require.Equal(t, "open", got.State)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestGetMissingPosition(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetPosition(context.Background(), "mint-x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveOverwritesSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, record("mint-1", "opening")))

	rec := record("mint-1", "closed")
	rec.ProceedsSol = 0.25
	require.NoError(t, s.SavePosition(ctx, rec))

	got, err := s.GetPosition(ctx, "mint-1")
	require.NoError(t, err)
	require.Equal(t, "closed", got.State)
	require.Equal(t, 0.25, got.ProceedsSol)
}

func TestListOpenFiltersTerminalStates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for addr, state := range map[string]string{
		"mint-open":    "open",
		"mint-opening": "opening",
		"mint-closing": "closing",
		"mint-closed":  "closed",
		"mint-failed":  "failed",
	} {
		require.NoError(t, s.SavePosition(ctx, record(addr, state)))
	}

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	for _, rec := range open {
		require.NotEqual(t, "closed", rec.State)
		require.NotEqual(t, "failed", rec.State)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, record("mint-1", "open")))

	got, _ := s.GetPosition(ctx, "mint-1")
	got.State = "mutated"

	again, _ := s.GetPosition(ctx, "mint-1")
	require.Equal(t, "open", again.State)
}
