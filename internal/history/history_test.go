package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndList(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := history.Entry{
		Question:  "How many users signed up last week?",
		Status:    "succeeded",
		Response:  "There were 42 signups.",
		SQL:       "SELECT count(*) FROM signups",
		RequestID: "req-1",
		TraceID:   "trace-1",
		Duration:  1500 * time.Millisecond,
		FromCache: true,
		RowCount:  1,
	}
	id1, err := store.Record(ctx, first)
	require.NoError(t, err)
	assert.Positive(t, id1)

	second := history.Entry{
		Question:      "Weekly revenue?",
		Status:        "failed",
		ErrorCategory: "connectivity",
		RequestID:     "req-2",
	}
	_, err = store.Record(ctx, second)
	require.NoError(t, err)

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "Weekly revenue?", entries[0].Question)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, "connectivity", entries[0].ErrorCategory)

	got := entries[1]
	assert.Equal(t, first.Question, got.Question)
	assert.Equal(t, first.Response, got.Response)
	assert.Equal(t, first.SQL, got.SQL)
	assert.Equal(t, first.RequestID, got.RequestID)
	assert.Equal(t, first.TraceID, got.TraceID)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, got.FromCache)
	assert.Equal(t, 1, got.RowCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_ListLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Record(ctx, history.Entry{Question: "q", Status: "succeeded"})
		require.NoError(t, err)
	}

	entries, err := store.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "non-positive limit falls back to the default")
}

func TestStore_CountAndPurge(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.Record(ctx, history.Entry{Question: "q", Status: "canceled"})
	require.NoError(t, err)

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Purge(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kotae", "history.db")
	store, err := history.Open(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Record(context.Background(), history.Entry{Question: "q", Status: "succeeded"})
	assert.NoError(t, err)
}
