package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mealboard/internal/database"
	"mealboard/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.SQL)
}

func TestStore_DailyUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "sorter", Model: "m", PromptTokens: 10, CompletionTokens: 5, Timestamp: now}))
	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "importer", Model: "m", PromptTokens: 20, CompletionTokens: 7, Timestamp: now}))
	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "sorter", Model: "m", PromptTokens: 99, CompletionTokens: 99, Timestamp: now.AddDate(0, 0, -30)}))

	usage, err := store.GetDailyUsage(ctx, 7)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, now.Format("2006-01-02"), usage[0].Date)
	assert.Equal(t, 30, usage[0].TotalPrompt)
	assert.Equal(t, 12, usage[0].TotalCompletion)
	assert.Equal(t, 2, usage[0].TotalExecution)
}

func TestStore_RecordMetaSkipsEmptyUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordMeta(ctx, llm.AgentMeta{AgentName: "sorter"}))
	require.NoError(t, store.RecordMeta(ctx, llm.AgentMeta{
		AgentName: "sorter",
		Usage:     llm.TokenUsage{PromptTokens: 3, CompletionTokens: 1, Model: "gemini"},
		Latency:   1500 * time.Millisecond,
	}))

	usage, err := store.GetDailyUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].TotalExecution)
}

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "a", Model: "m", Timestamp: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "b", Model: "m", Timestamp: now.AddDate(0, 0, -35)}))
	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "c", Model: "m", Timestamp: now}))

	removed, err := store.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestMapUsage(t *testing.T) {
	m := MapUsage("sorter", llm.TokenUsage{PromptTokens: 4, CompletionTokens: 2, Model: "x"}, 250*time.Millisecond)
	assert.Equal(t, "sorter", m.AgentName)
	assert.Equal(t, "x", m.Model)
	assert.Equal(t, int64(250), m.LatencyMS)
	assert.False(t, m.Timestamp.IsZero())
}
