package runlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartRun(ctx, "run-1", "p-1", 3))
	// 重复登记幂等。
	require.NoError(t, store.StartRun(ctx, "run-1", "p-1", 3))

	status, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, "p-1", status.PortfolioID)
	assert.Equal(t, 3, status.LegCount)
	assert.False(t, status.Finished)
	assert.Empty(t, status.Events)

	require.NoError(t, store.AppendEvent(ctx, "run-1", RunEvent{Seq: 0, Symbol: "USDT", Status: "settled", Signature: "sig-1"}))
	require.NoError(t, store.AppendEvent(ctx, "run-1", RunEvent{Seq: 1, Symbol: "SOL", Status: "failed", Reason: "quote_failed", Retryable: true}))
	require.NoError(t, store.AppendEvent(ctx, "run-1", RunEvent{Seq: 2, Symbol: "BTC", Status: "skipped", Reason: "cancelled"}))

	require.NoError(t, store.FinishRun(ctx, "run-1", 1, 1, 1))

	status, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, status.Finished)
	assert.Equal(t, 1, status.Succeeded)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 1, status.Skipped)
	assert.NotZero(t, status.FinishedAt)

	require.Len(t, status.Events, 3)
	assert.Equal(t, "USDT", status.Events[0].Symbol)
	assert.Equal(t, "sig-1", status.Events[0].Signature)
	assert.True(t, status.Events[1].Retryable)
	assert.Equal(t, "cancelled", status.Events[2].Reason)
}

func TestAppendEvent_ReplaceSameSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartRun(ctx, "run-1", "", 1))
	require.NoError(t, store.AppendEvent(ctx, "run-1", RunEvent{Seq: 0, Symbol: "SOL", Status: "failed"}))
	require.NoError(t, store.AppendEvent(ctx, "run-1", RunEvent{Seq: 0, Symbol: "SOL", Status: "settled", Signature: "sig"}))

	status, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, status.Events, 1)
	assert.Equal(t, "settled", status.Events[0].Status)
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOpen_CreatesFileStore(t *testing.T) {
	path := t.TempDir() + "/runs.db"
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, "run-1", "", 1))
	status, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.LegCount)
}
