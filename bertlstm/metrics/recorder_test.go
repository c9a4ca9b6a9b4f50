package metrics

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderEpochMeanIsWeighted(t *testing.T) {
	sink := &MemorySink{}
	r := NewRecorder("run", sink)
	ctx := context.Background()

	r.Observe("val_loss", 1.0, 256)
	r.Observe("val_loss", 4.0, 64)
	means, err := r.EndEpoch(ctx, 1, 10)
	require.NoError(t, err)
	assert.InDelta(t, (256.0+4*64)/320, means["val_loss"], 1e-12)

	pts := sink.Points("val_loss", ScopeEpoch)
	require.Len(t, pts, 1)
	assert.Equal(t, 1, pts[0].Epoch)
	assert.Equal(t, "run", pts[0].RunID)

	// aggregates reset between epochs
	means, err = r.EndEpoch(ctx, 2, 20)
	require.NoError(t, err)
	assert.Empty(t, means)
}

func TestRecorderStepDoesNotAggregate(t *testing.T) {
	sink := &MemorySink{}
	r := NewRecorder("run", sink)
	require.NoError(t, r.Step(context.Background(), "train_loss", 1, 3, 0.7))

	assert.Len(t, sink.Points("train_loss", ScopeStep), 1)
	means, err := r.EndEpoch(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Empty(t, means)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder("abc", NewLogSink(zerolog.New(&buf), zerolog.InfoLevel))
	require.NoError(t, r.Step(context.Background(), "train_loss", 2, 5, 0.5))

	out := buf.String()
	assert.Contains(t, out, `"metric":"train_loss"`)
	assert.Contains(t, out, `"run_id":"abc"`)
	assert.Contains(t, out, `"scope":"step"`)
	assert.Contains(t, out, `"value":0.5`)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, filepath.Join(t.TempDir(), "db", "metrics.db"), "")
	require.NoError(t, err)
	defer store.Close()

	runID := uuid.NewString()
	require.NoError(t, store.StartRun(ctx, runID, "train", "{}"))

	r := NewRecorder(runID, store)
	r.Observe("val_loss", 0.5, 2)
	r.Observe("val_loss", 0.25, 2)
	_, err = r.EndEpoch(ctx, 1, 4)
	require.NoError(t, err)
	require.NoError(t, r.Step(ctx, "train_loss", 1, 4, 0.9))

	pts, err := store.Points(ctx, runID, "val_loss", ScopeEpoch)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.InDelta(t, 0.375, pts[0].Value, 1e-12)
	assert.Equal(t, 4, pts[0].Step)

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, runs)
}

func TestResolveDSN(t *testing.T) {
	u, err := resolveDSN("libsql://db.example.io", "tok")
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=tok", u)

	dir := t.TempDir()
	u, err = resolveDSN("file:"+filepath.Join(dir, "m.db"), "")
	require.NoError(t, err)
	assert.Equal(t, "file:"+filepath.Join(dir, "m.db"), u)

	_, err = resolveDSN("", "")
	assert.Error(t, err)
}
