package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_CreateStartInspectRemove(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	id, err := f.Create(ctx, CreateSpec{Name: "worker-1", Image: "demo:latest", Labels: map[string]string{"app": "demo"}})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", id)

	require.NoError(t, f.Start(ctx, id))

	insp, err := f.Inspect(ctx, id)
	require.NoError(t, err)
	assert.True(t, insp.Running)

	ids, err := f.List(ctx, "app")
	require.NoError(t, err)
	assert.Contains(t, ids, "worker-1")

	require.NoError(t, f.Remove(ctx, id, true))
	_, err = f.Inspect(ctx, id)
	require.Error(t, err)
	assert.True(t, IsKind(err, NotFound))
}

func TestFake_StatsRequiresQueuedSamples(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, err := f.Create(ctx, CreateSpec{Name: "w"})
	require.NoError(t, err)

	_, _, err = f.Stats(ctx, "w", 100*time.Millisecond)
	require.Error(t, err)

	first := Sample{CPUTotal: 100, CPUSystem: 1000, OnlineCPUs: 1}
	second := Sample{CPUTotal: 150, CPUSystem: 1500, OnlineCPUs: 1}
	f.SetSamples("w", first, second)

	gotFirst, gotSecond, err := f.Stats(ctx, "w", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, first, gotFirst)
	assert.Equal(t, second, gotSecond)
}

func TestFake_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.FailOps["create"] = errors.New("boom")

	_, err := f.Create(ctx, CreateSpec{Name: "w"})
	require.Error(t, err)

	// failure is consumed once; the next call succeeds
	_, err = f.Create(ctx, CreateSpec{Name: "w"})
	require.NoError(t, err)
}
