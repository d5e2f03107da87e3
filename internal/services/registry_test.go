package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/domainerr"
)

func TestModelRegistry_Empty(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.registry.Loaded())
	_, err := f.registry.Current()
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.Equal(t, testKey, f.registry.Key())

	_, err = f.registry.Reload(context.Background())
	assert.ErrorIs(t, err, domainerr.ErrPersistence)
	assert.False(t, f.registry.Loaded())
}

func TestModelRegistry_Reload(t *testing.T) {
	f, report := trained(t)
	before, err := f.registry.Current()
	require.NoError(t, err)

	after, err := f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.ArtifactID, after.ID)
	assert.NotSame(t, before, after)

	current, err := f.registry.Current()
	require.NoError(t, err)
	assert.Same(t, after, current)

	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["churn_model_reloads_total"])
	assert.True(t, names["churn_model_loaded"])
}

func TestModelRegistry_FailedReloadKeepsServing(t *testing.T) {
	f, _ := trained(t)
	before, err := f.registry.Current()
	require.NoError(t, err)

	require.NoError(t, f.store.Put(context.Background(), testKey, []byte("corrupt")))
	_, err = f.registry.Reload(context.Background())
	assert.ErrorIs(t, err, domainerr.ErrPersistence)

	current, err := f.registry.Current()
	require.NoError(t, err)
	assert.Same(t, before, current)
}

func TestModelRegistry_ConcurrentReadsDuringReload(t *testing.T) {
	f, _ := trained(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b, err := f.registry.Current()
				if assert.NoError(t, err) {
					assert.NotNil(t, b.Model)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := f.registry.Reload(context.Background())
		require.NoError(t, err)
	}
	wg.Wait()
}
