package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/internal/cache"
)

type countingRetriever struct {
	mu       sync.Mutex
	calls    int
	snippets []string
	err      error
}

func (r *countingRetriever) Retrieve(context.Context, string, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.snippets, nil
}

func (r *countingRetriever) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func setupCached(t *testing.T, inner Retriever) (*miniredis.Miniredis, *CachedRetriever) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	manager, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return mr, NewCachedRetriever(inner, manager, nil, time.Minute, zap.NewNop())
}

func TestCachedRetriever_SecondCallHitsCache(t *testing.T) {
	inner := &countingRetriever{snippets: []string{"O plano básico custa R$ 500."}}
	_, cached := setupCached(t, inner)
	ctx := context.Background()

	first, err := cached.Retrieve(ctx, "agent-1", "quanto custa o plano?")
	require.NoError(t, err)
	assert.Equal(t, inner.snippets, first)
	assert.Equal(t, 1, inner.callCount())

	second, err := cached.Retrieve(ctx, "agent-1", "quanto custa o plano?")
	require.NoError(t, err)
	assert.Equal(t, inner.snippets, second)
	assert.Equal(t, 1, inner.callCount(), "segunda consulta não bate no retriever interno")
}

func TestCachedRetriever_QueryNormalization(t *testing.T) {
	inner := &countingRetriever{snippets: []string{"snippet"}}
	_, cached := setupCached(t, inner)
	ctx := context.Background()

	_, err := cached.Retrieve(ctx, "agent-1", "Quanto  Custa?")
	require.NoError(t, err)
	_, err = cached.Retrieve(ctx, "agent-1", "quanto custa?")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.callCount(), "espaços e caixa não mudam a chave")
}

func TestCachedRetriever_DifferentAgentsDoNotShare(t *testing.T) {
	inner := &countingRetriever{snippets: []string{"snippet"}}
	_, cached := setupCached(t, inner)
	ctx := context.Background()

	_, err := cached.Retrieve(ctx, "agent-1", "preço")
	require.NoError(t, err)
	_, err = cached.Retrieve(ctx, "agent-2", "preço")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.callCount())
}

func TestCachedRetriever_TTLExpiry(t *testing.T) {
	inner := &countingRetriever{snippets: []string{"snippet"}}
	mr, cached := setupCached(t, inner)
	ctx := context.Background()

	_, err := cached.Retrieve(ctx, "agent-1", "preço")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cached.Retrieve(ctx, "agent-1", "preço")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount(), "expirado volta ao retriever interno")
}

func TestCachedRetriever_InnerErrorNotCached(t *testing.T) {
	inner := &countingRetriever{err: errors.New("db down")}
	_, cached := setupCached(t, inner)
	ctx := context.Background()

	_, err := cached.Retrieve(ctx, "agent-1", "preço")
	require.Error(t, err)

	inner.mu.Lock()
	inner.err = nil
	inner.snippets = []string{"recuperado"}
	inner.mu.Unlock()

	got, err := cached.Retrieve(ctx, "agent-1", "preço")
	require.NoError(t, err)
	assert.Equal(t, []string{"recuperado"}, got)
	assert.Equal(t, 2, inner.callCount())
}
