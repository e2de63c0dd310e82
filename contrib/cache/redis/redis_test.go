package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store := NewStore(&Config{
		Addr:   mr.Addr(),
		Prefix: "test:",
		TTL:    time.Minute,
	})
	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return mr, store
}

func TestStore_SetAndGet(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "gpt-4:abc", []int{5, 9}))

	ids, ok, err := store.Get(ctx, "gpt-4:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{5, 9}, ids)

	assert.True(t, mr.Exists("test:gpt-4:abc"))
	assert.Equal(t, time.Minute, mr.TTL("test:gpt-4:abc"))
}

func TestStore_Miss(t *testing.T) {
	_, store := setupTestRedis(t)

	ids, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ids)
}

func TestStore_EmptyIDs(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", nil))
	ids, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)
}

func TestStore_Expiry(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []int{1}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CorruptEntry(t *testing.T) {
	mr, store := setupTestRedis(t)
	require.NoError(t, mr.Set("test:bad", "not-json"))

	_, ok, err := store.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStore_ServerDown(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), "k", []int{1}))
}

func TestStore_Ping(t *testing.T) {
	_, store := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))
}

type countingTokenizer struct {
	encodes int
}

func (c *countingTokenizer) Encode(text string) ([]int, error) {
	c.encodes++
	return []int{len(text)}, nil
}

func (c *countingTokenizer) Decode([]int) (string, error) { return "", nil }
func (c *countingTokenizer) Precise() bool                { return true }

func TestStore_BacksCachedTokenizer(t *testing.T) {
	_, store := setupTestRedis(t)
	inner := &countingTokenizer{}
	tok := tokenizer.Cached("gpt-4", inner, store, tokenizer.WithCacheLogger(logging.Discard()))

	first, err := tok.Encode("hello")
	require.NoError(t, err)
	second, err := tok.Encode("hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.encodes)
}
