package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k", "other"))
	_, err = c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len(""))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	type row struct {
		Person string `json:"person"`
		Count  int    `json:"count"`
	}

	require.NoError(t, SetJSON(ctx, c, CompletionsKey("r1"), []row{{"p1", 2}}, time.Minute))

	var got []row
	require.NoError(t, GetJSON(ctx, c, CompletionsKey("r1"), &got))
	assert.Equal(t, []row{{"p1", 2}}, got)

	assert.ErrorIs(t, GetJSON(ctx, c, TransactionsKey("r1"), &got), ErrNotFound)
}

func TestRunKeys(t *testing.T) {
	keys := RunKeys("abc")
	assert.Equal(t, []string{SummaryKey("abc"), TransactionsKey("abc"), CompletionsKey("abc")}, keys)
	assert.NotEqual(t, TransactionsKey("abc"), CompletionsKey("abc"))
}
