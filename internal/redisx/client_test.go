package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	defer rdb.Close()
	ctx := context.Background()

	key := fmt.Sprintf(KeyDedup, "referral", "evt-1")
	ok, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, TTLDedup, mr.TTL(key))

	require.NoError(t, Release(ctx, rdb, key))
	ok, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, ok)
}
