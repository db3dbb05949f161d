package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimReplay(t *testing.T) {
	ctx := context.Background()
	c := NewMemClaims(time.Minute)

	_, hit, err := c.TryClaim(ctx, "cmsg-1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Claim(ctx, "cmsg-1", 1001))

	id, hit, err := c.TryClaim(ctx, "cmsg-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1001), id)
}

func TestClaimFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	c := NewMemClaims(time.Minute)

	require.NoError(t, c.Claim(ctx, "cmsg-1", 1001))
	// 并发 Claim 的后到者不覆盖
	require.NoError(t, c.Claim(ctx, "cmsg-1", 2002))

	id, hit, err := c.TryClaim(ctx, "cmsg-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1001), id)
}

func TestClaimWindowExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemClaims(20 * time.Millisecond)

	require.NoError(t, c.Claim(ctx, "cmsg-1", 1001))
	time.Sleep(40 * time.Millisecond)

	// 窗口外：同 key 当新消息处理
	_, hit, err := c.TryClaim(ctx, "cmsg-1")
	require.NoError(t, err)
	assert.False(t, hit)
}
