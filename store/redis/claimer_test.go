package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClaimer(t *testing.T) *Claimer {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	prefix := "opsbrain-test-" + uuid.NewString()
	c, err := New(addr, WithPrefix(prefix))
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		keys, _ := c.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = c.client.Del(ctx, keys...).Err()
		}
		_ = c.Close()
	})
	return c
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(" ")
	require.Error(t, err)
}

func TestClaimOnlyOnce(t *testing.T) {
	c := newTestClaimer(t)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "title:Paper due", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "title:Paper due", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "title:Paper due"))
	ok, err = c.Claim(ctx, "title:Paper due", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimRejectsZeroTTL(t *testing.T) {
	c := newTestClaimer(t)
	_, err := c.Claim(context.Background(), "k", 0)
	require.Error(t, err)
}
