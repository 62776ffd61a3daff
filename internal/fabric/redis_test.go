package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	f, err := NewRedis(context.Background(), WithRedisAddress(mr.Addr(), "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, mr
}

func TestRedis(t *testing.T) {
	t.Parallel()

	runFabricTests(t, func(t *testing.T) Fabric {
		f, _ := newTestRedis(t)
		return f
	})
}

func TestRedis_CrossInstance(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx := context.Background()

	one, err := NewRedis(ctx, WithRedisAddress(mr.Addr(), "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = one.Close() })
	two, err := NewRedis(ctx, WithRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = two.Close() })

	sub, err := two.Subscribe(ctx, "presentation:x:sync")
	require.NoError(t, err)

	require.NoError(t, one.Publish(ctx, "presentation:x:sync", []byte("from-one")))
	assert.Equal(t, "from-one", string(receive(t, sub)))
}

func TestRedis_UnsubscribesLastChannel(t *testing.T) {
	t.Parallel()

	f, mr := newTestRedis(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, "presentation:y:sync")
	require.NoError(t, err)
	assert.Equal(t, 1, mr.PubSubNumSub("presentation:y:sync")["presentation:y:sync"])

	sub.Close()
	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub("presentation:y:sync")["presentation:y:sync"] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewRedis_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(context.Background())
	require.Error(t, err)

	_, err = NewRedis(context.Background(), WithRedisAddress("", "", 0))
	require.Error(t, err)

	_, err = NewRedis(context.Background(), WithRedisClient(nil))
	require.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = NewRedis(ctx, WithRedisAddress(addr, "", 0))
	require.Error(t, err)
}
