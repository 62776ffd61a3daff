package fabric

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiveTimeout = 5 * time.Second

func receive(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed before a message arrived")
		return msg
	case <-time.After(receiveTimeout):
		require.FailNow(t, "timed out waiting for message", "channel %s", sub.Channel())
		return nil
	}
}

func assertSilent(t *testing.T, sub *Subscription, wait time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if ok {
			assert.Failf(t, "unexpected message", "got %s on %s", msg, sub.Channel())
		}
	case <-time.After(wait):
	}
}

// runFabricTests exercises the contract every backend must satisfy.
// newFabric must return a fabric that does not share channels with other tests.
func runFabricTests(t *testing.T, newFabric func(t *testing.T) Fabric) {
	t.Helper()

	t.Run("publish reaches every subscriber including the publisher", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		a, err := f.Subscribe(ctx, "presentation:a:sync")
		require.NoError(t, err)
		b, err := f.Subscribe(ctx, "presentation:a:sync")
		require.NoError(t, err)

		require.NoError(t, f.Publish(ctx, "presentation:a:sync", []byte(`{"n":1}`)))
		assert.JSONEq(t, `{"n":1}`, string(receive(t, a)))
		assert.JSONEq(t, `{"n":1}`, string(receive(t, b)))
	})

	t.Run("channels are isolated", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		a, err := f.Subscribe(ctx, "presentation:a:sync")
		require.NoError(t, err)
		b, err := f.Subscribe(ctx, "presentation:b:sync")
		require.NoError(t, err)

		require.NoError(t, f.Publish(ctx, "presentation:b:sync", []byte("only-b")))
		assert.Equal(t, "only-b", string(receive(t, b)))
		assertSilent(t, a, 100*time.Millisecond)
	})

	t.Run("messages keep publish order per channel", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		sub, err := f.Subscribe(ctx, "ordered")
		require.NoError(t, err)
		for i := range 20 {
			require.NoError(t, f.Publish(ctx, "ordered", []byte(fmt.Sprint(i))))
		}
		for i := range 20 {
			assert.Equal(t, fmt.Sprint(i), string(receive(t, sub)))
		}
	})

	t.Run("closing one subscription keeps the others", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		a, err := f.Subscribe(ctx, "shared")
		require.NoError(t, err)
		b, err := f.Subscribe(ctx, "shared")
		require.NoError(t, err)

		a.Close()
		a.Close()
		_, open := <-a.Messages()
		assert.False(t, open)

		require.NoError(t, f.Publish(ctx, "shared", []byte("still-here")))
		assert.Equal(t, "still-here", string(receive(t, b)))
	})

	t.Run("resubscribe after the last subscription closed", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		first, err := f.Subscribe(ctx, "again")
		require.NoError(t, err)
		first.Close()

		second, err := f.Subscribe(ctx, "again")
		require.NoError(t, err)
		require.NoError(t, f.Publish(ctx, "again", []byte("hello")))
		assert.Equal(t, "hello", string(receive(t, second)))
	})

	t.Run("concurrent subscribers on one channel", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		subs := make([]*Subscription, 8)
		var wg sync.WaitGroup
		errs := make([]error, len(subs))
		for i := range subs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				subs[i], errs[i] = f.Subscribe(ctx, "crowd")
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		require.NoError(t, f.Publish(ctx, "crowd", []byte("all")))
		for _, sub := range subs {
			assert.Equal(t, "all", string(receive(t, sub)))
		}
	})

	t.Run("close ends subscriptions and rejects use", func(t *testing.T) {
		f := newFabric(t)
		ctx := context.Background()

		sub, err := f.Subscribe(ctx, "closing")
		require.NoError(t, err)
		require.NoError(t, f.Ping(ctx))

		require.NoError(t, f.Close())
		require.NoError(t, f.Close())

		_, open := <-sub.Messages()
		assert.False(t, open)
		assert.ErrorIs(t, f.Publish(ctx, "closing", []byte("x")), ErrClosed)
		_, err = f.Subscribe(ctx, "closing")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, f.Ping(ctx), ErrClosed)
		assert.NotPanics(t, sub.Close)
	})
}

func TestMemory(t *testing.T) {
	t.Parallel()

	runFabricTests(t, func(t *testing.T) Fabric {
		f := NewMemory()
		t.Cleanup(func() { _ = f.Close() })
		return f
	})
}

func TestSubscription_DropsWhenFull(t *testing.T) {
	t.Parallel()

	sub := newSubscription("slow", 2, nil)
	assert.True(t, sub.deliver([]byte("1")))
	assert.True(t, sub.deliver([]byte("2")))
	assert.False(t, sub.deliver([]byte("3")))

	assert.Equal(t, "1", string(<-sub.Messages()))
	assert.True(t, sub.deliver([]byte("4")))

	sub.Close()
	assert.False(t, sub.deliver([]byte("5")))
}

func TestHub(t *testing.T) {
	t.Parallel()

	h := newHub(4)

	a, first, err := h.add("room", nil)
	require.NoError(t, err)
	assert.True(t, first)
	b, first, err := h.add("room", nil)
	require.NoError(t, err)
	assert.False(t, first)

	assert.Equal(t, 2, h.dispatch("room", []byte("x")))
	assert.Equal(t, 0, h.dispatch("other", []byte("x")))
	assert.ElementsMatch(t, []string{"room"}, h.channels())

	assert.False(t, h.remove(a))
	assert.False(t, h.remove(a), "removing twice is a no-op")
	assert.True(t, h.remove(b))
	assert.False(t, h.has("room"))

	assert.True(t, h.close())
	assert.False(t, h.close())
	_, _, err = h.add("room", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
