package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis relays payloads through Redis pub/sub.
//
// All channels share one PubSub connection. go-redis re-subscribes every live
// channel on that connection after a reconnect.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *hub

	subMu sync.Mutex // Serializes SUBSCRIBE and UNSUBSCRIBE per channel decisions

	waitMu  sync.Mutex
	waiters map[string][]chan struct{}

	done chan struct{}
}

var _ Fabric = (*Redis)(nil)

// RedisOption configures the Redis fabric
type RedisOption func(*redisOptions) error

type redisOptions struct {
	client *redis.Client
	addr   string
	pass   string
	db     int
	buffer int
}

// WithRedisClient uses an existing client. The fabric closes it on Close.
func WithRedisClient(client *redis.Client) RedisOption {
	return func(o *redisOptions) error {
		if client == nil {
			return fmt.Errorf("redis client cannot be nil")
		}
		o.client = client
		return nil
	}
}

// WithRedisAddress sets the address, password and database used to build a client
func WithRedisAddress(addr, password string, db int) RedisOption {
	return func(o *redisOptions) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		o.addr, o.pass, o.db = addr, password, db
		return nil
	}
}

// WithRedisBuffer sets the per-subscription queue length
func WithRedisBuffer(n int) RedisOption {
	return func(o *redisOptions) error {
		o.buffer = n
		return nil
	}
}

// NewRedis connects to Redis and starts the receive loop
func NewRedis(ctx context.Context, opts ...RedisOption) (*Redis, error) {
	o := &redisOptions{buffer: defaultBuffer}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	client := o.client
	if client == nil {
		if o.addr == "" {
			return nil, fmt.Errorf("redis address or client is required")
		}
		client = redis.NewClient(&redis.Options{Addr: o.addr, Password: o.pass, DB: o.db})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &Redis{
		client:  client,
		pubsub:  client.Subscribe(ctx),
		hub:     newHub(o.buffer),
		waiters: make(map[string][]chan struct{}),
		done:    make(chan struct{}),
	}
	go r.receive(r.pubsub.ChannelWithSubscriptions(redis.WithChannelSize(o.buffer)))
	return r, nil
}

// Publish sends payload to the Redis channel
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.hub.isClosed() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe adds a local subscription. The first subscription for a channel
// waits for the Redis confirmation before returning.
func (r *Redis) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	sub, first, err := r.hub.add(channel, r.release)
	if err != nil {
		return nil, err
	}
	if !first {
		return sub, nil
	}

	confirmed := r.await(channel)
	if err := r.pubsub.Subscribe(ctx, channel); err != nil {
		r.cancelWait(channel, confirmed)
		r.hub.remove(sub)
		sub.terminate()
		return nil, fmt.Errorf("failed to subscribe to redis channel: %w", err)
	}

	select {
	case <-confirmed:
		return sub, nil
	case <-ctx.Done():
		r.cancelWait(channel, confirmed)
		r.hub.remove(sub)
		sub.terminate()
		_ = r.pubsub.Unsubscribe(context.WithoutCancel(ctx), channel)
		return nil, fmt.Errorf("failed to confirm redis subscription: %w", ctx.Err())
	case <-r.done:
		return nil, ErrClosed
	}
}

// Ping checks Redis is reachable
func (r *Redis) Ping(ctx context.Context) error {
	if r.hub.isClosed() {
		return ErrClosed
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close stops the receive loop, closes all subscriptions and the client
func (r *Redis) Close() error {
	if !r.hub.close() {
		return nil
	}
	psErr := r.pubsub.Close()
	<-r.done
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	if psErr != nil {
		return fmt.Errorf("failed to close redis pubsub: %w", psErr)
	}
	return nil
}

func (r *Redis) release(sub *Subscription) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if !r.hub.remove(sub) || r.hub.isClosed() {
		return
	}
	if err := r.pubsub.Unsubscribe(context.Background(), sub.channel); err != nil {
		slog.Warn("Failed to unsubscribe redis channel", "channel", sub.channel, "error", err)
	}
}

func (r *Redis) receive(msgs <-chan any) {
	defer close(r.done)
	for m := range msgs {
		switch v := m.(type) {
		case *redis.Message:
			r.hub.dispatch(v.Channel, []byte(v.Payload))
		case *redis.Subscription:
			if v.Kind == "subscribe" {
				r.confirm(v.Channel)
			}
		}
	}
}

func (r *Redis) await(channel string) chan struct{} {
	ch := make(chan struct{})
	r.waitMu.Lock()
	r.waiters[channel] = append(r.waiters[channel], ch)
	r.waitMu.Unlock()
	return ch
}

func (r *Redis) confirm(channel string) {
	r.waitMu.Lock()
	pending := r.waiters[channel]
	delete(r.waiters, channel)
	r.waitMu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (r *Redis) cancelWait(channel string, ch chan struct{}) {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	pending := r.waiters[channel]
	for i, c := range pending {
		if c == ch {
			r.waiters[channel] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(r.waiters[channel]) == 0 {
		delete(r.waiters, channel)
	}
}
