// Package fabric relays room broadcasts between server instances.
//
// A Fabric delivers every published payload to all current subscribers of the
// channel, including subscribers in the publishing process. Delivery is at most
// once per subscriber and may be duplicated across reconnects, so consumers must
// tolerate replays.
package fabric

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a fabric that has been closed
var ErrClosed = errors.New("fabric is closed")

// Type names a fabric backend
type Type string

const (
	// TypeMemory relays within the current process only
	TypeMemory Type = "memory"
	// TypeRedis relays through Redis pub/sub
	TypeRedis Type = "redis"
	// TypePostgres relays through PostgreSQL LISTEN/NOTIFY
	TypePostgres Type = "postgres"
)

// defaultBuffer is the per-subscription queue length
const defaultBuffer = 256

// Fabric is a publish/subscribe capability keyed by channel name.
type Fabric interface {
	// Publish delivers payload to every subscriber of channel
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers interest in channel. It returns once the backend
	// subscription is live, so payloads published afterwards are delivered.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the backend and closes every open subscription
	Close() error
}
