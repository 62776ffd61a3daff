package fabric

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxNotifyPayload is the largest payload PostgreSQL NOTIFY accepts
const MaxNotifyPayload = 7999

const (
	identPrefix = "fabric_"

	// refPrefix marks a notification whose payload is stored in fabric_payloads.
	// Room envelopes are JSON objects and never start with it.
	refPrefix = "ref:"

	// spillRetention is how long stored payloads stay readable by listeners
	spillRetention = time.Minute
	fetchTimeout   = 5 * time.Second
)

// Postgres relays payloads through LISTEN/NOTIFY.
//
// Publish goes through the pool. Payloads above MaxNotifyPayload are written to
// the fabric_payloads table and the notification carries only the row id. A
// single dedicated connection, owned by the listen loop, holds every LISTEN. When that connection fails the loop
// reconnects with exponential backoff and listens again on all live channels.
type Postgres struct {
	pool *pgxpool.Pool
	hub  *hub

	subMu    sync.Mutex        // Serializes LISTEN and UNLISTEN per channel decisions
	idents   map[string]string // listen identifier -> channel, guarded by identsMu
	identsMu sync.RWMutex

	requests chan listenRequest
	backoff  func() backoff.BackOff

	cancelFunc context.CancelFunc
	done       chan struct{}
}

var _ Fabric = (*Postgres)(nil)

type listenRequest struct {
	ident  string
	listen bool
	result chan error
}

// PostgresOption configures the Postgres fabric
type PostgresOption func(*Postgres) error

// WithPostgresBackOff overrides the reconnect policy of the listen loop
func WithPostgresBackOff(newBackOff func() backoff.BackOff) PostgresOption {
	return func(p *Postgres) error {
		if newBackOff == nil {
			return fmt.Errorf("backoff factory cannot be nil")
		}
		p.backoff = newBackOff
		return nil
	}
}

// NewPostgres starts the listen loop over a dedicated connection taken from pool.
// The pool stays owned by the caller.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	p := &Postgres{
		pool:     pool,
		hub:      newHub(defaultBuffer),
		idents:   make(map[string]string),
		requests: make(chan listenRequest),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelFunc = cancel
	go p.listen(loopCtx, conn)
	return p, nil
}

// ListenIdentifier maps a channel name onto a valid LISTEN identifier
func ListenIdentifier(channel string) string {
	sum := sha256.Sum256([]byte(channel))
	return identPrefix + hex.EncodeToString(sum[:16])
}

// Publish sends payload with pg_notify
func (p *Postgres) Publish(ctx context.Context, channel string, payload []byte) error {
	if p.hub.isClosed() {
		return ErrClosed
	}
	if len(payload) > MaxNotifyPayload {
		return p.publishByReference(ctx, channel, payload)
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ListenIdentifier(channel), string(payload)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

// publishByReference stores payload and notifies its id in one transaction,
// so the row is visible before any listener receives the notification
func (p *Postgres) publishByReference(ctx context.Context, channel string, payload []byte) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO fabric_payloads (channel, payload) VALUES ($1, $2) RETURNING id`,
			channel, payload,
		).Scan(&id); err != nil {
			return fmt.Errorf("failed to store payload: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM fabric_payloads WHERE created_at < now() - make_interval(secs => $1)`,
			spillRetention.Seconds(),
		); err != nil {
			return fmt.Errorf("failed to prune stored payloads: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`,
			ListenIdentifier(channel), refPrefix+strconv.FormatInt(id, 10)); err != nil {
			return fmt.Errorf("failed to notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Published payload by reference", "channel", channel, "bytes", len(payload))
	return nil
}

// Subscribe adds a local subscription. The first subscription for a channel
// returns after LISTEN has executed on the listen connection.
func (p *Postgres) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	sub, first, err := p.hub.add(channel, p.release)
	if err != nil {
		return nil, err
	}
	if !first {
		return sub, nil
	}

	ident := ListenIdentifier(channel)
	p.identsMu.Lock()
	p.idents[ident] = channel
	p.identsMu.Unlock()

	if err := p.request(ctx, ident, true); err != nil {
		p.hub.remove(sub)
		sub.terminate()
		p.forget(ident)
		return nil, fmt.Errorf("failed to listen on channel: %w", err)
	}
	return sub, nil
}

// Ping checks the pool is reachable
func (p *Postgres) Ping(ctx context.Context) error {
	if p.hub.isClosed() {
		return ErrClosed
	}
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close stops the listen loop and closes every subscription
func (p *Postgres) Close() error {
	if !p.hub.close() {
		return nil
	}
	p.cancelFunc()
	<-p.done
	return nil
}

func (p *Postgres) release(sub *Subscription) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if !p.hub.remove(sub) || p.hub.isClosed() {
		return
	}
	ident := ListenIdentifier(sub.channel)
	p.forget(ident)
	if err := p.request(context.Background(), ident, false); err != nil {
		slog.Warn("Failed to unlisten channel", "channel", sub.channel, "error", err)
	}
}

func (p *Postgres) forget(ident string) {
	p.identsMu.Lock()
	delete(p.idents, ident)
	p.identsMu.Unlock()
}

// request hands a LISTEN or UNLISTEN to the loop and waits for it to run.
// A request that races a reconnect still succeeds: the loop listens on every
// live channel after reconnecting.
func (p *Postgres) request(ctx context.Context, ident string, listen bool) error {
	req := listenRequest{ident: ident, listen: listen, result: make(chan error, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

func (p *Postgres) connect(ctx context.Context) (*pgx.Conn, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	return res.Hijack(), nil
}

// reconnect retries until a connection is established and every live channel
// is listened on again
func (p *Postgres) reconnect(ctx context.Context) (*pgx.Conn, error) {
	return backoff.Retry(ctx, func() (*pgx.Conn, error) {
		conn, err := p.connect(ctx)
		if err != nil {
			return nil, err
		}
		if err := p.relisten(ctx, conn); err != nil {
			_ = conn.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(p.backoff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Fabric listen connection unavailable, retrying", "error", err, "retry_in", next)
		}),
	)
}

func (p *Postgres) relisten(ctx context.Context, conn *pgx.Conn) error {
	p.identsMu.RLock()
	idents := make([]string, 0, len(p.idents))
	for ident := range p.idents {
		idents = append(idents, ident)
	}
	p.identsMu.RUnlock()

	for _, ident := range idents {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ident}.Sanitize()); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}
	if len(idents) > 0 {
		slog.Info("Fabric listen connection restored", "channels", len(idents))
	}
	return nil
}

// listen owns conn. It alternates between waiting for notifications and
// serving LISTEN/UNLISTEN requests, interrupting the wait when one arrives.
func (p *Postgres) listen(ctx context.Context, conn *pgx.Conn) {
	defer close(p.done)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	var pending *listenRequest
	for {
		if pending != nil {
			pending.result <- p.apply(ctx, conn, pending)
			pending = nil
		}

		waitCtx, cancel := context.WithCancel(ctx)
		interrupted := make(chan *listenRequest, 1)
		go func() {
			defer close(interrupted)
			select {
			case req := <-p.requests:
				interrupted <- &req
				cancel()
			case <-waitCtx.Done():
			}
		}()

		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		pending = <-interrupted

		if err == nil {
			p.dispatch(ctx, n.Channel, n.Payload)
			continue
		}
		if ctx.Err() != nil {
			if pending != nil {
				pending.result <- ErrClosed
			}
			return
		}
		if pending != nil && errors.Is(err, context.Canceled) && !conn.IsClosed() {
			continue
		}

		slog.Warn("Fabric listen connection lost", "error", err)
		_ = conn.Close(context.Background())
		conn, err = p.reconnect(ctx)
		if err != nil {
			conn = nil
			if pending != nil {
				pending.result <- ErrClosed
			}
			return
		}
		if pending != nil {
			// relisten already covered a LISTEN registered before the request was sent
			pending.result <- p.apply(ctx, conn, pending)
			pending = nil
		}
	}
}

func (p *Postgres) apply(ctx context.Context, conn *pgx.Conn, req *listenRequest) error {
	stmt := "LISTEN "
	if !req.listen {
		stmt = "UNLISTEN "
	}
	if _, err := conn.Exec(ctx, stmt+pgx.Identifier{req.ident}.Sanitize()); err != nil {
		return fmt.Errorf("failed to %s: %w", stmt[:len(stmt)-1], err)
	}
	return nil
}

func (p *Postgres) dispatch(ctx context.Context, ident, payload string) {
	p.identsMu.RLock()
	channel, ok := p.idents[ident]
	p.identsMu.RUnlock()
	if !ok {
		return
	}

	if !strings.HasPrefix(payload, refPrefix) {
		p.hub.dispatch(channel, []byte(payload))
		return
	}
	data, err := p.fetch(ctx, strings.TrimPrefix(payload, refPrefix))
	if err != nil {
		slog.Warn("Dropping stored fabric payload", "channel", channel, "ref", payload, "error", err)
		return
	}
	p.hub.dispatch(channel, data)
}

// fetch reads a payload written by publishByReference. It runs on the listen
// loop so notifications keep their order.
func (p *Postgres) fetch(ctx context.Context, ref string) ([]byte, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload reference: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var data []byte
	if err := p.pool.QueryRow(ctx, `SELECT payload FROM fabric_payloads WHERE id = $1`, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payload %d expired", id)
		}
		return nil, fmt.Errorf("failed to load payload: %w", err)
	}
	return data, nil
}
