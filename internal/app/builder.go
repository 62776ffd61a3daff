package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/decksnap/decksnap-sync/internal/api"
	"github.com/decksnap/decksnap-sync/internal/app/storage"
	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/authz"
	"github.com/decksnap/decksnap-sync/internal/config"
	"github.com/decksnap/decksnap-sync/internal/events"
	"github.com/decksnap/decksnap-sync/internal/room"
	pkgsync "github.com/decksnap/decksnap-sync/internal/sync"
	"github.com/decksnap/decksnap-sync/internal/telemetry"
	"github.com/decksnap/decksnap-sync/internal/ws"
)

const (
	defaultIdleTimeout = 60 * time.Second
	tracerName         = "decksnap-sync"
)

// SyncAppOption is a function that configures the sync app builder
type SyncAppOption func(*syncAppConfig) error

// syncAppConfig collects the builder inputs. Component overrides are
// intended for tests.
type syncAppConfig struct {
	config *config.Config

	storageFactory storage.Factory
	tokenValidator auth.TokenValidator
	authorizer     ws.Authorizer

	address     string
	middlewares []func(http.Handler) http.Handler
}

func baseConfig(opts ...SyncAppOption) (*syncAppConfig, error) {
	cfg := &syncAppConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.Address
	}
	if cfg.address == "" {
		cfg.address = config.DefaultAddress
	}
	return cfg, nil
}

// NewSyncApp wires every component from the configuration
func NewSyncApp(ctx context.Context, opts ...SyncAppOption) (*SyncApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	cfg := b.config

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tracer := tel.Tracer(tracerName)

	if b.storageFactory == nil {
		b.storageFactory, err = storage.NewStorageFactory(ctx, cfg, storage.WithTracer(tracer))
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	c := &AppComponents{Telemetry: tel}
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			_ = c.close(ctx, b.storageFactory)
		}
	}()

	if c.Store, err = b.storageFactory.CreateStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if c.Fabric, err = b.storageFactory.CreateFabric(ctx); err != nil {
		return nil, fmt.Errorf("failed to create broadcast fabric: %w", err)
	}

	metrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	c.Rooms = room.NewRegistry(c.Fabric,
		room.WithChannelPrefix(cfg.Fabric.ChannelPrefix),
		room.WithMetrics(metrics),
		room.WithPublishTimeout(cfg.Sync.OperationTimeout),
	)
	c.Sync = pkgsync.NewHandler(c.Store, c.Rooms,
		pkgsync.WithOperationTimeout(cfg.Sync.OperationTimeout),
		pkgsync.WithMetrics(metrics),
		pkgsync.WithTracer(tracer),
	)

	httpServer, err := buildHTTPServer(b, c)
	if err != nil {
		return nil, err
	}

	cleanupNeeded = false
	return &SyncApp{
		config:     cfg,
		components: c,
		factory:    b.storageFactory,
		httpServer: httpServer,
		ready:      make(chan struct{}),
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides server.address
func WithAddress(addr string) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not a valid host:port: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}
		if host != "" && net.ParseIP(host) == nil {
			return fmt.Errorf("address host must be an IP address or localhost: %s", addr)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithTokenValidator replaces the HS256 validator built from auth.jwtSecretFile
func WithTokenValidator(v auth.TokenValidator) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		cfg.tokenValidator = v
		return nil
	}
}

// WithAuthorizer replaces the owner-only presentation authorizer
func WithAuthorizer(a ws.Authorizer) SyncAppOption {
	return func(cfg *syncAppConfig) error {
		cfg.authorizer = a
		return nil
	}
}

// buildHTTPServer builds the router, the WebSocket endpoint and the internal hooks
func buildHTTPServer(b *syncAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")
	cfg := b.config

	var authn *auth.Authenticator
	if b.tokenValidator != nil {
		authn = auth.NewAuthenticator(b.tokenValidator, c.Store)
	} else {
		var err error
		if authn, err = auth.NewFromConfig(&cfg.Auth, c.Store); err != nil {
			return nil, fmt.Errorf("failed to build authenticator: %w", err)
		}
	}

	internalToken, err := cfg.Auth.GetInternalToken()
	if err != nil {
		return nil, fmt.Errorf("failed to read internal token: %w", err)
	}
	if internalToken == "" {
		slog.Warn("No internal token configured; image event hook rejects all requests")
	}

	authorizer := b.authorizer
	if authorizer == nil {
		policy, err := newPolicyAuthorizer(&cfg.Auth, c.Store)
		if err != nil {
			return nil, err
		}
		if cfg.Auth.PolicyFile != "" {
			if c.PolicyWatcher, err = authz.WatchPolicyFile(cfg.Auth.PolicyFile, policy); err != nil {
				return nil, err
			}
		}
		authorizer = policy
	}

	wsHandler := ws.NewHandler(
		authn,
		authorizer,
		c.Rooms,
		c.Store,
		c.Sync,
		ws.WithPongWait(cfg.Sync.PongWait),
		ws.WithWriteWait(cfg.Sync.WriteWait),
		ws.WithMaxMessageSize(cfg.Sync.MaxMessageSize),
		ws.WithSendBuffer(cfg.Sync.SendBuffer),
		ws.WithHandshakeTimeout(cfg.Sync.OperationTimeout),
		ws.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	middlewares := b.middlewares
	if middlewares == nil {
		// no middleware.Timeout: WebSocket sessions outlive any request deadline
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			cors.Handler(cors.Options{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         300,
			}),
			api.LoggingMiddleware,
		}
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(c.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	// prepended to capture requests rejected further down the chain
	middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(c.Telemetry.TracerProvider()),
		httpMetrics.Middleware,
	}, middlewares...)

	router := api.NewServer(wsHandler,
		api.WithMiddlewares(middlewares...),
		api.WithReadinessCheck("store", c.Store),
		api.WithReadinessCheck("fabric", c.Fabric),
		api.WithMetricsHandler(c.Telemetry.MetricsHandler()),
		api.WithImageEvents(events.NewNotifier(c.Rooms), internalToken),
	)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

func newPolicyAuthorizer(cfg *config.AuthConfig, presentations authz.PresentationGetter) (*authz.PolicyAuthorizer, error) {
	var policy []byte
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		policy = data
	}
	return authz.NewPolicyAuthorizer(presentations, policy)
}
