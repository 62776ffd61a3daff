// Package config provides configuration loading and management for the sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/decksnap/decksnap-sync/internal/telemetry"
)

const (
	// StorageTypeMemory keeps presentations in process memory
	StorageTypeMemory = "memory"

	// StorageTypeDatabase keeps presentations in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// FabricTypeMemory delivers broadcasts within a single instance
	FabricTypeMemory = "memory"

	// FabricTypeRedis delivers broadcasts through Redis pub/sub
	FabricTypeRedis = "redis"

	// FabricTypePostgres delivers broadcasts through PostgreSQL LISTEN/NOTIFY
	FabricTypePostgres = "postgres"
)

// EnvPrefix prefixes every environment variable read by the server
const EnvPrefix = "DECKSNAP"

// Environment variables consulted when the matching file option is not set
const (
	EnvDatabasePassword = "DECKSNAP_DATABASE_PASSWORD"
	EnvJWTSecret        = "DECKSNAP_JWT_SECRET"
	EnvInternalToken    = "DECKSNAP_INTERNAL_TOKEN"
	EnvRedisPassword    = "DECKSNAP_REDIS_PASSWORD"
)

// Defaults applied by LoadConfig and Default
const (
	DefaultAddress          = ":8080"
	DefaultChannelPrefix    = "presentation:"
	DefaultOperationTimeout = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 1 << 20
	DefaultSendBuffer       = 256
	DefaultReadTimeout      = 10 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Storage   StorageConfig     `yaml:"storage"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Fabric    FabricConfig      `yaml:"fabric"`
	Auth      AuthConfig        `yaml:"auth"`
	Sync      SyncConfig        `yaml:"sync"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`

	// AllowedOrigins is the CORS and WebSocket origin allow-list. Entries may be
	// glob patterns such as https://*.decksnap.io. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`

	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
}

// StorageConfig selects the store implementation
type StorageConfig struct {
	// Type is "memory" or "database"
	Type string `yaml:"type,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// Trailing whitespace is trimmed.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum pool size
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// MinConns is the number of connections kept open when idle
	MinConns int32 `yaml:"minConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// FabricConfig selects and configures the broadcast fabric
type FabricConfig struct {
	// Type is "memory", "redis" or "postgres"
	Type string `yaml:"type,omitempty"`

	// ChannelPrefix is prepended to the presentation id to form the room channel
	ChannelPrefix string `yaml:"channelPrefix,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines the Redis connection used by the redis fabric
type RedisConfig struct {
	Address      string `yaml:"address"`
	PasswordFile string `yaml:"passwordFile,omitempty"`
	DB           int    `yaml:"db,omitempty"`
}

// AuthConfig defines how collaborators and internal callers are authenticated
type AuthConfig struct {
	// JWTSecretFile holds the HS256 signing secret of access tokens
	JWTSecretFile string `yaml:"jwtSecretFile,omitempty"`

	// Issuer and Audience are checked when set
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`

	// InternalTokenFile holds the bearer token required by the internal event hook
	InternalTokenFile string `yaml:"internalTokenFile,omitempty"`

	// PolicyFile holds Cedar policies deciding who may open a presentation.
	// Only the owner may open it when unset.
	PolicyFile string `yaml:"policyFile,omitempty"`
}

// SyncConfig tunes connection handling
type SyncConfig struct {
	OperationTimeout time.Duration `yaml:"operationTimeout,omitempty"`
	PongWait         time.Duration `yaml:"pongWait,omitempty"`
	WriteWait        time.Duration `yaml:"writeWait,omitempty"`
	MaxMessageSize   int64         `yaml:"maxMessageSize,omitempty"`
	SendBuffer       int           `yaml:"sendBuffer,omitempty"`
}

// Default returns a configuration for a single instance with in-memory storage and fabric
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeMemory
	}
	if c.Fabric.Type == "" {
		c.Fabric.Type = FabricTypeMemory
	}
	if c.Fabric.ChannelPrefix == "" {
		c.Fabric.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Sync.OperationTimeout == 0 {
		c.Sync.OperationTimeout = DefaultOperationTimeout
	}
	if c.Sync.PongWait == 0 {
		c.Sync.PongWait = DefaultPongWait
	}
	if c.Sync.WriteWait == 0 {
		c.Sync.WriteWait = DefaultWriteWait
	}
	if c.Sync.MaxMessageSize == 0 {
		c.Sync.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Sync.SendBuffer == 0 {
		c.Sync.SendBuffer = DefaultSendBuffer
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch c.Storage.Type {
	case StorageTypeMemory:
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("storage.type %q requires a database section", StorageTypeDatabase)
		}
	default:
		return fmt.Errorf("storage.type must be one of %q or %q, got %q",
			StorageTypeMemory, StorageTypeDatabase, c.Storage.Type)
	}

	for _, origin := range c.Server.AllowedOrigins {
		if _, err := glob.Compile(origin, '.'); err != nil {
			return fmt.Errorf("server.allowedOrigins: invalid pattern %q: %w", origin, err)
		}
	}

	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.validateFabric(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

func (c *Config) validateFabric() error {
	switch c.Fabric.Type {
	case FabricTypeMemory:
	case FabricTypeRedis:
		if c.Fabric.Redis == nil || c.Fabric.Redis.Address == "" {
			return fmt.Errorf("fabric.type %q requires fabric.redis.address", FabricTypeRedis)
		}
	case FabricTypePostgres:
		if c.Database == nil {
			return fmt.Errorf("fabric.type %q requires a database section", FabricTypePostgres)
		}
	default:
		return fmt.Errorf("fabric.type must be one of %q, %q or %q, got %q",
			FabricTypeMemory, FabricTypeRedis, FabricTypePostgres, c.Fabric.Type)
	}
	if strings.TrimSpace(c.Fabric.ChannelPrefix) == "" {
		return fmt.Errorf("fabric.channelPrefix cannot be blank")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if d == nil {
		return nil
	}
	if d.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if d.MinConns < 0 || d.MaxConns < 0 || (d.MaxConns > 0 && d.MinConns > d.MaxConns) {
		return fmt.Errorf("database.minConns (%d) must not exceed database.maxConns (%d)", d.MinConns, d.MaxConns)
	}
	if d.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(d.ConnMaxLifetime); err != nil {
			return fmt.Errorf("database.connMaxLifetime: %w", err)
		}
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.OperationTimeout < 0 || s.PongWait < 0 || s.WriteWait < 0 {
		return fmt.Errorf("sync timeouts cannot be negative")
	}
	if s.PongWait > 0 && s.PongWait < time.Second {
		return fmt.Errorf("sync.pongWait must be at least 1s, got %s", s.PongWait)
	}
	if s.MaxMessageSize < 0 {
		return fmt.Errorf("sync.maxMessageSize cannot be negative")
	}
	if s.SendBuffer < 0 {
		return fmt.Errorf("sync.sendBuffer cannot be negative")
	}
	return nil
}

// PingPeriod returns how often the server pings each connection
func (s *SyncConfig) PingPeriod() time.Duration {
	return s.PongWait * 9 / 10
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from DECKSNAP_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	password, err := readSecret(d.PasswordFile, EnvDatabasePassword)
	if err != nil {
		return "", fmt.Errorf("database password: %w", err)
	}
	return password, nil
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetPassword returns the Redis password from PasswordFile or DECKSNAP_REDIS_PASSWORD.
// An unset password is not an error.
func (r *RedisConfig) GetPassword() (string, error) {
	password, err := readSecret(r.PasswordFile, EnvRedisPassword)
	if err != nil && r.PasswordFile != "" {
		return "", fmt.Errorf("redis password: %w", err)
	}
	return password, nil
}

// GetJWTSecret returns the access token signing secret from JWTSecretFile or DECKSNAP_JWT_SECRET
func (a *AuthConfig) GetJWTSecret() ([]byte, error) {
	secret, err := readSecret(a.JWTSecretFile, EnvJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	return []byte(secret), nil
}

// GetInternalToken returns the internal hook token. An empty token disables the hook.
func (a *AuthConfig) GetInternalToken() (string, error) {
	token, err := readSecret(a.InternalTokenFile, EnvInternalToken)
	if err != nil && a.InternalTokenFile != "" {
		return "", fmt.Errorf("internal token: %w", err)
	}
	return token, nil
}

// readSecret reads file when set, otherwise the environment variable env
func readSecret(file, env string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s is empty", file)
		}
		return secret, nil
	}

	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("not configured: set a file or the %s environment variable", env)
}
