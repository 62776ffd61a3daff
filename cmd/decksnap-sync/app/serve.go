package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	syncapp "github.com/decksnap/decksnap-sync/internal/app"
	"github.com/decksnap/decksnap-sync/internal/config"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the sync server.

The server requires a configuration file (--config or DECKSNAP_CONFIG) that selects:
- the presentation store (memory or database)
- the broadcast fabric (memory, redis or postgres)
- authentication, timeouts and telemetry settings

Secrets are read from the files named in the configuration or from
DECKSNAP_JWT_SECRET, DECKSNAP_DATABASE_PASSWORD, DECKSNAP_REDIS_PASSWORD and
DECKSNAP_INTERNAL_TOKEN.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	for _, name := range []string{"address", "config"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := v.GetString("config")
	if configPath == "" {
		return fmt.Errorf("a configuration file is required (--config)")
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"storage", cfg.Storage.Type,
		"fabric", cfg.Fabric.Type,
	)

	opts := []syncapp.SyncAppOption{syncapp.WithConfig(cfg)}
	if addr := v.GetString("address"); addr != "" {
		opts = append(opts, syncapp.WithAddress(addr))
	}

	app, err := syncapp.NewSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Start)
	g.Go(func() error {
		<-gctx.Done()
		return app.Stop(cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}
