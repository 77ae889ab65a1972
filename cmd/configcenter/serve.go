package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"configcenter/internal/api"
	"configcenter/internal/configcenter"
	"configcenter/internal/event"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	tokenEnv          = "CONFIGCENTER_TOKEN"
)

type serveOptions struct {
	listen string
	token  string
}

func newServeCmd(provider *AppProvider) *cobra.Command {
	return buildServeCmd(provider, nil)
}

// buildServeCmd sends the bound address on ready once the server accepts
// connections.
func buildServeCmd(provider *AppProvider, ready chan<- string) *cobra.Command {
	var options serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configuration tree over HTTP",
		Long: `Serve watches the root directory and exposes it over HTTP:

  GET    /api/status                          root, encoding, watch mode
  GET    /api/groups                          group names
  GET    /api/configs[?group=g]               items with content
  GET    /api/groups/{group}/configs          keys of a group
  GET    /api/groups/{group}/configs/{key}    item content (?raw=true for text)
  PUT    /api/groups/{group}/configs/{key}    publish
  DELETE /api/groups/{group}/configs/{key}    remove
  GET    /api/events                          websocket change stream
  GET    /api/logs                            recent log entries
  GET    /metrics                             Prometheus metrics

When a token is set (--token or $CONFIGCENTER_TOKEN) every /api request must
carry it as a Bearer token or a token query parameter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			if strings.TrimSpace(options.listen) != "" {
				app.Settings.Server.Listen = options.listen
			}
			if options.token == "" {
				options.token = os.Getenv(tokenEnv)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, app, options.token, ready)
		},
	}

	cmd.Flags().StringVar(&options.listen, "listen", "", "Address to listen on (default from server.listen)")
	cmd.Flags().StringVar(&options.token, "token", "", "Require this token on API requests")

	return cmd
}

func runServe(ctx context.Context, app *App, token string, ready chan<- string) error {
	logger := app.Logger
	bus := event.NewBus[configcenter.ConfigChangedEvent](context.Background(), event.BusOptions{
		Name:        "config_events",
		HistorySize: app.Settings.Server.EventHistory,
		Registry:    app.Metrics,
		Logger:      logger,
	})
	config, err := app.Open(bus)
	if err != nil {
		bus.Close()
		return err
	}

	router := api.NewRouter(api.RouterOptions{
		Config:         config,
		Events:         bus,
		Logger:         logger,
		Metrics:        app.Metrics,
		AuthToken:      token,
		AllowedOrigins: app.Settings.Server.AllowedOrigins,
		PublishRate:    app.Settings.Server.PublishRate,
		PublishBurst:   app.Settings.Server.PublishBurst,
	})

	listener, err := net.Listen("tcp", app.Settings.Server.Listen)
	if err != nil {
		_ = config.Close()
		bus.Close()
		return fmt.Errorf("listen on %s: %w", app.Settings.Server.Listen, err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	shutdown := newServeShutdown(logger, server, config, bus)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdown.Run(shutdownCtx)
	})

	address := listener.Addr().String()
	logger.Info("configcenter listening", map[string]string{
		"address":    address,
		"root":       config.RootDirectory(),
		"watch_mode": watchModeName(config),
	})
	if ready != nil {
		ready <- address
	}
	return group.Wait()
}

func watchModeName(config *configcenter.FileSystemConfiguration) string {
	if config.IsBasedPollingWatchService() {
		return "polling"
	}
	return "native"
}
