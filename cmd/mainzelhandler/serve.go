package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/callback"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/config"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/mainzelliste"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/server"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the token backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	conn := mainzelliste.NewConnection(cfg.Mainzelliste.URL, cfg.Mainzelliste.APIKey, cfg.Mainzelliste.APIVersion, logger)
	if cfg.Server.UseCallback {
		conn.WithCallback(cfg.CallbackURL())
	}

	var store callback.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			return err
		}
		store = callback.NewRedisStore(client, cfg.Redis.Prefix)
	} else {
		memory := callback.NewMemoryStore()
		store = memory
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := memory.Clean(); n > 0 {
						logger.Debug().Int("removed", n).Msg("cleaned expired pseudonyms")
					}
				case <-stop:
					return
				}
			}
		}()
	}

	srv := server.New(
		&server.SessionIssuer{Conn: conn},
		server.NewMemoryRepository(),
		callback.NewManager(store, cfg.PseudonymTimeout, logger),
		server.Options{Prefix: cfg.Server.Prefix, APIKey: cfg.Server.APIKey, UseCallback: cfg.Server.UseCallback},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, cfg.Server.Address, logger)
}

// serve runs srv until ctx is done or the server fails to run.
func serve(ctx context.Context, srv *server.Server, address string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
