package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nyl/internal/config"
	"nyl/internal/hub"
	"nyl/internal/integrations/anthropic"
	"nyl/internal/integrations/ollama"
	"nyl/internal/integrations/paramstore"
	"nyl/internal/integrations/statusbus"
	"nyl/internal/repository"
	"nyl/internal/server"
	"nyl/internal/status"
	"nyl/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the appliance server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// settingsStore is what the gateway and status service need from settings.
type settingsStore interface {
	usecase.SettingsStore
	status.ProviderSource
}

func loadAWS(ctx context.Context, cfg config.Config) (aws.Config, error) {
	if !cfg.UsesAWS() {
		return aws.Config{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

func newSettingsStore(cfg config.Config, awsCfg aws.Config) (settingsStore, error) {
	if cfg.Settings.Backend == config.BackendDynamoDB {
		return repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Settings.DynamoTable, cfg.Settings.DeviceID, cfg.ProviderDefaults())
	}
	return repository.NewFileStore(cfg.Settings.Path, cfg.ProviderDefaults())
}

func newRedis(cfg config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return err
	}

	// ---- Settings and credentials ----
	settings, err := newSettingsStore(cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("create settings store: %w", err)
	}
	var secrets usecase.SecretStore
	if cfg.Secrets.SSMPrefix != "" {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.Secrets.SSMPrefix)
		if err != nil {
			return fmt.Errorf("create secret store: %w", err)
		}
		secrets = ps
	}

	// ---- Providers and gateway ----
	var cloudOpts []anthropic.Option
	if cfg.AI.CloudBaseURL != "" {
		cloudOpts = append(cloudOpts, anthropic.WithBaseURL(cfg.AI.CloudBaseURL))
	}
	gateway, err := usecase.NewGateway(settings, secrets, ollama.NewClient(), anthropic.NewClient(cloudOpts...), logger.With("component", "gateway"))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	// ---- Status and broadcast ----
	updates := hub.New(logger.With("component", "hub"))
	statusSvc, err := status.NewService(settings, status.Options{
		Name:              cfg.DeviceName,
		Version:           Version,
		HeartbeatInterval: cfg.Status.HeartbeatInterval,
	}, logger.With("component", "status"))
	if err != nil {
		return fmt.Errorf("create status service: %w", err)
	}
	ticker, err := status.NewTicker(statusSvc, updates, cfg.Status.HeartbeatInterval, cfg.Status.UpdateInterval, logger.With("component", "ticker"))
	if err != nil {
		return fmt.Errorf("create status ticker: %w", err)
	}

	var relay *statusbus.Relay
	if cfg.Redis.URL != "" {
		rdb, err := newRedis(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		relay, err = statusbus.NewRelay(rdb, cfg.Redis.Channel, statusSvc, updates, logger.With("component", "statusbus"))
		if err != nil {
			return fmt.Errorf("create status relay: %w", err)
		}
	}

	// ---- HTTP ----
	gin.SetMode(gin.ReleaseMode)
	front, err := server.New(gateway, statusSvc, updates, server.Options{
		WriteTimeout: cfg.Server.WriteTimeout,
		OutboxSize:   cfg.Server.OutboxSize,
	}, logger.With("component", "http"))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           front.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "version", Version, "settings_backend", cfg.Settings.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		updates.Close()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ticker.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			// The relay is optional; losing it must not take the server down.
			if err := relay.Run(gctx); err != nil {
				logger.Error("status relay stopped", "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}
