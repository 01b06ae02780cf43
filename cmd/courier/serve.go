package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/channel/adapters/discord"
	"github.com/courierhq/courier/internal/channel/adapters/lark"
	"github.com/courierhq/courier/internal/channel/adapters/telegram"
	"github.com/courierhq/courier/internal/channel/adapters/whatsapp"
	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/db"
	"github.com/courierhq/courier/internal/dedupe"
	"github.com/courierhq/courier/internal/directory"
	"github.com/courierhq/courier/internal/handlers"
	"github.com/courierhq/courier/internal/ingest"
	"github.com/courierhq/courier/internal/logger"
	"github.com/courierhq/courier/internal/onboarding"
	"github.com/courierhq/courier/internal/security"
	"github.com/courierhq/courier/internal/server"
	memstore "github.com/courierhq/courier/internal/store/memory"
	pgstore "github.com/courierhq/courier/internal/store/postgres"
	"github.com/courierhq/courier/internal/version"
	"github.com/courierhq/courier/internal/worker"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideChannelRegistry,
			provideDeduper,
			provideStorage,
			provideDirectoryResolver,
			provideSecurityPolicy,
			provideWorkerRegistry,
			onboarding.NewService,
			ingest.NewPipeline,
			ingest.NewOutbound,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewAuthHandler),
			provideServerHandler(handlers.NewOnboardingHandler),
			provideServer,
		),
		fx.Invoke(
			startDedupeSweeper,
			startChannelReceivers,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideChannelRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(log))
	registry.MustRegister(discord.NewAdapter(log))
	registry.MustRegister(lark.NewAdapter(log))
	registry.MustRegister(whatsapp.NewAdapter(log))
	return registry
}

func provideDeduper(log *slog.Logger, cfg config.Config) (*dedupe.Deduper, error) {
	ttl, err := cfg.Dedupe.TTLDuration()
	if err != nil {
		return nil, fmt.Errorf("dedupe ttl: %w", err)
	}
	return dedupe.New(log, ttl), nil
}

func provideStorage(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (onboarding.Store, directory.Adapter, ingest.MessageWriter, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := db.Open(context.Background(), log, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
		st := pgstore.New(pool)
		return st, st, st, nil
	default:
		st := memstore.New()
		return st, st, st, nil
	}
}

func provideDirectoryResolver(log *slog.Logger, adapter directory.Adapter) *directory.Resolver {
	return directory.NewResolver(log, adapter)
}

func provideSecurityPolicy(log *slog.Logger, registry *channel.Registry) *security.Policy {
	return security.NewPolicy(log, registry)
}

func provideWorkerRegistry(log *slog.Logger) *worker.Registry {
	return worker.NewRegistry(log)
}

type serverParams struct {
	fx.In

	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Handlers)
}

func startDedupeSweeper(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, deduper *dedupe.Deduper) error {
	spec := strings.TrimSpace(cfg.Dedupe.SweepCron)
	if spec == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if removed := deduper.Sweep(); removed > 0 {
			logger.Debug("dedupe sweep", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("dedupe sweep schedule: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { <-c.Stop().Done(); return nil },
	})
	return nil
}

// channelConfigs builds one ChannelConfig per platform that has credentials.
func channelConfigs(cfg config.Config) []channel.ChannelConfig {
	var configs []channel.ChannelConfig
	if token := strings.TrimSpace(cfg.Channels.Telegram.BotToken); token != "" {
		configs = append(configs, channel.ChannelConfig{
			ID:               "telegram-default",
			BotID:            cfg.Channels.Telegram.BotID,
			ChannelType:      telegram.Type,
			Credentials:      map[string]any{"botToken": token},
			ExternalIdentity: cfg.Channels.Telegram.BotID,
		})
	}
	if token := strings.TrimSpace(cfg.Channels.Discord.BotToken); token != "" {
		configs = append(configs, channel.ChannelConfig{
			ID:               "discord-default",
			BotID:            cfg.Channels.Discord.BotID,
			ChannelType:      discord.Type,
			Credentials:      map[string]any{"botToken": token},
			ExternalIdentity: cfg.Channels.Discord.BotID,
		})
	}
	if appID := strings.TrimSpace(cfg.Channels.Lark.AppID); appID != "" {
		configs = append(configs, channel.ChannelConfig{
			ID:               "lark-default",
			BotID:            cfg.Channels.Lark.BotID,
			ChannelType:      lark.Type,
			Credentials:      map[string]any{"appId": appID, "appSecret": cfg.Channels.Lark.AppSecret},
			ExternalIdentity: cfg.Channels.Lark.BotID,
		})
	}
	return configs
}

func startChannelReceivers(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, registry *channel.Registry, pipeline *ingest.Pipeline) {
	configs := channelConfigs(cfg)
	if len(configs) == 0 {
		return
	}
	handler := pipeline.InboundHandler()
	var connections []channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, chCfg := range configs {
				receiver, ok := registry.GetReceiver(chCfg.ChannelType)
				if !ok {
					logger.Warn("channel has no receiver", slog.String("channel", chCfg.ChannelType.String()))
					continue
				}
				conn, err := receiver.Connect(ctx, chCfg, handler)
				if err != nil {
					return fmt.Errorf("connect %s: %w", chCfg.ChannelType, err)
				}
				logger.Info("channel connected", slog.String("channel", chCfg.ChannelType.String()))
				connections = append(connections, conn)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, conn := range connections {
				if err := conn.Stop(ctx); err != nil {
					logger.Warn("channel stop failed",
						slog.String("channel", conn.ChannelType().String()),
						slog.Any("error", err))
				}
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, workers *worker.Registry) {
	fmt.Printf("Starting Courier %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			workers.StopAll()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
