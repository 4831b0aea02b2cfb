package main

import (
	"context"
	"errors"
	"os"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"hroshi/internal/backend"
	"hroshi/internal/cache"
	"hroshi/internal/cli"
	"hroshi/internal/config"
	"hroshi/internal/conversation"
	apphttp "hroshi/internal/http"
	"hroshi/internal/log"
	"hroshi/internal/middleware/ratelimit"
	"hroshi/internal/telegram"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	cli.MustValidateConfig(logger, cfg, (*config.Config).ValidateForBot)

	if err := run(cfg, logger); err != nil {
		logger.Error("Bot stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Bot stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(cfg.ProfileFile)
	if err != nil {
		return err
	}
	taxonomy, err := profile.Taxonomy()
	if err != nil {
		return err
	}
	msgs, err := conversation.NewMessages(profile.Currency, profile.Messages)
	if err != nil {
		return err
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	if result.Cleanup != nil {
		defer cli.RunCleanup(logger, 10*time.Second, func(context.Context) {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err)
			}
		})
	}

	sessions, stateCaches := conversation.NewMemorySessions(cfg.StateMaxUsers, cfg.StateTTL, cfg.LastIncomeTTL)
	janitor := cache.NewManager(logger.WithComponent(log.ComponentState).Logger)
	for _, c := range append(result.Caches, stateCaches...) {
		janitor.Register(c)
	}

	dispatcher, err := conversation.NewDispatcher(conversation.Deps{
		Taxonomy: taxonomy,
		Ledger:   result.Ledger,
		Sessions: sessions,
		Messages: msgs,
		Location: loc,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.TelegramToken,
		Debug:       cfg.TelegramDebug,
		PollTimeout: time.Duration(cfg.TelegramPollTimeout) * time.Second,
		RateLimit: ratelimit.Config{
			PerSecond: cfg.UserRateLimit,
			Burst:     cfg.UserRateBurst,
		},
	}, dispatcher, logger)
	if err != nil {
		return err
	}

	health := apphttp.NewServer(":"+cfg.Port, logger)
	health.AddCheck("bot", func(context.Context) error {
		if !bot.Ready() {
			return errors.New("not polling")
		}
		return nil
	})

	logger.Info("Starting hroshi",
		"backend", cfg.DataBackend,
		"timezone", loc.String(),
		"categories", len(taxonomy.Categories()),
		"port", cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx, time.Minute) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
