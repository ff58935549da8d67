package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/subosito/gotenv"

	"github.com/Spok95/biblio-bot/internal/config"
	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
	"github.com/Spok95/biblio-bot/internal/domain/policy"
	"github.com/Spok95/biblio-bot/internal/infra/api"
	"github.com/Spok95/biblio-bot/internal/infra/db"
	httpx "github.com/Spok95/biblio-bot/internal/infra/http"
	"github.com/Spok95/biblio-bot/internal/infra/logger"
	"github.com/Spok95/biblio-bot/internal/infra/notify"
	"github.com/Spok95/biblio-bot/internal/store/postgres"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	rules := policy.NewCached(policy.NewRepo(pool), cfg.Lending.PolicyTTL)

	opts := []lending.Option{}
	if cfg.Telegram.Token != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed", "err", err)
			return
		}
		opts = append(opts, lending.WithNotifier(notify.NewTelegram(tg, log, cfg.Telegram.AdminChatID)))
		log.Info("telegram notifier enabled", "bot", tg.Self.UserName)
	}

	engine := lending.NewService(postgres.NewStore(pool), rules, log, opts...)

	handler := api.NewHandler(log, engine, catalog.NewRepo(pool), patrons.NewRepo(pool))
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, handler)
	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
