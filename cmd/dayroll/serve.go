package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dayroll/internal/api"
	"dayroll/internal/bot"
	"dayroll/internal/config"
	"dayroll/internal/database"
	"dayroll/internal/domain"
	"dayroll/internal/events"
	"dayroll/internal/logging"
	"dayroll/internal/metrics"
	"dayroll/internal/scheduler"
	"dayroll/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP/gRPC APIs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		logger := logging.Component(a.logger, "serve")

		notifier, tgBot := a.telegram()
		sched, err := a.scheduler(notifier)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()

		startMetrics(ctx, a.cfg, logger)

		if tgBot != nil && a.cfg.Notify.Telegram.Commands {
			commands := bot.New(tgBot, a.cfg.Notify.Telegram.ChatID, a.tasks, a.syncer, logging.Component(a.logger, "bot"))
			go commands.Start(ctx)
			defer commands.Stop()
		}

		var grpcServer *api.GRPCServer
		var httpServer *api.HTTPServer
		if a.cfg.API.Enabled {
			if a.cfg.API.GRPC.Enabled {
				grpcServer, err = api.NewGRPCServer(&a.cfg.API, a.syncer, logging.Component(a.logger, "grpc"))
				if err != nil {
					return err
				}
				go func() {
					if err := grpcServer.Serve(); err != nil {
						logger.Error().Err(err).Msg("grpc server stopped")
					}
				}()
			}
			if a.cfg.API.HTTP.Enabled {
				httpServer = api.NewHTTPServer(&a.cfg.API, a.tasks, a.syncer, a.db, logging.Component(a.logger, "http"))
				go func() {
					if err := httpServer.Start(); err != nil {
						logger.Error().Err(err).Msg("http server stopped")
					}
				}()
			}
		}

		logger.Info().
			Str("provider", a.cfg.Sync.Provider).
			Strs("jobs", sched.Jobs()).
			Bool("api", a.cfg.API.Enabled).
			Msg("dayroll started")

		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		if httpServer != nil {
			_ = httpServer.Shutdown(shutdownCtx)
		}
		logger.Info().Msg("dayroll stopped")
		return nil
	})
}

// telegram returns the notifier and, when Telegram is configured, the bot
// client. Without Telegram notifications go to the log.
func (a *app) telegram() (domain.Notifier, *tgbotapi.BotAPI) {
	tg := a.cfg.Notify.Telegram
	if !tg.Enabled {
		return service.LogNotifier{Logger: logging.Component(a.logger, "notify")}, nil
	}
	client, err := service.NewTelegramBot(tg.BotToken)
	if err != nil {
		a.logger.Warn().Err(err).Msg("telegram init failed, notifications go to the log")
		return service.LogNotifier{Logger: logging.Component(a.logger, "notify")}, nil
	}
	telegram := service.NewTelegramService(client, tg.ChatID, logging.Component(a.logger, "telegram"))
	a.bus.Subscribe(events.EventSyncCompleted, telegram.HandleSyncCompleted)
	return telegram, client
}

func (a *app) scheduler(notifier domain.Notifier) (*scheduler.Scheduler, error) {
	cfg := a.cfg
	sched := scheduler.New(cfg.Location(), logging.Component(a.logger, "scheduler"))

	jobs := []scheduler.Job{scheduler.DayRollover(a.store)}
	if a.provider != nil {
		jobs = append(jobs, scheduler.AutoSync(a.syncer, cfg.Sync.Interval))
		h, m, err := config.ParseClock(cfg.Sync.DailyAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduler.DailySync(a.syncer, scheduler.Clock{Hour: h, Minute: m}))
	}
	if cfg.Backup.Enabled {
		backups := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(a.logger, "backup"))
		jobs = append(jobs, scheduler.Backup(backups, backups.Interval()))
	}
	if cfg.Notify.Telegram.Enabled {
		h, m, err := config.ParseClock(cfg.Notify.Telegram.DigestAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduler.AttentionDigest(a.tasks, notifier, scheduler.Clock{Hour: h, Minute: m}))
	}

	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	if cfg.Sync.PushOnWrite && a.provider != nil {
		a.syncer.SetWriteHook(func() { sched.Trigger(scheduler.JobAutoSync) })
	}
	return sched, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
