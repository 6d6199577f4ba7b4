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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskminder/internal/api"
	"taskminder/internal/config"
	"taskminder/internal/notify"
	"taskminder/internal/reminder"
	"taskminder/internal/service"
	"taskminder/internal/store"
	"taskminder/internal/worker"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the reminder scheduler",
		Long: `Start the taskminder server.

Examples:
  taskminder serve --addr :3000
  taskminder serve --config taskminder.yaml
  TASKMINDER_STORE_DRIVER=sqlite TASKMINDER_STORE_PATH=tasks.db taskminder serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().String("addr", ":3000", "HTTP bind address")
	cmd.Flags().String("store-driver", "file", "record store backend (file, sqlite, gorm)")
	cmd.Flags().String("store-path", "data", "directory or database file for the record store")
	cmd.Flags().Bool("debug", false, "expose /debug/pprof")
	cmd.Flags().Bool("fire-past-due", false, "deliver reminders that are already past due at startup")
	cmd.Flags().Int("workers", 4, "concurrent reminder deliveries")

	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("store.driver", cmd.Flags().Lookup("store-driver"))
	_ = v.BindPFlag("store.path", cmd.Flags().Lookup("store-path"))
	_ = v.BindPFlag("debug", cmd.Flags().Lookup("debug"))
	_ = v.BindPFlag("reminders.fire_past_due", cmd.Flags().Lookup("fire-past-due"))
	_ = v.BindPFlag("reminders.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runServe(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	repo, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	log.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("record store opened")

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	pool := worker.NewPool(cfg.Reminders.Workers)
	runner := reminder.NewCronRunner(loc)
	sched := reminder.NewScheduler(runner, repo, notifier, reminder.Options{
		FirePastDue: cfg.Reminders.FirePastDue,
		Pool:        pool,
		Location:    loc,
	})
	runner.Start()

	svc := service.NewTaskService(service.Deps{Store: repo, Reminders: sched, Location: loc})
	if _, err := svc.RecoverReminders(context.Background()); err != nil {
		log.Error().Err(err).Msg("recover reminders")
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServerWithDebug(svc, sched.Len, cfg.Debug)}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case err := <-errc:
		log.Error().Err(err).Msg("http server")
	}
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	runner.Stop()
	if err := pool.Shutdown(ctxTimeout); err != nil {
		log.Warn().Err(err).Msg("reminder deliveries still running")
	}
	return nil
}

// buildNotifier assembles every configured delivery channel. Without an
// SMTP host reminders are only logged.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var channels notify.Multi

	if cfg.SMTP.Host != "" {
		email, err := notify.NewEmail(notify.SMTPConfig(cfg.SMTP))
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		channels = append(channels, email)
	} else {
		log.Warn().Msg("no smtp host configured, reminders will only be logged")
		channels = append(channels, notify.Log{})
	}

	if cfg.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}

	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		channels = append(channels, tg)
	}

	if len(channels) == 1 {
		return channels[0], nil
	}
	return channels, nil
}
