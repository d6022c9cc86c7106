package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flexible-todos/internal/bot"
	"flexible-todos/internal/config"
	"flexible-todos/internal/importer"
	"flexible-todos/internal/logging"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/service"
)

const usage = `usage:
  flexibletodos [run]                          start the bot
  flexibletodos import <regularly.db> <telegram-id>   import tasks from Regularly`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	args := os.Args[1:]
	command := "run"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		err = run(ctx, cfg, log)
	case "import":
		err = runImport(ctx, cfg, log, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("failed")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	now := func() time.Time { return time.Now().In(cfg.Location) }

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	settingsSvc := service.NewSettingsService(settingsRepo, cfg.Defaults())
	taskSvc := service.NewTaskService(taskRepo, completionRepo, now)
	notificationSvc := service.NewNotificationService(taskRepo, userRepo, settingsSvc, now, log)

	telegramBot, err := bot.New(cfg.TelegramToken, bot.Deps{
		Users:         userRepo,
		Tasks:         taskSvc,
		Settings:      settingsSvc,
		Notifications: notificationSvc,
		SendRate:      cfg.SendRatePerSec,
		Now:           now,
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	notifier := telegramBot.Notifier()
	scheduler := service.NewSchedulerService(cfg.Location, log)
	if _, err := scheduler.ScheduleInterval(cfg.CheckInterval, func() {
		jobCtx, cancel := context.WithTimeout(ctx, cfg.CheckInterval)
		defer cancel()
		if err := notifier.Sweep(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("reminder sweep")
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Info().Dur("check_interval", cfg.CheckInterval).Str("timezone", cfg.Location.String()).Msg("flexible todos bot started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped: %w", err)
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func runImport(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	if len(args) != 2 {
		return errors.New(usage)
	}
	telegramID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("telegram id %q: %w", args[1], err)
	}

	src, err := importer.OpenRegularly(args[0], log)
	if err != nil {
		return err
	}
	if srcDB, err := src.DB(); err == nil {
		defer srcDB.Close()
	}

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	users := repository.NewUserRepository(db)
	user, err := users.FindByTelegramID(ctx, telegramID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The user has not talked to the bot yet; their profile fills in on first contact.
		user, err = users.UpsertFromTelegram(ctx, telegramID, "", "", "")
	}
	if err != nil {
		return fmt.Errorf("user: %w", err)
	}

	res, err := importer.New(db, cfg.Location, log).Regularly(ctx, src, user)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d tasks and %d completions, skipped %d rows\n", res.Tasks, res.Completions, len(res.Skipped))
	return nil
}
