package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"guildbot/internal/bot"
	"guildbot/internal/config"
	"guildbot/internal/module"
	"guildbot/internal/store"
	"guildbot/internal/transport/telegram"
	"guildbot/modules/echo"
	"guildbot/modules/moderation"
	"guildbot/modules/perms"
	logx "guildbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cm := config.NewManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	cm.SetLogger(log.With(logx.String("comp", "config")))
	cm.SetValidator(validateConfig)

	log.Info("starting", logx.String("version", bot.Version), logx.String("config", cfgPath))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	app, err := bot.New(cfg, st, adapter, log)
	if err != nil {
		return err
	}

	mods, err := buildModules(app, st, cfg, log)
	if err != nil {
		return err
	}
	if err := module.Load(app.Registry(), app.Scheduler(), app.Bus(), log.With(logx.String("comp", "module")), mods...); err != nil {
		return err
	}

	// Hot reload: the logging section applies live, everything else needs a
	// restart.
	go func() {
		_ = cm.Watch(ctx)
	}()
	updates := cm.Subscribe(1)
	defer cm.Unsubscribe(updates)
	go func() {
		for next := range updates {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
			log.Info("logging config applied", logx.String("level", next.Logging.Level))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	return app.Run(ctx)
}

// buildModules assembles the module list from the config. Modules without a
// config section load with defaults; a section with enabled=false skips the
// module.
func buildModules(app *bot.App, st store.Store, cfg *config.Config, log logx.Logger) ([]module.Module, error) {
	mods := []module.Module{app.Builtins()}

	if moduleEnabled(cfg, "echo") {
		mods = append(mods, echo.New())
	}
	if moduleEnabled(cfg, "moderation") {
		mc, err := moderationConfig(cfg)
		if err != nil {
			return nil, err
		}
		mods = append(mods, moderation.New(mc, log.With(logx.String("comp", "moderation"))))
	}
	if moduleEnabled(cfg, "perms") {
		mods = append(mods, perms.New(st, app.Resolver()))
	}
	return mods, nil
}

func moduleEnabled(cfg *config.Config, name string) bool {
	raw, ok := cfg.Modules[name]
	if !ok {
		return true
	}
	return raw.Enabled
}

func moderationConfig(cfg *config.Config) (moderation.Config, error) {
	var wire struct {
		PurgeMax int    `json:"purge_max"`
		WarnTTL  string `json:"warn_ttl"`
	}
	if raw, ok := cfg.Modules["moderation"]; ok && len(raw.Config) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw.Config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wire); err != nil {
			return moderation.Config{}, fmt.Errorf("modules.moderation.config: %w", err)
		}
	}
	ttl, err := config.ParseDurationField("modules.moderation.config.warn_ttl", wire.WarnTTL)
	if err != nil {
		return moderation.Config{}, err
	}
	return moderation.Config{PurgeMax: wire.PurgeMax, WarnTTL: ttl}, nil
}

// validateConfig rejects reloaded configs with malformed duration fields so a
// bad edit keeps the running config instead of poisoning the next restart.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scheduler.grace", cfg.Scheduler.Grace); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}
