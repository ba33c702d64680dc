// Package bot assembles guildbot's core: command registry, permission
// resolver, dispatcher, hook bus, task scheduler and the transport loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"guildbot/internal/command"
	"guildbot/internal/config"
	"guildbot/internal/dispatch"
	"guildbot/internal/hook"
	"guildbot/internal/permission"
	"guildbot/internal/store"
	"guildbot/internal/task"
	"guildbot/internal/transport"
	logx "guildbot/pkg/logx"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type App struct {
	log logx.Logger

	registry   *command.Registry
	store      store.Store
	resolver   *permission.Resolver
	bus        *hook.Bus
	scheduler  *task.Scheduler
	dispatcher *dispatch.Dispatcher
	adapter    transport.Adapter

	prefix    string
	workers   int
	queueSize int
	startedAt time.Time
}

// New builds the core around the given store and transport adapter. The
// adapter may be nil for headless use (tests, one-shot tools).
func New(cfg *config.Config, st store.Store, adapter transport.Adapter, log logx.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}

	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}
	queueSize := cfg.Dispatch.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	a := &App{
		log:       log,
		registry:  command.NewRegistry(),
		store:     st,
		resolver:  permission.NewResolver(st),
		bus:       hook.NewBus(log.With(logx.String("comp", "hooks"))),
		adapter:   adapter,
		prefix:    cfg.Dispatch.Prefix,
		workers:   workers,
		queueSize: queueSize,
		startedAt: time.Now(),
	}

	a.dispatcher = dispatch.New(dispatch.Config{
		Registry: a.registry,
		Resolver: a.resolver,
		Bus:      a.bus,
		Logger:   log.With(logx.String("comp", "dispatch")),
		Admins:   cfg.Admins,
	})

	if cfg.Scheduler.Enabled {
		grace, err := config.ParseDurationOrDefault("scheduler.grace", cfg.Scheduler.Grace, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.scheduler = task.NewScheduler(task.Config{
			Workers: cfg.Scheduler.Workers,
			Grace:   grace,
			Logger:  log.With(logx.String("comp", "scheduler")),
			Bus:     a.bus,
		})
	}

	return a, nil
}

func (a *App) Registry() *command.Registry      { return a.registry }
func (a *App) Scheduler() *task.Scheduler       { return a.scheduler }
func (a *App) Bus() *hook.Bus                   { return a.bus }
func (a *App) Store() store.Store               { return a.store }
func (a *App) Resolver() *permission.Resolver   { return a.resolver }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *App) StartedAt() time.Time             { return a.startedAt }

// Run starts the scheduler and the transport loop and blocks until ctx is
// done, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	if a.adapter != nil {
		updates := make(chan transport.Message, a.queueSize)
		if err := a.adapter.Start(ctx, updates); err != nil {
			return fmt.Errorf("transport start: %w", err)
		}
		a.dispatchLoop(ctx, updates)

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.adapter.Stop(stopCtx)
		cancel()
	} else {
		<-ctx.Done()
	}

	if a.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		a.scheduler.Stop(stopCtx)
		cancel()
	}
	a.bus.Close()
	return nil
}

// dispatchLoop fans inbound messages out to a bounded worker pool and
// returns when ctx is done.
func (a *App) dispatchLoop(ctx context.Context, updates <-chan transport.Message) {
	jobs := make(chan transport.Message, a.queueSize)
	var wg sync.WaitGroup
	wg.Add(a.workers)
	for i := 0; i < a.workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				a.handleMessage(ctx, msg)
			}
		}()
	}
	a.log.Info("dispatch loop started", logx.Int("workers", a.workers), logx.Int("queue", cap(jobs)))

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			a.log.Info("dispatch loop stopped")
			return
		case msg, ok := <-updates:
			if !ok {
				close(jobs)
				wg.Wait()
				return
			}
			select {
			case jobs <- msg:
			default:
				a.log.Warn("command dropped (queue full)",
					logx.Int64("guild_id", msg.GuildID), logx.Int64("from_id", msg.AuthorID))
			}
		}
	}
}

func (a *App) handleMessage(ctx context.Context, msg transport.Message) {
	a.bus.Publish(hook.Event{Kind: hook.MessageReceived, Data: hook.MessageEvent{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
		Author:    msg.Author,
		Text:      msg.Text,
	}})

	text, ok := a.stripPrefix(msg.Text)
	if !ok {
		return
	}

	out, err := a.dispatcher.Dispatch(ctx, dispatch.Input{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
		Author:    msg.Author,
		Text:      text,
	})
	reply := renderOutcome(out, err)
	if reply == "" || a.adapter == nil {
		return
	}
	target := transport.Target{GuildID: msg.GuildID, ChannelID: msg.ChannelID}
	if err := a.adapter.SendText(ctx, target, reply); err != nil {
		a.log.Warn("reply failed", logx.Int64("guild_id", msg.GuildID), logx.Err(err))
	}
}

// stripPrefix reports whether the message addresses the bot and returns the
// command text. Telegram-style "@botname" suffixes on the first token are
// tolerated.
func (a *App) stripPrefix(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if a.prefix == "" {
		return text, text != ""
	}
	if !strings.HasPrefix(text, a.prefix) {
		return "", false
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, a.prefix))
	if i := strings.IndexAny(text, " \t"); i > 0 {
		if j := strings.IndexByte(text[:i], '@'); j > 0 {
			text = text[:j] + text[i:]
		}
	} else if j := strings.IndexByte(text, '@'); j > 0 {
		text = text[:j]
	}
	return text, text != ""
}

// renderOutcome maps a dispatch result onto the user-facing reply. Unknown
// commands stay silent so the bot does not respond to chatter that merely
// resembles a command.
func renderOutcome(out string, err error) string {
	if err == nil {
		return out
	}
	var denied *dispatch.PermissionDeniedError
	if errors.As(err, &denied) {
		return fmt.Sprintf("you need the %s permission for that", denied.Node)
	}
	var exec *dispatch.ExecutionError
	if errors.As(err, &exec) {
		return fmt.Sprintf("%s failed, try again later", exec.Command)
	}
	if errors.Is(err, permission.ErrLookup) {
		return "permission check failed, try again later"
	}
	if errors.Is(err, dispatch.ErrInvalidArguments) {
		return err.Error()
	}
	return ""
}
