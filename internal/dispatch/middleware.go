package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"guildbot/internal/command"
	logx "guildbot/pkg/logx"
)

type Middleware func(next command.HandlerFunc) command.HandlerFunc

func Chain(h command.HandlerFunc, m ...Middleware) command.HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWPanicRecover converts a handler panic into an error so one misbehaving
// command cannot take down the dispatch worker.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, inv *command.Invocation) (out string, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if inv != nil && !inv.Logger.IsZero() {
						logger = inv.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, inv)
		}
	}
}

// MWRequestLog records every executed command with its outcome and duration.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, inv *command.Invocation) (string, error) {
			start := time.Now()
			logger := log
			if inv != nil && !inv.Logger.IsZero() {
				logger = inv.Logger
			}
			out, err := next(ctx, inv)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("guild_id", inv.GuildID),
				logx.Int64("channel_id", inv.ChannelID),
				logx.Int64("from_id", inv.AuthorID),
				logx.String("cmd", inv.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				logger.Info("command ok", fields...)
			}
			return out, err
		}
	}
}
