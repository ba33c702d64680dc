// Package module defines guildbot's unit of composition: a module bundles
// the commands, background tasks and hook subscriptions of one feature and
// is wired into the core at startup.
package module

import (
	"fmt"

	"guildbot/internal/command"
	"guildbot/internal/hook"
	"guildbot/internal/task"
	logx "guildbot/pkg/logx"
)

// Registration places one command in the tree. Parent is the path of the
// parent command ("" for a root command).
type Registration struct {
	Parent string
	Cmd    command.Command
}

// Subscription attaches one handler to the hook bus.
type Subscription struct {
	Kind hook.Kind
	Name string
	Fn   hook.HandlerFunc
}

// Module is implemented by every feature bundle. Any of the three slices
// may be empty.
type Module interface {
	Name() string
	Commands() []Registration
	Tasks() []task.Task
	Hooks() []Subscription
}

// Load wires the modules into the core in order. Scheduler and bus may be
// nil, which skips tasks and hooks respectively (tests, scheduler disabled
// by config). A failing registration aborts the load: a malformed module is
// a programming error and the bot must not start without it.
func Load(reg *command.Registry, sched *task.Scheduler, bus *hook.Bus, log logx.Logger, mods ...Module) error {
	for _, m := range mods {
		for _, r := range m.Commands() {
			if err := reg.Register(r.Parent, r.Cmd); err != nil {
				return fmt.Errorf("module %s: command %q: %w", m.Name(), r.Cmd.Name, err)
			}
		}

		tasks := m.Tasks()
		if sched != nil {
			for _, t := range tasks {
				if err := sched.Add(t); err != nil {
					return fmt.Errorf("module %s: task %q: %w", m.Name(), t.Name, err)
				}
			}
		} else if len(tasks) > 0 {
			log.Debug("scheduler disabled, tasks skipped",
				logx.String("module", m.Name()), logx.Int("tasks", len(tasks)))
		}

		if bus != nil {
			for _, s := range m.Hooks() {
				if err := bus.Subscribe(s.Kind, s.Name, s.Fn); err != nil {
					return fmt.Errorf("module %s: hook %q: %w", m.Name(), s.Name, err)
				}
			}
		}

		log.Info("module loaded",
			logx.String("module", m.Name()),
			logx.Int("commands", len(m.Commands())),
			logx.Int("tasks", len(tasks)),
			logx.Int("hooks", len(m.Hooks())),
		)
	}
	return nil
}
