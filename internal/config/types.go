// Package config loads guildbot's configuration from YAML or JSON, with
// strict decoding and optional hot reload.
package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`

	// Admins bypass all permission checks.
	Admins []int64 `json:"admins"`

	Modules map[string]ModuleConfigRaw `json:"modules"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendRatePerSec throttles outbound messages. 0 keeps the default.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the command dispatch loop.
type DispatchConfig struct {
	// Prefix marks command messages, e.g. "!". Empty means every message
	// is treated as a potential command.
	Prefix    string `json:"prefix"`
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// SchedulerConfig controls the background task scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`
	// Grace is how long shutdown waits for running tasks.
	Grace string `json:"grace,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // memory | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ModuleConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in module sections are
// caught during reload instead of being silently ignored.
func (m *ModuleConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*m = ModuleConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
