// Package task implements guildbot's background task scheduler: named jobs
// bound to a schedule, executed by a bounded worker pool with overlap
// protection and catch-up semantics that never burst after a stall.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields execution instants. Next must return the first instant
// strictly after the given time, or the zero time when the schedule has no
// further occurrence.
type Schedule interface {
	Next(after time.Time) time.Time
}

// IntervalSchedule fires every Interval, anchored at Anchor. After a stall
// the next occurrence is the smallest Anchor+n*Interval strictly after now,
// so missed occurrences collapse into one instead of bursting.
type IntervalSchedule struct {
	Anchor   time.Time
	Interval time.Duration
}

// Every returns an interval schedule anchored at the current time.
func Every(interval time.Duration) IntervalSchedule {
	return IntervalSchedule{Anchor: time.Now(), Interval: interval}
}

func (s IntervalSchedule) Next(after time.Time) time.Time {
	if s.Interval <= 0 {
		return time.Time{}
	}
	if after.Before(s.Anchor) {
		return s.Anchor
	}
	elapsed := after.Sub(s.Anchor)
	n := elapsed/s.Interval + 1
	return s.Anchor.Add(n * s.Interval)
}

// TimeOfDay is a wall-clock instant within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM". The whole input must be consumed; trailing
// seconds or garbage are rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok {
		h, okH := parseClockPart(hh, 23)
		m, okM := parseClockPart(mm, 59)
		if okH && okM {
			return TimeOfDay{Hour: h, Minute: m}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
}

// parseClockPart parses a 1-2 digit clock component with no sign and no
// leftover input.
func parseClockPart(s string, max int) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n > max {
		return 0, false
	}
	return n, true
}

// WeekdaySet is a set of weekdays. The zero value means "every day".
type WeekdaySet uint8

// On builds a set from the given weekdays.
func On(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	if s == 0 {
		return true
	}
	return s&(1<<uint(d)) != 0
}

// AtSchedule fires at fixed times of day, optionally restricted to a set of
// weekdays, in the given location (time.Local when nil).
type AtSchedule struct {
	Times []TimeOfDay
	Days  WeekdaySet
	Loc   *time.Location
}

// Daily returns a schedule firing every day at the given times.
func Daily(times ...TimeOfDay) AtSchedule {
	return AtSchedule{Times: times}
}

func (s AtSchedule) Next(after time.Time) time.Time {
	if len(s.Times) == 0 {
		return time.Time{}
	}
	loc := s.Loc
	if loc == nil {
		loc = time.Local
	}
	after = after.In(loc)
	times := append([]TimeOfDay(nil), s.Times...)
	sort.Slice(times, func(a, b int) bool {
		if times[a].Hour != times[b].Hour {
			return times[a].Hour < times[b].Hour
		}
		return times[a].Minute < times[b].Minute
	})

	// Search forward at most one full week plus the current day.
	for day := 0; day <= 7; day++ {
		d := after.AddDate(0, 0, day)
		if !s.Days.Has(d.Weekday()) {
			continue
		}
		for _, tod := range times {
			cand := time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, 0, 0, loc)
			if cand.After(after) {
				return cand
			}
		}
	}
	return time.Time{}
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type cronSchedule struct {
	sched cron.Schedule
}

func (s cronSchedule) Next(after time.Time) time.Time { return s.sched.Next(after) }

// Cron parses a five-field cron spec (plus @descriptors) into a schedule.
func Cron(spec string) (Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return cronSchedule{sched: sched}, nil
}

// ParseSchedule turns a config string into a schedule.
//
// Supported formats:
//   - Interval duration: "55m", "2h30m", "@every 55m"
//   - Daily HH:MM: "09:00"
//   - Cron: "*/5 * * * *", "@hourly"
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if rest, ok := strings.CutPrefix(s, "@every"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", s)
		}
		return Every(d), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval %q must be positive", s)
		}
		return Every(d), nil
	}
	if !strings.ContainsAny(s, " @") {
		if tod, err := ParseTimeOfDay(s); err == nil {
			return Daily(tod), nil
		}
	}
	return Cron(s)
}
