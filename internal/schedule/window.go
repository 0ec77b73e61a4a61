// Package schedule computes send times for queued outreach messages.
package schedule

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"leadgen-outreach-go/internal/config"
)

// ErrSchedulingExhausted is returned when no send slot exists inside the look-ahead bound.
var ErrSchedulingExhausted = errors.New("scheduling exhausted: no delivery window within look-ahead")

// ClockTime is a wall-clock time of day
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM"
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is the daily delivery window in a fixed location
type Window struct {
	Start    ClockTime
	End      ClockTime
	Location *time.Location
	// Days lists eligible weekdays; empty means every day.
	Days []time.Weekday
}

// Contains reports whether t falls inside the window on its own calendar day
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location)
	if !w.eligible(local.Weekday()) {
		return false
	}
	start, end := w.bounds(local)
	return !local.Before(start) && !local.After(end)
}

// Clamp moves t forward to the earliest instant inside the window, searching at most
// lookahead days past t's calendar day.
func (w Window) Clamp(t time.Time, lookahead int) (time.Time, error) {
	local := t.In(w.Location)
	for i := 0; i <= lookahead; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, 12, 0, 0, 0, w.Location)
		if !w.eligible(day.Weekday()) {
			continue
		}
		start, end := w.bounds(day)
		if local.After(end) {
			continue
		}
		if local.Before(start) {
			return start, nil
		}
		return local, nil
	}
	return time.Time{}, ErrSchedulingExhausted
}

func (w Window) bounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, w.Start.Hour, w.Start.Minute, 0, 0, w.Location)
	end := time.Date(y, m, d, w.End.Hour, w.End.Minute, 0, 0, w.Location)
	return start, end
}

func (w Window) eligible(day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Planner turns the current queue tail into the next send time
type Planner struct {
	window    Window
	minDelay  time.Duration
	maxDelay  time.Duration
	lookahead int
	int64N    func(n int64) int64
}

// NewPlanner builds a Planner from schedule configuration
func NewPlanner(cfg config.ScheduleConfig) (*Planner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	start, err := ParseClock(cfg.WindowStart)
	if err != nil {
		return nil, err
	}
	end, err := ParseClock(cfg.WindowEnd)
	if err != nil {
		return nil, err
	}
	days, err := cfg.Days()
	if err != nil {
		return nil, err
	}
	if cfg.MinDelay <= 0 || cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("invalid delay range %s..%s", cfg.MinDelay, cfg.MaxDelay)
	}
	return &Planner{
		window:    Window{Start: start, End: end, Location: loc, Days: days},
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		lookahead: cfg.LookaheadDays,
		int64N:    rand.Int64N,
	}, nil
}

// Window returns the planner's delivery window
func (p *Planner) Window() Window {
	return p.window
}

// MinDelay returns the spacing floor between consecutive send times
func (p *Planner) MinDelay() time.Duration {
	return p.minDelay
}

// Next returns the send time following tail. A nil tail or one in the past anchors at now.
func (p *Planner) Next(tail *time.Time, now time.Time) (time.Time, error) {
	anchor := now
	if tail != nil && tail.After(anchor) {
		anchor = *tail
	}
	candidate := ceilSecond(anchor.Add(p.delay()))
	return p.window.Clamp(candidate, p.lookahead)
}

func (p *Planner) delay() time.Duration {
	span := int64(p.maxDelay - p.minDelay)
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.int64N(span+1))
}

// ceilSecond rounds up so stored timestamps never shrink the spacing.
func ceilSecond(t time.Time) time.Time {
	r := t.Truncate(time.Second)
	if r.Before(t) {
		r = r.Add(time.Second)
	}
	return r
}
