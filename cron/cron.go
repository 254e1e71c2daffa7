// Package cron runs a job once a day at a fixed wall-clock time.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

type Job func(ctx context.Context)

type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
	Job      Job
	Now      func() time.Time
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(value string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q: expected HH:MM", value)
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}

	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}

	return hour, minute, nil
}

func (d *Daily) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}

	return d.Location
}

// NextRun returns the first scheduled instant strictly after now.
func (d *Daily) NextRun(now time.Time) time.Time {
	local := now.In(d.location())

	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, d.location())
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, d.location())
	}

	return next
}

// Run blocks until ctx is done, invoking the job at every scheduled instant.
func (d *Daily) Run(ctx context.Context) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	for {
		next := d.NextRun(now())
		wait := next.Sub(now())

		slog.DebugContext(ctx, "next scheduled run", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
			d.Job(ctx)
		}
	}
}
