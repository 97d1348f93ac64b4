// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package window implements the last-modified time filter applied to every
// version before it is copied.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// Window is an optional time range. Both bounds are exclusive: a version
// modified exactly at Start or exactly at End is not included.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// ErrEmptyWindow is returned when Start is not before End.
var ErrEmptyWindow = errors.New("start must be before end")

// New builds a window from two optional timestamps (empty string = unbounded).
func New(start, end string) (Window, error) {
	var w Window
	if start != "" {
		t, err := Parse(start)
		if err != nil {
			return Window{}, fmt.Errorf("start: %w", err)
		}
		w.Start = &t
	}
	if end != "" {
		t, err := Parse(end)
		if err != nil {
			return Window{}, fmt.Errorf("end: %w", err)
		}
		w.End = &t
	}
	if w.Start != nil && w.End != nil && !w.Start.Before(*w.End) {
		return Window{}, fmt.Errorf("%w: %s >= %s", ErrEmptyWindow, w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano))
	}
	return w, nil
}

// Include reports whether t lies strictly inside the window. Both operands
// are compared in UTC.
func (w Window) Include(t time.Time) bool {
	t = t.UTC()
	if w.Start != nil && !t.After(w.Start.UTC()) {
		return false
	}
	if w.End != nil && !t.Before(w.End.UTC()) {
		return false
	}
	return true
}

// IsZero reports whether the window has no bounds.
func (w Window) IsZero() bool {
	return w.Start == nil && w.End == nil
}

func (w Window) String() string {
	start, end := "-inf", "+inf"
	if w.Start != nil {
		start = w.Start.UTC().Format(time.RFC3339Nano)
	}
	if w.End != nil {
		end = w.End.UTC().Format(time.RFC3339Nano)
	}
	return "(" + start + ", " + end + ")"
}

var (
	timeLayouts = []string{"15", "15:04", "15:04:05"}
	zoneLayouts = []string{"", "Z07:00", "Z07:00:00", "-0700"}
)

// Parse reads an ISO-8601 timestamp of the form
// YYYY-MM-DD[*HH[:MM[:SS[.ffffff]]][+HH:MM[:SS]]], where * is any single
// character. Timestamps without an offset are UTC; others are converted to
// UTC. Other common layouts are accepted as a fallback.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		return t, nil
	}

	if len(s) > len(time.DateOnly) {
		// The date/time separator may be any single character.
		_, size := utf8.DecodeRuneInString(s[len(time.DateOnly):])
		iso := s[:len(time.DateOnly)] + "T" + s[len(time.DateOnly)+size:]
		for _, tl := range timeLayouts {
			for _, zl := range zoneLayouts {
				t, err := time.ParseInLocation(time.DateOnly+"T"+tl+zl, iso, time.UTC)
				if err == nil {
					return t.UTC(), nil
				}
			}
		}
	}

	t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want YYYY-MM-DD[THH[:MM[:SS[.ffffff]]][+HH:MM]]", s)
	}
	return t.UTC(), nil
}
