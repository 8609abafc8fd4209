// Package clinictime interprets and renders wall-clock scheduling times in
// the clinic's zone. Naive strings ("2025-01-10T13:00") are anchored to the
// clinic location exactly once, here; everything past this boundary compares
// time.Time values.
package clinictime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NaiveLayout is the format the oracle is told to use and the one we echo back.
const NaiveLayout = "2006-01-02T15:04"

var ErrBadTimestamp = errors.New("unrecognized timestamp")

var naiveLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
}

var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

var (
	weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	months   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// Location resolves an IANA zone name, trying fallback and finally UTC.
func Location(name, fallback string) *time.Location {
	for _, candidate := range []string{name, fallback} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ParseLocal reads a timestamp as a dashboard caller wrote it. Strings with
// an explicit offset keep their instant; naive strings are clinic wall-clock.
// The result is truncated to the minute so equal bookings compare equal.
func ParseLocal(raw string, loc *time.Location) (time.Time, error) {
	raw, loc, err := prepare(raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if t, ok := parseOffset(raw); ok {
		return t.In(loc).Truncate(time.Minute), nil
	}
	return parseNaive(raw, loc)
}

// ParseWallClock reads a timestamp the oracle produced. The oracle only ever
// means clinic wall-clock, so a trailing "Z" or offset is dropped and the
// digits are anchored to loc as written.
func ParseWallClock(raw string, loc *time.Location) (time.Time, error) {
	raw, loc, err := prepare(raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if t, ok := parseOffset(raw); ok {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
	}
	return parseNaive(raw, loc)
}

func prepare(raw string, loc *time.Location) (string, *time.Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, fmt.Errorf("%w: empty", ErrBadTimestamp)
	}
	if loc == nil {
		loc = time.UTC
	}
	return raw, loc, nil
}

// parseOffset accepts RFC 3339, with or without seconds. Fractional seconds
// are allowed by time.Parse after the seconds field.
func parseOffset(raw string) (time.Time, bool) {
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNaive(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.Truncate(time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
}

// Naive renders t as clinic wall-clock without an offset.
func Naive(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(NaiveLayout)
}

// FormatLong renders "10 de enero de 2025 a las 13:00".
func FormatLong(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%d de %s de %d a las %s", t.Day(), months[t.Month()-1], t.Year(), t.Format("15:04"))
}

// FormatSlot renders a bullet entry such as "viernes 10 ene, 13:00".
func FormatSlot(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%s %d %s, %s", weekdays[t.Weekday()], t.Day(), months[t.Month()-1][:3], t.Format("15:04"))
}

// FormatDay renders "viernes 10 de enero, 13:00" for reminders.
func FormatDay(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%s %d de %s, %s", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Format("15:04"))
}

// FormatShort renders "10/01/2025 13:00".
func FormatShort(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006 15:04")
}

// Now renders the clinic-local current time for the oracle's context.
func Now(now time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s %s (%s, %s)", weekdays[now.In(loc).Weekday()], FormatLong(now, loc), Naive(now, loc), loc.String())
}
