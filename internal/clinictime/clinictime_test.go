package clinictime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cdmx = time.FixedZone("CST", -6*3600)

func TestParseLocal_NaiveIsClinicWallClock(t *testing.T) {
	got, err := ParseLocal("2025-01-10T13:00", cdmx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC), got.UTC())
}

func TestParseLocal_Layouts(t *testing.T) {
	want := time.Date(2025, 1, 10, 13, 0, 0, 0, cdmx)
	for _, raw := range []string{
		"2025-01-10T13:00",
		"2025-01-10T13:00:00",
		"2025-01-10 13:00",
		"2025-01-10T13:00:42",
		"2025-01-10T19:00:00Z",
		"2025-01-10T13:00:00-06:00",
	} {
		got, err := ParseLocal(raw, cdmx)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}
}

func TestParseWallClock_DropsZone(t *testing.T) {
	want := time.Date(2025, 1, 10, 13, 0, 0, 0, cdmx)
	for _, raw := range []string{
		"2025-01-10T13:00",
		"2025-01-10T13:00:00Z",
		"2025-01-10T13:00:00.000Z",
		"2025-01-10T13:00:00+00:00",
		"2025-01-10T13:00Z",
		"2025-01-10T13:00:30-06:00",
	} {
		got, err := ParseWallClock(raw, cdmx)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}
}

func TestParseWallClock_Rejects(t *testing.T) {
	for _, raw := range []string{"", "el viernes", "2025-01-10T25:00Z"} {
		_, err := ParseWallClock(raw, cdmx)
		assert.ErrorIs(t, err, ErrBadTimestamp, raw)
	}
}

func TestParseLocal_Rejects(t *testing.T) {
	for _, raw := range []string{"", "mañana a las 5", "2025-13-40T99:00"} {
		_, err := ParseLocal(raw, cdmx)
		assert.ErrorIs(t, err, ErrBadTimestamp, raw)
	}
}

func TestFormatting(t *testing.T) {
	ts := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-01-10T13:00", Naive(ts, cdmx))
	assert.Equal(t, "10 de enero de 2025 a las 13:00", FormatLong(ts, cdmx))
	assert.Equal(t, "viernes 10 ene, 13:00", FormatSlot(ts, cdmx))
	assert.Equal(t, "viernes 10 de enero, 13:00", FormatDay(ts, cdmx))
	assert.Equal(t, "10/01/2025 13:00", FormatShort(ts, cdmx))
}

func TestFormatting_IgnoresProcessZone(t *testing.T) {
	ts := time.Date(2025, 1, 10, 13, 0, 0, 0, cdmx)
	tokyo := ts.In(time.FixedZone("JST", 9*3600))
	assert.Equal(t, FormatLong(ts, cdmx), FormatLong(tokyo, cdmx))
}

func TestLocation_Fallbacks(t *testing.T) {
	assert.Equal(t, "America/Mexico_City", Location("", "America/Mexico_City").String())
	assert.Equal(t, "America/Mexico_City", Location("Not/AZone", "America/Mexico_City").String())
	assert.Equal(t, time.UTC, Location("", ""))
}
