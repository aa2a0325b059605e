package storage

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtTime_SameSecondSortsChronologically(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// .1 vs .123456 is the killer pair: a trimmed fraction makes the
	// earlier time sort after the later one.
	earlier := fmtTime(base.Add(100 * time.Millisecond))
	later := fmtTime(base.Add(123456 * time.Microsecond))
	assert.Less(t, earlier, later)

	times := []time.Time{
		base.Add(999999 * time.Microsecond),
		base.Add(100 * time.Millisecond),
		base,
		base.Add(123456 * time.Microsecond),
		base.Add(time.Second),
	}
	formatted := make([]string, len(times))
	for i, tm := range times {
		formatted[i] = fmtTime(tm)
	}

	sort.Strings(formatted)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i, tm := range times {
		assert.Equal(t, fmtTime(tm), formatted[i], "lexicographic order must be chronological")
	}
}

func TestFmtTime_FixedWidthFraction(t *testing.T) {
	for _, tm := range []time.Time{
		time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 24, 10, 0, 0, 100000000, time.UTC),
		time.Date(2026, 8, 24, 10, 0, 0, 123456000, time.UTC),
	} {
		s := fmtTime(tm)
		assert.Len(t, s, len("2026-08-24T10:00:00.000000Z"), "fraction must not be trimmed: %s", s)
	}
}

func TestParseTime_RoundTripAndLegacyRows(t *testing.T) {
	tm := now()
	got, err := parseTime(fmtTime(tm))
	require.NoError(t, err)
	assert.True(t, got.Equal(tm))

	// Rows written with a trimmed fraction still parse.
	legacy, err := parseTime("2026-08-24T10:00:00.1Z")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, time.Duration(legacy.Nanosecond()))
}
