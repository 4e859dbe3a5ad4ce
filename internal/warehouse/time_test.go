package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecomposeTime(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 10, 30, 45, 0, time.UTC)
	p := decomposeTime(ts)

	require.Equal(t, 2024, p.Year)
	require.Equal(t, 3, p.Month)
	require.Equal(t, 15, p.Day)
	require.Equal(t, 10, p.Hour)
	require.Equal(t, 30, p.Minute)
	require.Equal(t, 45, p.Second)
	require.Equal(t, "Friday", p.DayOfWeek)
	require.Equal(t, 1, p.Quarter)
	require.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), p.Date)
}

func TestDecomposeTimeQuarters(t *testing.T) {
	cases := map[time.Month]int{
		time.January: 1, time.March: 1,
		time.April: 2, time.June: 2,
		time.July: 3, time.September: 3,
		time.October: 4, time.December: 4,
	}
	for month, want := range cases {
		ts := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC)
		require.Equal(t, want, decomposeTime(ts).Quarter, "month %s", month)
	}
}

func TestParseLastUpdated(t *testing.T) {
	got, err := parseLastUpdated("2024-03-15T10:00:00.123Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 15, 10, 0, 0, 123000000, time.UTC), got)

	got, err = parseLastUpdated("2024-03-15 10:00:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC), got)

	// offsets normalize to UTC so equal instants share a dim_time row
	got, err = parseLastUpdated("2024-03-15T17:00:00+07:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC), got)

	_, err = parseLastUpdated("not-a-timestamp")
	require.Error(t, err)

	_, err = parseLastUpdated("")
	require.Error(t, err)
}

func TestParseLastUpdatedTruncatesToMicroseconds(t *testing.T) {
	// timestamptz stores microseconds; sub-microsecond digits must be
	// dropped before the value is used as a dim_time lookup key, or the
	// row written to the warehouse would never match it again
	got, err := parseLastUpdated("2024-03-15T10:00:00.1234567Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 15, 10, 0, 0, 123456000, time.UTC), got)
	require.Zero(t, got.Nanosecond()%1000)

	// microsecond-precision values pass through unchanged
	got, err = parseLastUpdated("2024-03-15T10:00:00.123456Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 15, 10, 0, 0, 123456000, time.UTC), got)
}
