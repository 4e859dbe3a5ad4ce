package warehouse

import (
	"time"

	"github.com/pkg/errors"
)

// timeParts holds the decomposed calendar fields of a dim_time row.
type timeParts struct {
	Date      time.Time
	Year      int
	Month     int
	Day       int
	Hour      int
	Minute    int
	Second    int
	DayOfWeek string
	Quarter   int
}

func decomposeTime(ts time.Time) timeParts {
	return timeParts{
		Date:      time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		Year:      ts.Year(),
		Month:     int(ts.Month()),
		Day:       ts.Day(),
		Hour:      ts.Hour(),
		Minute:    ts.Minute(),
		Second:    ts.Second(),
		DayOfWeek: ts.Weekday().String(),
		Quarter:   (int(ts.Month())-1)/3 + 1,
	}
}

var lastUpdatedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseLastUpdated parses the API's last_updated field. Timestamps are
// normalized to UTC and truncated to microseconds — the precision of a
// timestamptz column — so the value scanned back from dim_time is
// identical to the one used for the lookup.
func parseLastUpdated(s string) (time.Time, error) {
	for _, layout := range lastUpdatedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Truncate(time.Microsecond).UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported timestamp format %q", s)
}
