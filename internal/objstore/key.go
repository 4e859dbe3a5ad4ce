package objstore

import (
	"fmt"
	"time"
)

// Partition timestamps use Vietnam local time, matching the warehouse's
// reporting timezone.
var partitionZone = loadPartitionZone()

func loadPartitionZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		// tzdata may be absent in minimal containers; the offset is fixed anyway.
		return time.FixedZone("UTC+7", 7*60*60)
	}
	return loc
}

// ObjectKey derives the partitioned key {year}/{MM}/{DD}/{HH-MM-SS}.csv for
// the given instant. Calls within the same second collide; the scheduler's
// trigger interval keeps uploads well apart.
func ObjectKey(now time.Time) string {
	t := now.In(partitionZone)
	return fmt.Sprintf("%s/%s.csv", DayPrefix(now), t.Format("15-04-05"))
}

// DayPrefix renders the {year}/{MM}/{DD} partition prefix for an instant.
func DayPrefix(now time.Time) string {
	t := now.In(partitionZone)
	return fmt.Sprintf("%d/%02d/%02d", t.Year(), int(t.Month()), t.Day())
}
