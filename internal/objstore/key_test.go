package objstore

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectKeyUsesVietnamTime(t *testing.T) {
	// 17:04:05 UTC is 00:04:05 the next day in UTC+7
	now := time.Date(2024, time.March, 15, 17, 4, 5, 0, time.UTC)
	require.Equal(t, "2024/03/16/00-04-05.csv", ObjectKey(now))
}

func TestObjectKeyZeroPadsComponents(t *testing.T) {
	now := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.FixedZone("UTC+7", 7*60*60))
	require.Equal(t, "2024/01/02/03-04-05.csv", ObjectKey(now))
	require.Equal(t, "2024/01/02", DayPrefix(now))
}

func TestObjectKeyMonotonicWithinDay(t *testing.T) {
	base := time.Date(2024, time.March, 15, 8, 0, 0, 0, time.FixedZone("UTC+7", 7*60*60))
	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		keys = append(keys, ObjectKey(base.Add(time.Duration(i)*7*time.Second)))
	}
	require.True(t, sort.StringsAreSorted(keys))
}

func TestObjectKeySameSecondCollides(t *testing.T) {
	// known edge case: two uploads within one second share a key
	now := time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC)
	require.Equal(t, ObjectKey(now), ObjectKey(now.Add(500*time.Millisecond)))
}
