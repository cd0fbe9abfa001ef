package analytics

import (
	"sort"
	"time"

	"socialpulse/internal/model"
)

// DailyGrowth sums follower growth into per-day (UTC) buckets.
func DailyGrowth(snaps []model.MetricSnapshot) map[time.Time]int64 {
	buckets := make(map[time.Time]int64)
	for _, s := range snaps {
		ts := s.Timestamp.UTC()
		key := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		buckets[key] += s.FollowerGrowth
	}
	return buckets
}

// SortedBucketKeys returns sorted day keys.
func SortedBucketKeys[V any](m map[time.Time]V) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Summary is the change over a run of snapshots.
type Summary struct {
	From, To           time.Time
	FollowersStart     int64
	FollowersEnd       int64
	NetGrowth          int64
	AvgEngagementRate  float64
	PeakEngagementRate float64
}

// Summarize expects snapshots in ascending time order.
func Summarize(snaps []model.MetricSnapshot) (Summary, bool) {
	if len(snaps) == 0 {
		return Summary{}, false
	}
	first, last := snaps[0], snaps[len(snaps)-1]
	s := Summary{
		From: first.Timestamp, To: last.Timestamp,
		FollowersStart: first.FollowerCount, FollowersEnd: last.FollowerCount,
		NetGrowth: last.FollowerCount - first.FollowerCount,
	}
	var sum float64
	for _, sn := range snaps {
		sum += sn.EngagementRate
		if sn.EngagementRate > s.PeakEngagementRate {
			s.PeakEngagementRate = sn.EngagementRate
		}
	}
	s.AvgEngagementRate = float64(int64(sum/float64(len(snaps))*100+0.5)) / 100
	return s, true
}
