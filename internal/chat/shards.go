package chat

import (
	"fmt"
	"time"
)

// Shard identifies one calendar day of one channel family. The value
// doubles as the backing table name.
type Shard string

// String returns the shard table name.
func (s Shard) String() string {
	return string(s)
}

const (
	globalShardPrefix = "global_messages_"
	dmShardPrefix     = "dm_messages_"
)

// ShardForDay maps a channel family and a calendar day to its shard.
func ShardForDay(family ChannelFamily, day time.Time) Shard {
	stamp := day.UTC().Format("20060102")
	if family == FamilyDM {
		return Shard(dmShardPrefix + stamp)
	}
	return Shard(globalShardPrefix + stamp)
}

// TodayShard returns the shard receiving writes right now.
func TodayShard(family ChannelFamily, clock func() time.Time) Shard {
	return ShardForDay(family, clock())
}

// ShardsForRange enumerates the shards covering the last daysBack
// calendar days, newest first. daysBack of 1 yields only today.
func ShardsForRange(family ChannelFamily, daysBack int, clock func() time.Time) []Shard {
	if daysBack < 1 {
		daysBack = 1
	}
	today := clock().UTC()
	shards := make([]Shard, 0, daysBack)
	for offset := 0; offset < daysBack; offset++ {
		shards = append(shards, ShardForDay(family, today.AddDate(0, 0, -offset)))
	}
	return shards
}

// ShardsForWindow enumerates shards between two days inclusive, newest
// first. Returns nil when the bounds are inverted.
func ShardsForWindow(family ChannelFamily, oldest, newest time.Time) []Shard {
	oldestDay := truncateDay(oldest)
	newestDay := truncateDay(newest)
	if newestDay.Before(oldestDay) {
		return nil
	}
	var shards []Shard
	for day := newestDay; !day.Before(oldestDay); day = day.AddDate(0, 0, -1) {
		shards = append(shards, ShardForDay(family, day))
	}
	return shards
}

func truncateDay(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func validateShardDayCount(daysBack, retentionDays int) (int, error) {
	if retentionDays > 0 && daysBack > retentionDays {
		return 0, fmt.Errorf("chat: requested window %d exceeds retention %d", daysBack, retentionDays)
	}
	return daysBack, nil
}
