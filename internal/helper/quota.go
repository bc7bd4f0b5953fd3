package helper

import (
	"time"
)

func CalculateNextResetTime(now time.Time, duration int64, unit string) int64 {
	if unit == "day" {
		days := duration / 86400
		if days <= 0 {
			days = 1
		}
		// 对齐到 UTC 零点, X 天后的那个零点
		year, month, day := now.UTC().Date()
		todayMidnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

		nextReset := todayMidnight.AddDate(0, 0, int(days))

		for !nextReset.After(now.UTC()) {
			nextReset = nextReset.AddDate(0, 0, int(days))
		}

		return nextReset.Unix()
	}
	// 分钟和小时粒度用相对时间
	return now.Unix() + duration
}

func IsAlignedToMidnight(timestamp int64) bool {
	if timestamp == 0 {
		return true
	}
	t := time.Unix(timestamp, 0).UTC()
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}
