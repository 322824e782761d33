package session

import "time"

// 季节与时段标签
const (
	SeasonSummer = "summer"
	SeasonWinter = "winter"

	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

// SeasonFor 返回给定时间所属季节
//
// 6 月至 9 月为夏季营业期，其余为冬季。
func SeasonFor(t time.Time) string {
	switch t.Month() {
	case time.June, time.July, time.August, time.September:
		return SeasonSummer
	default:
		return SeasonWinter
	}
}

// TimeOfDay 返回给定时间所属时段
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return TimeMorning
	case h >= 12 && h < 17:
		return TimeAfternoon
	case h >= 17 && h < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// Derive 为快照补全缺失的季节与时段上下文
//
// 已有的值保持不变；返回新的副本。
func Derive(c Context, now time.Time) Context {
	if c.SeasonalContext == "" {
		c.SeasonalContext = SeasonFor(now)
	}
	if c.TimeContext == "" {
		c.TimeContext = TimeOfDay(now)
	}
	return c
}
