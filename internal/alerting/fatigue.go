package alerting

import (
	"sync"
	"time"
)

// Default per-rule notification caps.
const (
	DefaultMaxNotificationsPerHour = 10
	DefaultMaxNotificationsPerDay  = 50
)

// FatigueStats describes recent notification pressure for one rule.
type FatigueStats struct {
	HourlyNotifications int  `json:"hourly_notifications"`
	DailyNotifications  int  `json:"daily_notifications"`
	HourlyLimit         int  `json:"hourly_limit"`
	DailyLimit          int  `json:"daily_limit"`
	AtHourlyLimit       bool `json:"at_hourly_limit"`
	AtDailyLimit        bool `json:"at_daily_limit"`
}

// FatigueTracker bounds notification volume per rule over sliding one
// hour and 24 hour windows. One timestamp is recorded per delivered
// notification, so a two channel alert counts twice. Entries older
// than 24 hours are pruned on every check.
type FatigueTracker struct {
	mu         sync.Mutex
	sent       map[string][]time.Time
	maxPerHour int
	maxPerDay  int
}

func NewFatigueTracker(maxPerHour, maxPerDay int) *FatigueTracker {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxNotificationsPerHour
	}
	if maxPerDay <= 0 {
		maxPerDay = DefaultMaxNotificationsPerDay
	}
	return &FatigueTracker{
		sent:       make(map[string][]time.Time),
		maxPerHour: maxPerHour,
		maxPerDay:  maxPerDay,
	}
}

// Allow reports whether another notification for the rule may go out
// at now, along with the window counts that produced the answer.
func (f *FatigueTracker) Allow(ruleName string, now time.Time) (bool, FatigueStats) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recent := f.pruneLocked(ruleName, now)
	stats := f.statsLocked(recent, now)
	return !stats.AtHourlyLimit && !stats.AtDailyLimit, stats
}

// Record counts n delivered notifications for the rule at now.
func (f *FatigueTracker) Record(ruleName string, n int, now time.Time) {
	if n <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for range n {
		f.sent[ruleName] = append(f.sent[ruleName], now)
	}
}

// Stats returns per-rule window counts for every rule that has sent
// at least one notification in the last 24 hours.
func (f *FatigueTracker) Stats(now time.Time) map[string]FatigueStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]FatigueStats, len(f.sent))
	for ruleName := range f.sent {
		recent := f.pruneLocked(ruleName, now)
		if len(recent) == 0 {
			delete(f.sent, ruleName)
			continue
		}
		out[ruleName] = f.statsLocked(recent, now)
	}
	return out
}

func (f *FatigueTracker) pruneLocked(ruleName string, now time.Time) []time.Time {
	cutoff := now.Add(-24 * time.Hour)
	recent := f.sent[ruleName][:0]
	for _, ts := range f.sent[ruleName] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	f.sent[ruleName] = recent
	return recent
}

func (f *FatigueTracker) statsLocked(recent []time.Time, now time.Time) FatigueStats {
	hourCutoff := now.Add(-time.Hour)
	hourly := 0
	for _, ts := range recent {
		if ts.After(hourCutoff) {
			hourly++
		}
	}
	return FatigueStats{
		HourlyNotifications: hourly,
		DailyNotifications:  len(recent),
		HourlyLimit:         f.maxPerHour,
		DailyLimit:          f.maxPerDay,
		AtHourlyLimit:       hourly >= f.maxPerHour,
		AtDailyLimit:        len(recent) >= f.maxPerDay,
	}
}
