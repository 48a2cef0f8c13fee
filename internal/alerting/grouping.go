package alerting

import (
	"sync"
	"time"
)

// DefaultGroupWindow is how close two similar alerts must fire to be
// considered one burst.
const DefaultGroupWindow = 5 * time.Minute

// groupedPrefix marks messages that belong to an existing burst.
const groupedPrefix = "[Grouped] "

// GroupKey buckets alerts that should thread together.
func GroupKey(a Alert) string {
	return a.RuleName + ":" + string(a.Severity)
}

// GroupingIndex tags bursts of similar alerts. An alert whose group
// key was seen within the window counts as grouped; grouping never
// suppresses delivery, it only marks the message so receivers can
// collapse the thread.
type GroupingIndex struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
}

func NewGroupingIndex(window time.Duration) *GroupingIndex {
	if window <= 0 {
		window = DefaultGroupWindow
	}
	return &GroupingIndex{
		window:   window,
		lastSeen: make(map[string]time.Time),
	}
}

// Observe records a firing under key at now and reports whether it
// falls inside an existing burst.
func (g *GroupingIndex) Observe(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, seen := g.lastSeen[key]
	g.lastSeen[key] = now
	return seen && now.Sub(last) < g.window
}
