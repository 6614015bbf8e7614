package analytics

import (
	"time"

	"moodline/internal/models"
)

// CurrentStreak counts consecutive calendar days (in loc) with at least one
// sample, walking back from today. A streak that has not been extended today
// is still current if yesterday has an entry.
func CurrentStreak(samples []models.MoodSample, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	days := make([]time.Time, 0, len(samples))
	for _, s := range samples {
		if s.CreatedAt.After(now) {
			continue
		}
		days = append(days, civilDay(s.CreatedAt, loc))
	}
	return streakFromDays(days, civilDay(now, loc))
}

// streakFromDays de-duplicates days to a set before walking backward, so
// several entries on one day count once.
func streakFromDays(days []time.Time, today time.Time) int {
	set := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		set[d] = struct{}{}
	}
	cursor := today
	if _, ok := set[cursor]; !ok {
		cursor = today.AddDate(0, 0, -1)
		if _, ok := set[cursor]; !ok {
			return 0
		}
	}
	streak := 0
	for {
		if _, ok := set[cursor]; !ok {
			return streak
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
}
