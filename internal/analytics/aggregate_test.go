package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodline/internal/models"
)

// 2026-10-16 is a Friday.
var testNow = time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)

func at(daysAgo, hour int) time.Time {
	return time.Date(2026, 10, 16-daysAgo, hour, 0, 0, 0, time.UTC)
}

func sample(mood int, createdAt time.Time) models.MoodSample {
	return models.MoodSample{
		ID:         createdAt.Format(time.RFC3339Nano),
		SubjectID:  "subject-1",
		Mood:       mood,
		CreatedAt:  createdAt,
		Activities: []string{},
		Emotions:   []string{},
	}
}

func intPtr(i int) *int { return &i }

func TestComputeAggregates_EmptyInput(t *testing.T) {
	snap := ComputeAggregates(nil, 7, testNow, time.UTC)

	assert.Equal(t, 0, snap.TotalEntries)
	assert.Zero(t, snap.MoodMean)
	assert.Zero(t, snap.EnergyMean)
	assert.Zero(t, snap.StressMean)
	assert.Zero(t, snap.SleepMean)
	assert.Zero(t, snap.CurrentStreak)
	assert.Nil(t, snap.LastEntry)
	assert.Empty(t, snap.Distribution)
	assert.Empty(t, snap.BestDay)
	assert.Empty(t, snap.WorstDay)
	require.Len(t, snap.Daily, 7)
	for _, b := range snap.Daily {
		assert.Zero(t, b.Count)
		assert.Zero(t, b.Mean)
	}
	assert.Len(t, snap.ByWeekday, 7)
	assert.Len(t, snap.ByTimeOfDay, 4)
}

func TestComputeAggregates_MeansIgnoreMissingFields(t *testing.T) {
	a := sample(4, at(0, 9))
	a.Energy = intPtr(6)
	a.Sleep = intPtr(7)
	b := sample(8, at(1, 9))

	snap := ComputeAggregates([]models.MoodSample{a, b}, 7, testNow, time.UTC)

	assert.Equal(t, 6.0, snap.MoodMean)
	assert.Equal(t, 6.0, snap.EnergyMean)
	assert.Equal(t, 7.0, snap.SleepMean)
	assert.Zero(t, snap.StressMean)
}

func TestComputeAggregates_DistributionCountsOnlyWindow(t *testing.T) {
	samples := []models.MoodSample{
		sample(5, at(0, 8)),
		sample(5, at(2, 8)),
		sample(7, at(6, 1)),
		sample(3, at(7, 23)),                 // day before a 7-day window
		sample(9, testNow.Add(2*time.Hour)), // future
	}

	snap := ComputeAggregates(samples, 7, testNow, time.UTC)

	total := 0
	for _, c := range snap.Distribution {
		total += c
	}
	assert.Equal(t, 3, snap.TotalEntries)
	assert.Equal(t, snap.TotalEntries, total)
	assert.Equal(t, map[int]int{5: 2, 7: 1}, snap.Distribution)
}

func TestComputeAggregates_SortsUnorderedInput(t *testing.T) {
	newest := at(0, 18)
	samples := []models.MoodSample{
		sample(6, at(3, 8)),
		sample(7, newest),
		sample(2, at(5, 8)),
	}

	snap := ComputeAggregates(samples, 30, testNow, time.UTC)

	require.NotNil(t, snap.LastEntry)
	assert.True(t, newest.Equal(*snap.LastEntry))
	assert.Len(t, snap.Daily, 30)
	assert.Equal(t, "2026-10-16", snap.Daily[29].Label)
	assert.Equal(t, 7.0, snap.Daily[29].Mean)
	assert.Equal(t, 1, snap.Daily[29].Count)
	assert.Zero(t, snap.Daily[28].Count, "empty day reports zero, not null")
}

func TestComputeAggregates_TimeOfDayUsesSubjectTimezone(t *testing.T) {
	bogota := time.FixedZone("UTC-5", -5*3600)
	samples := []models.MoodSample{
		sample(4, time.Date(2026, 10, 16, 4, 0, 0, 0, time.UTC)),  // 23:00 local on the 15th
		sample(8, time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)), // 08:00 local
	}

	snap := ComputeAggregates(samples, 7, testNow, bogota)

	assert.Equal(t, CategoryStat{Mean: 4, Count: 1}, snap.ByTimeOfDay[BandEvening])
	assert.Equal(t, CategoryStat{Mean: 8, Count: 1}, snap.ByTimeOfDay[BandMorning])
	assert.Zero(t, snap.ByTimeOfDay[BandNight].Count)
	assert.Equal(t, 1, snap.ByWeekday["Thursday"].Count)
	assert.Equal(t, 1, snap.ByWeekday["Friday"].Count)
}

func TestComputeAggregates_BestAndWorstDay(t *testing.T) {
	samples := []models.MoodSample{
		sample(9, at(0, 10)), // Friday
		sample(7, at(0, 12)), // Friday
		sample(2, at(1, 10)), // Thursday
		sample(5, at(2, 10)), // Wednesday
	}

	snap := ComputeAggregates(samples, 7, testNow, time.UTC)

	assert.Equal(t, "Friday", snap.BestDay)
	assert.Equal(t, "Thursday", snap.WorstDay)
	assert.Equal(t, CategoryStat{Mean: 8, Count: 2}, snap.ByWeekday["Friday"])
}

func TestComputeAggregates_WeeklyAndMonthlySeries(t *testing.T) {
	samples := []models.MoodSample{
		sample(6, at(0, 10)),
		sample(4, at(0, 11)),
		sample(8, at(10, 10)),
	}

	snap := ComputeAggregates(samples, 14, testNow, time.UTC)

	require.Len(t, snap.Weekly, 7)
	assert.Equal(t, "Fri", snap.Weekly[6].Label)
	assert.Equal(t, 5.0, snap.Weekly[6].Mean)
	assert.Equal(t, 2, snap.Weekly[6].Count)

	// window runs Sat Oct 3 .. Fri Oct 16, touching three ISO weeks
	require.Len(t, snap.Monthly, 3)
	count := 0
	for _, b := range snap.Monthly {
		assert.Equal(t, time.Monday, b.Start.Weekday())
		count += b.Count
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, "2026-W42", snap.Monthly[2].Label)
}

func TestComputeAggregates_TagCorrelations(t *testing.T) {
	a := sample(8, at(0, 9))
	a.Activities = []string{"exercise"}
	a.Sleep = intPtr(8)
	b := sample(6, at(1, 9))
	b.Activities = []string{"exercise", "work"}
	b.Sleep = intPtr(6)
	c := sample(4, at(2, 9))
	c.Activities = []string{"work"}
	c.Emotions = []string{"anxious"}
	c.Sleep = intPtr(4)

	snap := ComputeAggregates([]models.MoodSample{a, b, c}, 7, testNow, time.UTC)

	require.Len(t, snap.Activities, 2)
	assert.Equal(t, TagStat{Tag: "exercise", Mean: 7, Delta: 1, Count: 2}, snap.Activities[0])
	assert.Equal(t, TagStat{Tag: "work", Mean: 5, Delta: -1, Count: 2}, snap.Activities[1])
	require.Len(t, snap.Emotions, 1)
	assert.Equal(t, "anxious", snap.Emotions[0].Tag)
	assert.Equal(t, 1.0, snap.SleepMoodCorrelation)
}

func TestComputeAggregates_DefaultsWindow(t *testing.T) {
	snap := ComputeAggregates(nil, 0, testNow, nil)

	assert.Equal(t, DefaultWindowDays, snap.WindowDays)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.Len(t, snap.Daily, DefaultWindowDays)
}
