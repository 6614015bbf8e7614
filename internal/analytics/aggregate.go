package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"moodline/internal/models"
)

const DefaultWindowDays = 30

// Time-of-day bands, evaluated against the subject's local clock.
const (
	BandNight     = "night"     // [00:00, 06:00)
	BandMorning   = "morning"   // [06:00, 12:00)
	BandAfternoon = "afternoon" // [12:00, 18:00)
	BandEvening   = "evening"   // [18:00, 24:00)
)

var timeOfDayBands = []string{BandNight, BandMorning, BandAfternoon, BandEvening}

// Bucket is one point of a dense series. Mean is 0 when Count is 0.
type Bucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	Mean  float64   `json:"mean"`
	Count int       `json:"count"`
}

type CategoryStat struct {
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// TagStat is the mean mood of samples carrying a tag. Delta is relative to
// the window's overall mood mean.
type TagStat struct {
	Tag   string  `json:"tag"`
	Mean  float64 `json:"mean"`
	Delta float64 `json:"delta"`
	Count int     `json:"count"`
}

// Snapshot is recomputed from a window of samples on every request and is
// never updated in place.
type Snapshot struct {
	WindowDays   int       `json:"window_days"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Timezone     string    `json:"timezone"`
	TotalEntries int       `json:"total_entries"`

	MoodMean   float64 `json:"mood_mean"`
	EnergyMean float64 `json:"energy_mean"`
	StressMean float64 `json:"stress_mean"`
	SleepMean  float64 `json:"sleep_mean"`

	Distribution map[int]int `json:"distribution"`

	Daily   []Bucket `json:"daily"`
	Weekly  []Bucket `json:"weekly"`
	Monthly []Bucket `json:"monthly"`

	ByWeekday   map[string]CategoryStat `json:"by_weekday"`
	ByTimeOfDay map[string]CategoryStat `json:"by_time_of_day"`
	BestDay     string                  `json:"best_day,omitempty"`
	WorstDay    string                  `json:"worst_day,omitempty"`

	CurrentStreak int        `json:"current_streak"`
	LastEntry     *time.Time `json:"last_entry"`

	Activities           []TagStat `json:"activities"`
	Emotions             []TagStat `json:"emotions"`
	SleepMoodCorrelation float64   `json:"sleep_mood_correlation"`
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v int) {
	m.sum += float64(v)
	m.count++
}

func (m *mean) addOpt(v *int) {
	if v != nil {
		m.add(*v)
	}
}

func (m mean) value() float64 {
	if m.count == 0 {
		return 0
	}
	return round2(m.sum / float64(m.count))
}

func (m mean) stat() CategoryStat { return CategoryStat{Mean: m.value(), Count: m.count} }

// WindowStart is the first instant of the window: local midnight windowDays-1
// calendar days before now.
func WindowStart(now time.Time, windowDays int, loc *time.Location) time.Time {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d-(windowDays-1), 0, 0, 0, 0, loc)
}

// ReadStart is where a single range read must begin to serve both the
// window and the streak look-back.
func ReadStart(now time.Time, windowDays int, loc *time.Location) time.Time {
	from := WindowStart(now, windowDays, loc)
	if lookback := WindowStart(now, StreakLookbackDays, loc); lookback.Before(from) {
		return lookback
	}
	return from
}

// ComputeAggregates filters samples to the calendar window ending at now,
// sorts them and derives every snapshot field except the streak, which is
// computed over all of samples. It never fails; an empty window yields
// zeroed fields and a nil LastEntry.
func ComputeAggregates(samples []models.MoodSample, windowDays int, now time.Time, loc *time.Location) Snapshot {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if loc == nil {
		loc = time.UTC
	}
	from := WindowStart(now, windowDays, loc)
	today := civilDay(now, loc)
	firstDay := civilDay(from, loc)

	inWindow := make([]models.MoodSample, 0, len(samples))
	for _, s := range samples {
		if s.CreatedAt.Before(from) || s.CreatedAt.After(now) {
			continue
		}
		inWindow = append(inWindow, s)
	}
	models.SortByCreatedAt(inWindow)

	snap := Snapshot{
		WindowDays:   windowDays,
		From:         from,
		To:           now,
		Timezone:     loc.String(),
		Distribution: map[int]int{},
		ByWeekday:    map[string]CategoryStat{},
		ByTimeOfDay:  map[string]CategoryStat{},
		Activities:   []TagStat{},
		Emotions:     []TagStat{},
	}

	var moodM, energyM, stressM, sleepM mean
	days := map[time.Time]*mean{}
	var weekday [7]mean
	bands := make(map[string]*mean, len(timeOfDayBands))
	for _, b := range timeOfDayBands {
		bands[b] = &mean{}
	}
	activities := map[string]*mean{}
	emotions := map[string]*mean{}

	for _, s := range inWindow {
		moodM.add(s.Mood)
		energyM.addOpt(s.Energy)
		stressM.addOpt(s.Stress)
		sleepM.addOpt(s.Sleep)
		snap.Distribution[s.Mood]++

		day := civilDay(s.CreatedAt, loc)
		if days[day] == nil {
			days[day] = &mean{}
		}
		days[day].add(s.Mood)

		local := s.CreatedAt.In(loc)
		weekday[local.Weekday()].add(s.Mood)
		bands[timeOfDay(local.Hour())].add(s.Mood)

		for _, t := range s.Activities {
			addTag(activities, t, s.Mood)
		}
		for _, t := range s.Emotions {
			addTag(emotions, t, s.Mood)
		}
	}

	snap.TotalEntries = len(inWindow)
	snap.MoodMean = moodM.value()
	snap.EnergyMean = energyM.value()
	snap.StressMean = stressM.value()
	snap.SleepMean = sleepM.value()

	snap.Daily = dailySeries(days, firstDay, today)
	weekStart := today.AddDate(0, 0, -6)
	snap.Weekly = dailySeries(days, weekStart, today)
	for i := range snap.Weekly {
		snap.Weekly[i].Label = snap.Weekly[i].Start.Weekday().String()[:3]
	}
	snap.Monthly = weeklySeries(days, firstDay, today)

	for d := time.Sunday; d <= time.Saturday; d++ {
		snap.ByWeekday[d.String()] = weekday[d].stat()
	}
	for _, b := range timeOfDayBands {
		snap.ByTimeOfDay[b] = bands[b].stat()
	}
	snap.BestDay, snap.WorstDay = bestAndWorstDay(weekday)

	// The streak is not bounded by the window: it walks back over every
	// sample supplied, which callers read from ReadStart.
	snap.CurrentStreak = CurrentStreak(samples, now, loc)

	if n := len(inWindow); n > 0 {
		last := inWindow[n-1].CreatedAt
		snap.LastEntry = &last
	}

	snap.Activities = tagStats(activities, snap.MoodMean)
	snap.Emotions = tagStats(emotions, snap.MoodMean)
	snap.SleepMoodCorrelation = sleepMoodCorrelation(inWindow)

	return snap
}

// civilDay maps t to midnight UTC of its calendar date in loc, so day
// arithmetic is unaffected by DST transitions.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return BandNight
	case hour < 12:
		return BandMorning
	case hour < 18:
		return BandAfternoon
	default:
		return BandEvening
	}
}

func dailySeries(days map[time.Time]*mean, from, to time.Time) []Bucket {
	out := []Bucket{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		b := Bucket{Label: d.Format("2006-01-02"), Start: d}
		if m := days[d]; m != nil {
			b.Mean, b.Count = m.value(), m.count
		}
		out = append(out, b)
	}
	return out
}

// weeklySeries buckets by ISO calendar week (Monday start), clipped to
// [from, to].
func weeklySeries(days map[time.Time]*mean, from, to time.Time) []Bucket {
	out := []Bucket{}
	offset := (int(from.Weekday()) + 6) % 7
	for ws := from.AddDate(0, 0, -offset); !ws.After(to); ws = ws.AddDate(0, 0, 7) {
		var acc mean
		for d := ws; d.Before(ws.AddDate(0, 0, 7)); d = d.AddDate(0, 0, 1) {
			if d.Before(from) || d.After(to) {
				continue
			}
			if m := days[d]; m != nil {
				acc.sum += m.sum
				acc.count += m.count
			}
		}
		year, week := ws.ISOWeek()
		out = append(out, Bucket{
			Label: fmt.Sprintf("%d-W%02d", year, week),
			Start: ws,
			Mean:  acc.value(),
			Count: acc.count,
		})
	}
	return out
}

// bestAndWorstDay ignores weekdays without entries. Ties keep the earlier
// weekday, Sunday first.
func bestAndWorstDay(weekday [7]mean) (best, worst string) {
	bestMean, worstMean := math.Inf(-1), math.Inf(1)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if weekday[d].count == 0 {
			continue
		}
		v := weekday[d].sum / float64(weekday[d].count)
		if v > bestMean {
			bestMean, best = v, d.String()
		}
		if v < worstMean {
			worstMean, worst = v, d.String()
		}
	}
	return best, worst
}

func addTag(tags map[string]*mean, tag string, mood int) {
	if tags[tag] == nil {
		tags[tag] = &mean{}
	}
	tags[tag].add(mood)
}

func tagStats(tags map[string]*mean, overall float64) []TagStat {
	out := make([]TagStat, 0, len(tags))
	for tag, m := range tags {
		v := m.value()
		out = append(out, TagStat{Tag: tag, Mean: v, Delta: round2(v - overall), Count: m.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// sleepMoodCorrelation is Pearson's r over samples reporting sleep; 0 with
// fewer than three such samples or no variance.
func sleepMoodCorrelation(samples []models.MoodSample) float64 {
	var xs, ys []float64
	for _, s := range samples {
		if s.Sleep == nil {
			continue
		}
		xs = append(xs, float64(*s.Sleep))
		ys = append(ys, float64(s.Mood))
	}
	n := float64(len(xs))
	if n < 3 {
		return 0
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return round2(cov / math.Sqrt(vx*vy))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
