package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moodline/internal/models"
)

const MaxWindowDays = 365

// StreakLookbackDays bounds how far back a streak is followed.
const StreakLookbackDays = MaxWindowDays

// SampleReader is the range read the facade needs from the sample store.
type SampleReader interface {
	RangeQuery(ctx context.Context, subjectID string, from, to time.Time) ([]models.MoodSample, error)
}

type SubjectReader interface {
	GetSubject(ctx context.Context, subjectID string) (*models.Subject, error)
}

// Cache stores computed read models per subject and window. Invalidate
// advances the subject's generation; Store writes only when the generation
// still equals the one read before the computation started, and reports
// whether it did.
type Cache interface {
	Load(ctx context.Context, subjectID string, windowDays int, dest any) (bool, error)
	Generation(ctx context.Context, subjectID string) (int64, error)
	Store(ctx context.Context, subjectID string, windowDays int, gen int64, v any) (bool, error)
	Invalidate(ctx context.Context, subjectID string) error
}

// Analytics is the read model served to presentation layers.
type Analytics struct {
	Snapshot   Snapshot `json:"snapshot"`
	Trend      Trend    `json:"trend"`
	Streak     int      `json:"streak"`
	EnoughData bool     `json:"enough_data"`
	Degraded   bool     `json:"degraded"`
}

type Service struct {
	samples  SampleReader
	subjects SubjectReader
	cache    Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires the facade. subjects and cache may be nil.
func NewService(samples SampleReader, subjects SubjectReader, cache Cache, logger *zap.Logger) *Service {
	return &Service{
		samples:  samples,
		subjects: subjects,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// GetAnalytics reads the store once and composes the snapshot, trend and
// streak. Store failures produce a degraded, empty read model rather than
// an error.
func (s *Service) GetAnalytics(ctx context.Context, subjectID string, windowDays int) Analytics {
	windowDays = ClampWindow(windowDays)

	if s.cache != nil {
		var cached Analytics
		ok, err := s.cache.Load(ctx, subjectID, windowDays, &cached)
		if err != nil {
			s.logger.Warn("analytics cache read failed",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		} else if ok {
			return cached
		}
	}
	return s.compute(ctx, subjectID, windowDays)
}

// Refresh recomputes from the store without consulting the cache, then
// replaces the cached entry. Live views call it after a change event, which
// can arrive before the writer has invalidated the cache.
func (s *Service) Refresh(ctx context.Context, subjectID string, windowDays int) Analytics {
	return s.compute(ctx, subjectID, ClampWindow(windowDays))
}

func (s *Service) compute(ctx context.Context, subjectID string, windowDays int) Analytics {
	loc := s.Location(ctx, subjectID)
	now := s.now()
	from := ReadStart(now, windowDays, loc)

	var gen int64
	cacheable := s.cache != nil
	if cacheable {
		g, err := s.cache.Generation(ctx, subjectID)
		if err != nil {
			s.logger.Warn("analytics cache generation read failed",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
			cacheable = false
		}
		gen = g
	}

	degraded := false
	samples, err := s.samples.RangeQuery(ctx, subjectID, from, now)
	if err != nil {
		s.logger.Warn("sample range query failed, serving empty analytics",
			zap.String("subject_id", subjectID),
			zap.Int("window_days", windowDays),
			zap.Error(err),
		)
		samples = nil
		degraded = true
	}

	out := Compose(samples, windowDays, now, loc)
	out.Degraded = degraded

	if cacheable && !degraded {
		stored, err := s.cache.Store(ctx, subjectID, windowDays, gen, out)
		if err != nil {
			s.logger.Warn("analytics cache write failed",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		} else if !stored {
			s.logger.Debug("subject changed during compute, cache write skipped",
				zap.String("subject_id", subjectID),
				zap.Int("window_days", windowDays),
			)
		}
	}
	return out
}

// Compose builds the read model from samples read from ReadStart. Window
// aggregates only see the window; the streak follows the whole read.
func Compose(samples []models.MoodSample, windowDays int, now time.Time, loc *time.Location) Analytics {
	snap := ComputeAggregates(samples, windowDays, now, loc)
	points := TrendPoints(snap)
	return Analytics{
		Snapshot:   snap,
		Trend:      ClassifyPoints(points),
		Streak:     snap.CurrentStreak,
		EnoughData: len(points) >= 2,
	}
}

// Location is the subject's configured zone, UTC when unknown.
func (s *Service) Location(ctx context.Context, subjectID string) *time.Location {
	if s.subjects == nil {
		return time.UTC
	}
	subj, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil || subj == nil {
		if err != nil {
			s.logger.Debug("subject lookup failed, using UTC",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		}
		return time.UTC
	}
	return subj.Location()
}

func ClampWindow(windowDays int) int {
	if windowDays <= 0 {
		return DefaultWindowDays
	}
	if windowDays > MaxWindowDays {
		return MaxWindowDays
	}
	return windowDays
}
