package risk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moodline/internal/models"
)

const (
	DefaultClassifierTimeout = 5 * time.Second
	trajectoryLength         = 14
)

// Extractor combines the keyword pass with an optional external classifier.
// Classifier failures never surface as errors; they are recorded on the
// assessment's ClassifierStatus.
type Extractor struct {
	classifier Classifier
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewExtractor accepts a nil classifier, in which case only the keyword pass
// runs.
func NewExtractor(classifier Classifier, timeout time.Duration, logger *zap.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	return &Extractor{
		classifier: classifier,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

type classifyResult struct {
	verdict *Verdict
	err     error
}

// AssessRisk evaluates sample against its recent history. It returns within
// the classifier timeout plus the cost of the keyword pass.
func (e *Extractor) AssessRisk(ctx context.Context, sample models.MoodSample, history []models.MoodSample) models.CrisisAssessment {
	keyword := KeywordPass(sample, history)

	classifierVerdict, status, detail := e.classify(ctx, sample, history)

	merged := Merge(keyword, classifierVerdict)
	if merged.Signals == nil {
		merged.Signals = []models.Signal{}
	}
	if merged.Recommendations == nil {
		merged.Recommendations = []string{}
	}

	return models.CrisisAssessment{
		ID:               uuid.NewString(),
		SubjectID:        sample.SubjectID,
		SourceSampleID:   sample.ID,
		SourceRevision:   sample.Revision,
		RiskLevel:        merged.Level,
		Signals:          merged.Signals,
		Recommendations:  merged.Recommendations,
		ClassifierStatus: status,
		ClassifierError:  detail,
		CreatedAt:        e.now().UTC(),
	}
}

func (e *Extractor) classify(ctx context.Context, sample models.MoodSample, history []models.MoodSample) (*Verdict, models.ClassifierStatus, string) {
	if e.classifier == nil {
		return nil, models.ClassifierDisabled, ""
	}
	if sample.Notes == "" {
		return nil, models.ClassifierSkipped, ""
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := ClassifierRequest{Note: sample.Notes, MoodTrajectory: Trajectory(sample, history)}
	done := make(chan classifyResult, 1)
	go func() {
		v, err := e.classifier.Classify(callCtx, req)
		done <- classifyResult{verdict: v, err: err}
	}()

	var res classifyResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = classifyResult{err: callCtx.Err()}
	}

	switch {
	case res.err == nil && res.verdict != nil:
		return res.verdict, models.ClassifierOK, ""
	case res.err == nil, errors.Is(res.err, ErrNoSignal):
		return nil, models.ClassifierNoSignal, ""
	case errors.Is(res.err, context.DeadlineExceeded):
		e.logger.Warn("risk classifier timed out, using keyword verdict",
			zap.String("subject_id", sample.SubjectID),
			zap.String("sample_id", sample.ID),
			zap.Duration("timeout", e.timeout),
		)
		return nil, models.ClassifierTimeout, res.err.Error()
	default:
		e.logger.Warn("risk classifier failed, using keyword verdict",
			zap.String("subject_id", sample.SubjectID),
			zap.String("sample_id", sample.ID),
			zap.Error(res.err),
		)
		return nil, models.ClassifierFailed, res.err.Error()
	}
}

// Trajectory is the chronological mood series ending with sample, capped to
// the most recent values.
func Trajectory(sample models.MoodSample, history []models.MoodSample) []int {
	series := make([]models.MoodSample, 0, len(history)+1)
	for _, h := range history {
		if h.ID != "" && h.ID == sample.ID {
			continue
		}
		series = append(series, h)
	}
	series = append(series, sample)
	models.SortByCreatedAt(series)
	if len(series) > trajectoryLength {
		series = series[len(series)-trajectoryLength:]
	}
	out := make([]int, len(series))
	for i, s := range series {
		out[i] = s.Mood
	}
	return out
}
