package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"moodline/internal/models"
)

// ErrNoSignal means the classifier answered but nothing usable could be
// read from the response.
var ErrNoSignal = errors.New("classifier returned no usable verdict")

type ClassifierRequest struct {
	Note           string `json:"note"`
	MoodTrajectory []int  `json:"moodTrajectory,omitempty"`
}

// ClassifierResponse is the structured verdict expected from the external
// classifier. Signals may be plain labels or {label, confidence} objects.
type ClassifierResponse struct {
	IsCrisis        bool              `json:"isCrisis"`
	RiskLevel       string            `json:"riskLevel"`
	Signals         []json.RawMessage `json:"signals"`
	Recommendations []string          `json:"recommendations"`
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifierRequest) (*Verdict, error)
}

const defaultClassifierConfidence = 0.7

// HTTPClassifier posts notes to an external language-model risk endpoint.
type HTTPClassifier struct {
	httpClient *resty.Client
	path       string
	logger     *zap.Logger
}

// NewHTTPClassifier builds a client for baseURL. The per-call deadline comes
// from the caller's context; the client timeout is only an upper bound.
func NewHTTPClassifier(baseURL, path, apiKey string, logger *zap.Logger) *HTTPClassifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	if path == "" {
		path = "/v1/risk"
	}
	return &HTTPClassifier{httpClient: client, path: path, logger: logger}
}

func (c *HTTPClassifier) Classify(ctx context.Context, req ClassifierRequest) (*Verdict, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode())
	}

	verdict, err := ParseClassifierResponse(resp.Body())
	if err != nil {
		c.logger.Debug("classifier response not usable",
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("body_bytes", len(resp.Body())),
			zap.Error(err),
		)
		return nil, err
	}
	return verdict, nil
}

// ParseClassifierResponse tolerates empty bodies, markdown code fences and
// prose around the JSON object. Anything unreadable is ErrNoSignal.
func ParseClassifierResponse(body []byte) (*Verdict, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrNoSignal
	}
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, ErrNoSignal
	}

	var raw ClassifierResponse
	if err := json.Unmarshal(body[start:end+1], &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSignal, err)
	}

	level, err := models.ParseRiskLevel(raw.RiskLevel)
	if err != nil {
		level = models.RiskLow
	}
	if raw.IsCrisis {
		level = models.MaxRisk(level, models.RiskHigh)
	}

	v := &Verdict{Level: level, Recommendations: []string{}}
	for _, s := range raw.Signals {
		if sig, ok := parseSignal(s); ok {
			v.Signals = append(v.Signals, sig)
		}
	}
	for _, r := range raw.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			v.Recommendations = append(v.Recommendations, r)
		}
	}
	if err != nil && !raw.IsCrisis && len(v.Signals) == 0 {
		return nil, ErrNoSignal
	}
	return v, nil
}

func parseSignal(raw json.RawMessage) (models.Signal, bool) {
	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		label = strings.TrimSpace(label)
		return models.Signal{Origin: models.OriginClassifier, Label: label, Confidence: defaultClassifierConfidence}, label != ""
	}
	var obj struct {
		Label      string   `json:"label"`
		Type       string   `json:"type"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.Signal{}, false
	}
	label = strings.TrimSpace(obj.Label)
	if label == "" {
		label = strings.TrimSpace(obj.Type)
	}
	if label == "" {
		return models.Signal{}, false
	}
	conf := defaultClassifierConfidence
	if obj.Confidence != nil && *obj.Confidence >= 0 && *obj.Confidence <= 1 {
		conf = *obj.Confidence
	}
	return models.Signal{Origin: models.OriginClassifier, Label: label, Confidence: conf}, true
}
