package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moodline/internal/models"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlreadyResolved = errors.New("alert already resolved")
	ErrActorRequired   = errors.New("resolving an alert requires an actor")
)

const defaultNotifyTimeout = 10 * time.Second

// AlertStore persists alerts. CreateAlertIfNoneOpen must be atomic per
// subject: when an unresolved alert already exists it returns created=false
// together with that alert. GetAlert and LatestAlert return nil when there
// is nothing to return.
type AlertStore interface {
	CreateAlertIfNoneOpen(ctx context.Context, alert *models.CrisisAlert) (bool, *models.CrisisAlert, error)
	UpdateLatestAssessment(ctx context.Context, alertID, assessmentID string) error
	SetNotificationStatus(ctx context.Context, alertID string, status models.NotificationStatus, detail *string) error
	MarkAssessmentNotified(ctx context.Context, assessmentID string) (bool, error)
	GetAlert(ctx context.Context, alertID string) (*models.CrisisAlert, error)
	ResolveAlert(ctx context.Context, alertID, actorID string, note *string, at time.Time) (bool, error)
	LatestAlert(ctx context.Context, subjectID string) (*models.CrisisAlert, error)
}

type PartyDirectory interface {
	FindResponsibleParty(ctx context.Context, subjectID string) (string, bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, partyID string, summary models.AlertSummary) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

type Action string

const (
	ActionNone       Action = "none"
	ActionCreated    Action = "created"
	ActionSuppressed Action = "suppressed"
)

// Outcome describes what Escalate did. Notification is only meaningful
// when Action is ActionCreated.
type Outcome struct {
	Action       Action                    `json:"action"`
	Alert        *models.CrisisAlert       `json:"alert,omitempty"`
	Notification models.NotificationStatus `json:"notification,omitempty"`
	Detail       string                    `json:"detail,omitempty"`
}

type Options struct {
	Threshold     models.RiskLevel
	NotifyTimeout time.Duration
	Events        Publisher
}

type Coordinator struct {
	store         AlertStore
	parties       PartyDirectory
	notifier      Notifier
	events        Publisher
	threshold     models.RiskLevel
	notifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewCoordinator accepts a nil notifier; alerts are then recorded with a
// skipped notification.
func NewCoordinator(store AlertStore, parties PartyDirectory, notifier Notifier, opts Options, logger *zap.Logger) *Coordinator {
	timeout := opts.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Coordinator{
		store:         store,
		parties:       parties,
		notifier:      notifier,
		events:        opts.Events,
		threshold:     EffectiveThreshold(opts.Threshold),
		notifyTimeout: timeout,
		logger:        logger,
		now:           time.Now,
	}
}

// EffectiveThreshold defaults to medium and never rises above high, so high
// and critical assessments always escalate.
func EffectiveThreshold(l models.RiskLevel) models.RiskLevel {
	if !l.Valid() {
		return models.RiskMedium
	}
	if l.AtLeast(models.RiskCritical) {
		return models.RiskHigh
	}
	return l
}

func (c *Coordinator) Threshold() models.RiskLevel { return c.threshold }

// Escalate applies one assessment to the subject's episode. Notification
// problems are reported on the Outcome; only store failures are errors.
func (c *Coordinator) Escalate(ctx context.Context, a *models.CrisisAssessment) (Outcome, error) {
	if a == nil || !a.RiskLevel.AtLeast(c.threshold) {
		return Outcome{Action: ActionNone}, nil
	}

	partyID, hasParty, lookupErr := c.lookupParty(ctx, a.SubjectID)

	now := c.now().UTC()
	alert := &models.CrisisAlert{
		ID:                 uuid.NewString(),
		SubjectID:          a.SubjectID,
		AssessmentID:       a.ID,
		LatestAssessmentID: a.ID,
		Urgency:            a.RiskLevel,
		NotificationStatus: models.NotificationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if hasParty {
		alert.ResponsiblePartyID = &partyID
	}

	created, open, err := c.store.CreateAlertIfNoneOpen(ctx, alert)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create alert: %w", err)
	}
	if !created {
		if open == nil {
			return Outcome{}, fmt.Errorf("open alert for subject %s vanished", a.SubjectID)
		}
		if err := c.store.UpdateLatestAssessment(ctx, open.ID, a.ID); err != nil {
			return Outcome{}, fmt.Errorf("failed to update open alert: %w", err)
		}
		open.LatestAssessmentID = a.ID
		c.logger.Info("open alert exists, suppressing duplicate escalation",
			zap.String("subject_id", a.SubjectID),
			zap.String("alert_id", open.ID),
			zap.String("assessment_id", a.ID),
		)
		return Outcome{Action: ActionSuppressed, Alert: open}, nil
	}

	c.logger.Info("crisis alert created",
		zap.String("subject_id", a.SubjectID),
		zap.String("alert_id", alert.ID),
		zap.String("urgency", string(alert.Urgency)),
	)
	c.publish(ctx, a.SubjectID)

	status, detail := c.dispatch(ctx, alert, a, partyID, hasParty, lookupErr)
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	if err := c.store.SetNotificationStatus(ctx, alert.ID, status, detailPtr); err != nil {
		// The alert row exists; losing the status is logged, not fatal.
		c.logger.Error("failed to record notification status",
			zap.String("alert_id", alert.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	alert.NotificationStatus = status
	alert.NotificationError = detailPtr

	return Outcome{Action: ActionCreated, Alert: alert, Notification: status, Detail: detail}, nil
}

func (c *Coordinator) lookupParty(ctx context.Context, subjectID string) (string, bool, error) {
	if c.parties == nil {
		return "", false, nil
	}
	partyID, ok, err := c.parties.FindResponsibleParty(ctx, subjectID)
	if err != nil {
		c.logger.Warn("responsible party lookup failed",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return "", false, err
	}
	partyID = strings.TrimSpace(partyID)
	return partyID, ok && partyID != "", nil
}

func (c *Coordinator) dispatch(ctx context.Context, alert *models.CrisisAlert, a *models.CrisisAssessment, partyID string, hasParty bool, lookupErr error) (models.NotificationStatus, string) {
	switch {
	case lookupErr != nil:
		return models.NotificationFailed, "responsible party lookup failed: " + lookupErr.Error()
	case !hasParty:
		c.logger.Warn("alert has no responsible party, notification skipped",
			zap.String("subject_id", alert.SubjectID),
			zap.String("alert_id", alert.ID),
		)
		return models.NotificationSkipped, "no responsible party on record"
	case c.notifier == nil:
		c.logger.Warn("no notifier configured, notification skipped", zap.String("alert_id", alert.ID))
		return models.NotificationSkipped, "no notifier configured"
	}

	notifyCtx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()

	sent, err := c.notifier.Notify(notifyCtx, partyID, Summarize(alert, a))
	if err != nil || !sent {
		detail := "notifier reported not sent"
		if err != nil {
			detail = err.Error()
		}
		c.logger.Warn("crisis notification failed",
			zap.String("alert_id", alert.ID),
			zap.String("party_id", partyID),
			zap.String("detail", detail),
		)
		return models.NotificationFailed, detail
	}

	flipped, err := c.store.MarkAssessmentNotified(ctx, a.ID)
	if err != nil {
		c.logger.Error("failed to mark assessment notified",
			zap.String("assessment_id", a.ID),
			zap.Error(err),
		)
	} else if !flipped {
		c.logger.Warn("assessment was already marked notified", zap.String("assessment_id", a.ID))
	}
	a.NotificationSent = true
	return models.NotificationSent, ""
}

// Summarize builds the notifier payload. Notes are never included.
func Summarize(alert *models.CrisisAlert, a *models.CrisisAssessment) models.AlertSummary {
	signals := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		signals = append(signals, s.Label)
	}
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}
	return models.AlertSummary{
		AlertID:         alert.ID,
		SubjectID:       alert.SubjectID,
		AssessmentID:    a.ID,
		Urgency:         alert.Urgency,
		Signals:         signals,
		Recommendations: recs,
		CreatedAt:       alert.CreatedAt,
	}
}

// Resolve closes an open alert on behalf of actorID. A calmer sample never
// resolves an alert; only this call does.
func (c *Coordinator) Resolve(ctx context.Context, alertID, actorID, note string) (*models.CrisisAlert, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, ErrActorRequired
	}
	alert, err := c.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	if alert.Resolved {
		return alert, ErrAlreadyResolved
	}

	var notePtr *string
	if note = strings.TrimSpace(note); note != "" {
		notePtr = &note
	}
	ok, err := c.store.ResolveAlert(ctx, alertID, actorID, notePtr, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyResolved
	}

	c.logger.Info("crisis alert resolved",
		zap.String("alert_id", alertID),
		zap.String("subject_id", alert.SubjectID),
		zap.String("resolved_by", actorID),
	)
	c.publish(ctx, alert.SubjectID)

	resolved, err := c.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload alert: %w", err)
	}
	if resolved == nil {
		return nil, ErrAlertNotFound
	}
	return resolved, nil
}

// State reports the subject's episode state from its most recent alert.
func (c *Coordinator) State(ctx context.Context, subjectID string) (models.EpisodeState, *models.CrisisAlert, error) {
	latest, err := c.store.LatestAlert(ctx, subjectID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load latest alert: %w", err)
	}
	switch {
	case latest == nil:
		return models.EpisodeNone, nil, nil
	case latest.Resolved:
		return models.EpisodeResolved, latest, nil
	default:
		return models.EpisodeAlerted, latest, nil
	}
}

func (c *Coordinator) publish(ctx context.Context, subjectID string) {
	if c.events == nil {
		return
	}
	ev := models.ChangeEvent{SubjectID: subjectID, Kind: models.ChangeAlertChanged, At: c.now().UTC()}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.Warn("failed to publish alert change", zap.String("subject_id", subjectID), zap.Error(err))
	}
}
