package notify

import (
	"context"
	"errors"

	"moodline/internal/escalation"
	"moodline/internal/models"
)

// Fanout dispatches to every channel. The alert counts as sent when at
// least one channel delivered it.
type Fanout []escalation.Notifier

func (f Fanout) Notify(ctx context.Context, partyID string, summary models.AlertSummary) (bool, error) {
	if len(f) == 0 {
		return false, errors.New("no notification channels configured")
	}
	var errs []error
	sent := false
	for _, n := range f {
		ok, err := n.Notify(ctx, partyID, summary)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sent = sent || ok
	}
	if sent {
		return true, nil
	}
	return false, errors.Join(errs...)
}
