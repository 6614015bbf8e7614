package live

import (
	"context"
	"sync"

	"moodline/internal/models"
)

// Feed delivers "data changed" events per subject. Delivery is at least
// once; events carry no payload and subscribers re-query.
type Feed interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
	Subscribe(ctx context.Context, subjectID string, fn func(models.ChangeEvent)) (unsubscribe func(), err error)
}

// LocalFeed is an in-process Feed for single-instance deployments and tests.
// Callbacks run synchronously on the publisher's goroutine and must not
// block.
type LocalFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(models.ChangeEvent)
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[int]func(models.ChangeEvent))}
}

func (f *LocalFeed) Publish(_ context.Context, ev models.ChangeEvent) error {
	f.mu.RLock()
	fns := make([]func(models.ChangeEvent), 0, len(f.subs[ev.SubjectID]))
	for _, fn := range f.subs[ev.SubjectID] {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (f *LocalFeed) Subscribe(_ context.Context, subjectID string, fn func(models.ChangeEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	if f.subs[subjectID] == nil {
		f.subs[subjectID] = make(map[int]func(models.ChangeEvent))
	}
	f.subs[subjectID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[subjectID], id)
			if len(f.subs[subjectID]) == 0 {
				delete(f.subs, subjectID)
			}
		})
	}, nil
}

// Subscribers reports the number of live subscriptions for subjectID.
func (f *LocalFeed) Subscribers(subjectID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[subjectID])
}
