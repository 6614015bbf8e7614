package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodline/internal/models"
)

func TestLocalFeed_DeliversPerSubject(t *testing.T) {
	f := NewLocalFeed()
	ctx := context.Background()

	var got []models.ChangeEvent
	unsubscribe, err := f.Subscribe(ctx, "subject-1", func(ev models.ChangeEvent) { got = append(got, ev) })
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, models.ChangeEvent{SubjectID: "subject-1", SampleID: "a", Kind: models.ChangeSampleCreated}))
	require.NoError(t, f.Publish(ctx, models.ChangeEvent{SubjectID: "subject-2", SampleID: "b", Kind: models.ChangeSampleCreated}))

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SampleID)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, f.Subscribers("subject-1"))

	require.NoError(t, f.Publish(ctx, models.ChangeEvent{SubjectID: "subject-1", SampleID: "c"}))
	assert.Len(t, got, 1)
}

func TestLocalFeed_MultipleSubscribers(t *testing.T) {
	f := NewLocalFeed()
	ctx := context.Background()
	counts := make([]int, 2)
	for i := range counts {
		i := i
		_, err := f.Subscribe(ctx, "subject-1", func(models.ChangeEvent) { counts[i]++ })
		require.NoError(t, err)
	}

	require.NoError(t, f.Publish(ctx, models.ChangeEvent{SubjectID: "subject-1", At: time.Now()}))

	assert.Equal(t, []int{1, 1}, counts)
}
