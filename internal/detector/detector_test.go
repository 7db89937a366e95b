package detector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/store"
)

func newTestDetector(t *testing.T) (*Detector, store.Store) {
	t.Helper()
	st, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(DefaultConfig(), st, nil), st
}

func addConversation(t *testing.T, st store.Store) string {
	t.Helper()
	id, err := st.AddConversation(context.Background(), "fix the bug", "aider", "aider 'fix the bug'")
	require.NoError(t, err)
	return id
}

func TestAnalyze_WritesAutoFeedback(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	id := addConversation(t, st)

	d.RegisterFollowUp(id, "this is broken")
	d.RegisterFollowUp(id, "thanks, perfect now")

	out, err := d.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScored, out.Status)
	assert.Equal(t, 1, out.Score)
	assert.Equal(t, 2, out.Messages)

	conv, err := st.GetConversation(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, conv.SatisfactionScore)
	assert.Equal(t, 1, *conv.SatisfactionScore)
	assert.Equal(t, models.FeedbackAuto, conv.FeedbackSource)
	assert.True(t, conv.FollowUpAnalyzed)
	assert.Empty(t, d.Pending(), "buffer should be cleared after scoring")
}

func TestAnalyze_NeverOverwritesManualFeedback(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	id := addConversation(t, st)
	require.NoError(t, st.AddSatisfactionFeedback(ctx, id, 5, "great"))

	d.RegisterFollowUp(id, "this is broken")
	out, err := d.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)

	conv, err := st.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, *conv.SatisfactionScore)
	assert.Equal(t, models.FeedbackManual, conv.FeedbackSource)
	assert.Empty(t, d.Pending(), "skipped buffers are dropped")

	// Running again is a no-op.
	out, err = d.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, out.Status)
	scores, err := st.FeedbackScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, scores)
}

func TestAnalyze_InconclusiveStaysBuffered(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()
	id := addConversation(t, st)

	d.RegisterFollowUp(id, "ok")
	out, err := d.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInconclusive, out.Status)
	assert.Equal(t, map[string]int{id: 1}, d.Pending())

	d.RegisterFollowUp(id, "great")
	out, err = d.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScored, out.Status)
	assert.Equal(t, 4, out.Score)
	assert.Equal(t, 2, out.Messages)
}

func TestAnalyze_UnknownConversation(t *testing.T) {
	d, _ := newTestDetector(t)
	d.RegisterFollowUp("conv_0_42", "broken")

	_, err := d.Analyze(context.Background(), "conv_0_42")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, d.Pending())
}

func TestRegisterFollowUp_IgnoresBlank(t *testing.T) {
	d, _ := newTestDetector(t)
	d.RegisterFollowUp("conv_1_0", "  \x00 ")
	assert.Empty(t, d.Pending())
}

func TestAnalyzeAll(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		id := addConversation(t, st)
		ids = append(ids, id)
		if i%2 == 0 {
			d.RegisterFollowUp(id, "perfect, thank you!")
		} else {
			d.RegisterFollowUp(id, fmt.Sprintf("ok %d", i))
		}
	}
	d.RegisterFollowUp("conv_0_999", "broken")

	outcomes, err := d.AnalyzeAll(ctx)
	require.NoError(t, err)
	assert.Len(t, outcomes, 11)

	scored := 0
	for _, o := range outcomes {
		if o.Status == StatusScored {
			scored++
			assert.Equal(t, 5, o.Score)
		}
	}
	assert.Equal(t, 5, scored)
	assert.Len(t, d.Pending(), 5, "inconclusive conversations remain buffered")

	avg, ok, err := st.AverageSatisfaction(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, avg, 1e-9)
}

func TestFlush(t *testing.T) {
	d, st := newTestDetector(t)
	id := addConversation(t, st)
	d.RegisterFollowUp(id, "works, thanks")

	require.NoError(t, d.Flush(context.Background()))
	assert.Empty(t, d.Pending())
}

func TestDetector_RaceWithManualFeedback(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := addConversation(t, st)
		d.RegisterFollowUp(id, "this is broken")

		done := make(chan error, 1)
		go func() { done <- st.AddSatisfactionFeedback(ctx, id, 4, "manual") }()
		_, _ = d.Analyze(ctx, id)
		require.NoError(t, <-done)

		conv, err := st.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 4, *conv.SatisfactionScore, "manual feedback must win")
		assert.Equal(t, models.FeedbackManual, conv.FeedbackSource)
	}
}
