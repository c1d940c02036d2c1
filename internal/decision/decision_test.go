package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

func TestFromConsensus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		total      int
		mismatched int
		ratio      float64
		threshold  float64
		want       polla.Status
		wantRatio  bool
	}{
		{name: "clean", total: 4, mismatched: 0, ratio: 0, threshold: 0.2, want: polla.StatusPublish},
		{name: "under threshold", total: 10, mismatched: 1, ratio: 0.1, threshold: 0.2, want: polla.StatusPublishWithWarnings, wantRatio: true},
		{name: "boundary inclusive", total: 2, mismatched: 1, ratio: 0.5, threshold: 0.5, want: polla.StatusPublishWithWarnings, wantRatio: true},
		{name: "over threshold", total: 2, mismatched: 1, ratio: 0.5, threshold: 0.4, want: polla.StatusQuarantine, wantRatio: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FromConsensus(tt.total, tt.mismatched, tt.ratio, tt.threshold)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.total, got.TotalCategories)
			assert.Equal(t, tt.mismatched, got.MismatchedCategories)
			if tt.wantRatio {
				require.NotNil(t, got.MismatchRatio)
				assert.InDelta(t, tt.ratio, *got.MismatchRatio, 1e-9)
			} else {
				assert.Nil(t, got.MismatchRatio)
			}
		})
	}
}

func TestGateOnPublished(t *testing.T) {
	t.Parallel()

	publish := FromConsensus(2, 0, 0, 0.2)

	assert.Equal(t, polla.StatusPublish, GateOnPublished(publish, false, false).Status)
	assert.Equal(t, polla.StatusSkip, GateOnPublished(publish, true, false).Status)
	assert.Equal(t, ReasonUnchanged, GateOnPublished(publish, true, false).Reason)
	assert.Equal(t, polla.StatusPublishForced, GateOnPublished(publish, true, true).Status)

	warnings := FromConsensus(2, 1, 0.5, 0.5)
	assert.Equal(t, polla.StatusPublishWithWarnings, GateOnPublished(warnings, false, false).Status)

	quarantine := FromConsensus(2, 2, 1, 0.2)
	assert.Equal(t, polla.StatusQuarantine, GateOnPublished(quarantine, true, true).Status)
	assert.Equal(t, polla.StatusQuarantine, GateOnPublished(quarantine, false, false).Status)
}

func TestFromJackpot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, polla.StatusPublish, FromJackpot(3, false, false).Status)
	assert.Equal(t, polla.StatusSkip, FromJackpot(3, true, false).Status)
	forced := FromJackpot(3, true, true)
	assert.Equal(t, polla.StatusPublishForced, forced.Status)
	assert.True(t, forced.Status.Publishable())
	assert.Equal(t, 3, forced.TotalCategories)
}
