package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("queued")
	assert.Error(t, err)
}

func TestTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	legal := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
			err := CheckTransition(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}
	}

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusProcessing.Active())
	assert.Panics(t, func() { Status("bogus").Terminal() })
}

func TestFailureFrom(t *testing.T) {
	assert.Nil(t, FailureFrom(nil))

	tests := []struct {
		err  error
		want FailureKind
	}{
		{fmt.Errorf("%w: too colourful", ErrNonThermalFootage), FailureNonThermal},
		{fmt.Errorf("open: %w", ErrUnreadableVideo), FailureUnreadableVideo},
		{ErrNoFramesProcessed, FailureNoFrames},
		{fmt.Errorf("%w: shape mismatch", ErrModelInference), FailureModelInference},
		{fmt.Errorf("%w after 5m0s", ErrTimeout), FailureTimeout},
		{context.DeadlineExceeded, FailureTimeout},
		{context.Canceled, FailureCanceled},
		{errors.New("disk full"), FailureInternal},
	}
	for _, tt := range tests {
		f := FailureFrom(tt.err)
		require.NotNil(t, f)
		assert.Equal(t, tt.want, f.Kind, tt.err.Error())
		assert.Equal(t, tt.err.Error(), f.Message)
		assert.Equal(t, tt.want.UserMessage(), f.UserMessage)
	}

	assert.NotEqual(t, FailureNonThermal.UserMessage(), FailureInternal.UserMessage())
	assert.NotEqual(t, FailureNonThermal.UserMessage(), FailureModelInference.UserMessage())
}

func TestEnergyImage(t *testing.T) {
	img := &EnergyImage{Size: 2, Pix: []float64{0, 0.5, 1, 0.5}}
	assert.Equal(t, 1.0, img.At(0, 1))
	assert.InDelta(t, 0.5, img.Mean(), 1e-12)
	assert.Zero(t, (&EnergyImage{}).Mean())
}

func TestJobAsset(t *testing.T) {
	j := &Job{VideoID: "v", VideoPath: "/x.mp4", VideoName: "x"}
	assert.Equal(t, VideoAsset{ID: "v", Path: "/x.mp4", Name: "x"}, j.Asset())
}
