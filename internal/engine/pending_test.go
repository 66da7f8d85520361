package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/model"
)

func TestTrackerTransitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []SendState
		wantErr []bool
		final   SendState
	}{
		{
			name:    "confirm",
			steps:   []SendState{StateConfirmed},
			wantErr: []bool{false},
			final:   StateConfirmed,
		},
		{
			name:    "fail",
			steps:   []SendState{StateFailed},
			wantErr: []bool{false},
			final:   StateFailed,
		},
		{
			name:    "confirm twice",
			steps:   []SendState{StateConfirmed, StateConfirmed},
			wantErr: []bool{false, true},
			final:   StateConfirmed,
		},
		{
			name:    "fail after confirm",
			steps:   []SendState{StateConfirmed, StateFailed},
			wantErr: []bool{false, true},
			final:   StateConfirmed,
		},
		{
			name:    "confirm after fail",
			steps:   []SendState{StateFailed, StateConfirmed},
			wantErr: []bool{false, true},
			final:   StateFailed,
		},
		{
			name:    "back to pending",
			steps:   []SendState{StatePending},
			wantErr: []bool{true},
			final:   StatePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.Begin("temp-1-a", model.InternalThread(), time.Unix(0, 0))

			for i, step := range tt.steps {
				_, err := tr.Transition("temp-1-a", step)
				if tt.wantErr[i] {
					assert.ErrorIs(t, err, ErrIllegalTransition)
				} else {
					assert.NoError(t, err)
				}
			}

			rec, ok := tr.Get("temp-1-a")
			require.True(t, ok)
			assert.Equal(t, tt.final, rec.State)
		})
	}
}

func TestTrackerUnknownID(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Transition("temp-9-z", StateConfirmed)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTrackerTimerLifecycle(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	tr := NewTracker()
	key := model.ConversationThread("c1")

	fired := 0
	tr.Begin("temp-1-a", key, clk.Now())
	assert.True(t, tr.Arm("temp-1-a", clk.AfterFunc(time.Second, func() { fired++ })))

	_, err := tr.Transition("temp-1-a", StateConfirmed)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	assert.Zero(t, fired)

	// Arming a settled send stops the new timer straight away.
	assert.False(t, tr.Arm("temp-1-a", clk.AfterFunc(time.Second, func() { fired++ })))
	clk.Advance(time.Minute)
	assert.Zero(t, fired)

	tr.Begin("temp-2-b", key, clk.Now())
	tr.Begin("temp-3-c", model.InternalThread(), clk.Now())
	tr.Arm("temp-2-b", clk.AfterFunc(time.Second, func() { fired++ }))
	assert.Equal(t, 2, tr.PendingCount())

	tr.Abandon(key)
	clk.Advance(time.Minute)
	assert.Zero(t, fired)
	assert.Equal(t, 1, tr.PendingCount())
	_, ok := tr.Get("temp-1-a")
	assert.False(t, ok)

	tr.Reset()
	assert.Zero(t, tr.PendingCount())
}

func TestTrackerDisarm(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	tr := NewTracker()

	fired := 0
	tr.Begin("temp-1-a", model.InternalThread(), clk.Now())
	tr.Arm("temp-1-a", clk.AfterFunc(time.Second, func() { fired++ }))

	assert.True(t, tr.Disarm("temp-1-a"))
	clk.Advance(time.Minute)
	assert.Zero(t, fired)

	rec, ok := tr.Get("temp-1-a")
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)

	_, err := tr.Transition("temp-1-a", StateFailed)
	require.NoError(t, err)
	assert.False(t, tr.Disarm("temp-1-a"))
	assert.False(t, tr.Disarm("temp-9-z"))
}

func TestSendStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "confirmed", StateConfirmed.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "SendState(7)", SendState(7).String())
}
