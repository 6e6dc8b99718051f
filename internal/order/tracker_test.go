package order

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitializeSeedsTimeline(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var o Order
	Tracker{}.Initialize(&o, now)

	require.Equal(t, StatusPending, o.Status)
	require.Len(t, o.Tracking, 6)
	require.Equal(t, "Order Placed", o.Tracking[0].Title)
	require.True(t, o.Tracking[0].Completed)
	require.False(t, o.Tracking[0].Active)
	require.Equal(t, now, *o.Tracking[0].Timestamp)
	require.True(t, o.Tracking[1].Active)
	require.True(t, o.Tracking[1].Next)
	require.False(t, o.Tracking[1].Completed)
	for _, step := range o.Tracking[2:] {
		require.False(t, step.Completed)
		require.False(t, step.Active)
		require.False(t, step.Next)
	}
	for _, step := range o.Tracking[1:] {
		require.Nil(t, step.Timestamp)
	}

	step, ok := Current(o)
	require.True(t, ok)
	require.Equal(t, "Order Confirmed", step.Title)
}

func TestTransitionAdvancesTimeline(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var o Order
	tr := Tracker{}
	tr.Initialize(&o, start)

	later := start.Add(3 * time.Hour)
	require.NoError(t, tr.Transition(&o, StatusInProgress, later))
	require.Equal(t, StatusInProgress, o.Status)
	for i := 0; i <= 3; i++ {
		require.True(t, o.Tracking[i].Completed, "step %d", i)
	}
	require.True(t, o.Tracking[3].Active)
	require.Equal(t, later, *o.Tracking[3].Timestamp)
	require.False(t, o.Tracking[0].Active)
	require.True(t, o.Tracking[4].Next)
	require.False(t, o.Tracking[1].Next)
	require.False(t, o.Tracking[4].Completed)

	step, ok := Current(o)
	require.True(t, ok)
	require.Equal(t, "Processing", step.Title)
}

func TestTransitionWithoutStepKeepsTimeline(t *testing.T) {
	var o Order
	tr := Tracker{}
	tr.Initialize(&o, time.Now())
	require.NoError(t, tr.Transition(&o, StatusReady, time.Now()))
	before := append([]TrackingStep(nil), o.Tracking...)

	require.NoError(t, tr.Transition(&o, StatusOutForDelivery, time.Now()))
	require.Equal(t, StatusOutForDelivery, o.Status)
	require.Equal(t, before, o.Tracking)

	require.NoError(t, tr.Transition(&o, StatusCancelled, time.Now()))
	require.Equal(t, before, o.Tracking)
}

func TestTransitionSetsActualDeliveryOnce(t *testing.T) {
	var o Order
	tr := Tracker{}
	first := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC)
	tr.Initialize(&o, first.Add(-48*time.Hour))
	require.NoError(t, tr.Transition(&o, StatusDelivered, first))
	require.Equal(t, first, *o.ActualDelivery)
	for _, step := range o.Tracking {
		require.True(t, step.Completed)
	}
	require.False(t, o.Tracking[5].Next)

	require.NoError(t, tr.Transition(&o, StatusDelivered, first.Add(time.Hour)))
	require.Equal(t, first, *o.ActualDelivery)
}

func TestPermissiveTrackerAllowsJumps(t *testing.T) {
	var o Order
	tr := Tracker{}
	tr.Initialize(&o, time.Now())
	require.NoError(t, tr.Transition(&o, StatusDelivered, time.Now()))
	require.NoError(t, tr.Transition(&o, StatusPending, time.Now()))
	require.True(t, o.Tracking[0].Active)
	require.True(t, o.Tracking[1].Next)
}

func TestPermissiveConfirmIsIdempotent(t *testing.T) {
	var o Order
	tr := Tracker{}
	tr.Initialize(&o, time.Now())
	require.NoError(t, tr.Transition(&o, StatusConfirmed, time.Now()))
	require.NoError(t, tr.Transition(&o, StatusConfirmed, time.Now()))

	require.Equal(t, StatusConfirmed, o.Status)
	require.Len(t, o.Tracking, 6)
	var active []int
	for i, step := range o.Tracking {
		if step.Active {
			active = append(active, i)
		}
	}
	require.Equal(t, []int{1}, active)
	require.True(t, o.Tracking[0].Completed)
	require.True(t, o.Tracking[1].Completed)
	for _, step := range o.Tracking[2:] {
		require.False(t, step.Completed)
	}
	require.True(t, o.Tracking[2].Next)
}

func TestStrictTrackerRejectsSkips(t *testing.T) {
	var o Order
	tr := Tracker{Strict: true}
	tr.Initialize(&o, time.Now())

	err := tr.Transition(&o, StatusReady, time.Now())
	require.True(t, errors.Is(err, ErrIllegalTransition))
	require.Equal(t, StatusPending, o.Status)

	require.NoError(t, tr.Transition(&o, StatusConfirmed, time.Now()))
	require.NoError(t, tr.Transition(&o, StatusConfirmed, time.Now()))
	require.NoError(t, tr.Transition(&o, StatusCancelled, time.Now()))
	require.ErrorIs(t, tr.Transition(&o, StatusConfirmed, time.Now()), ErrIllegalTransition)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	var o Order
	Tracker{}.Initialize(&o, time.Now())
	require.ErrorIs(t, Tracker{}.Transition(&o, Status("lost"), time.Now()), ErrInvalidStatus)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Picked-Up ")
	require.NoError(t, err)
	require.Equal(t, StatusPickedUp, s)
	_, err = ParseStatus("shipped")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestNewNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-\d{6}[A-Z0-9]{4}$`)
	now := time.UnixMilli(1_700_000_123_456)
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		n := NewNumber(now)
		require.Regexp(t, pattern, n)
		require.Equal(t, "ORD-123456", n[:10])
		seen[n] = struct{}{}
	}
	require.Greater(t, len(seen), 1)
}
