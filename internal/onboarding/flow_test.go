package onboarding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTableDrivesEveryEdge(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		from Status
		kind Transition
		to   Status
	}{
		{StatusStarted, TransitionResolveDirectory, StatusDirectoryResolved},
		{StatusStarted, TransitionCancel, StatusCancelled},
		{StatusDirectoryResolved, TransitionPairIdentity, StatusPaired},
		{StatusDirectoryResolved, TransitionCancel, StatusCancelled},
		{StatusPaired, TransitionComplete, StatusCompleted},
		{StatusPaired, TransitionCancel, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.kind), func(t *testing.T) {
			flow := NewFlow("ob_x", nil, now)
			flow.Status = tt.from

			next, result, err := apply(flow, tt.kind, map[string]any{"k": "v"}, "", now)
			require.NoError(t, err)
			assert.Equal(t, tt.to, next.Status)
			assert.Equal(t, tt.from, result.PreviousStatus)
			assert.Equal(t, tt.to, result.Status)
			assert.False(t, result.Idempotent)
			assert.Len(t, next.Transitions, 1)
			assert.Len(t, next.SideEffects, 1)
			assert.Equal(t, tt.from, next.Transitions[0].From)
			assert.Equal(t, tt.to, next.Transitions[0].To)
			// Input flow untouched.
			assert.Equal(t, tt.from, flow.Status)
			assert.Empty(t, flow.Transitions)
		})
	}
}

func TestApplyInvalidTransition(t *testing.T) {
	now := time.Now()
	flow := NewFlow("ob_x", nil, now)
	flow.Status = StatusCancelled

	_, _, err := apply(flow, TransitionPairIdentity, nil, "", now)
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCancelled, ite.Status)
	assert.Empty(t, ite.Allowed)
}

func TestApplyMetadataTargets(t *testing.T) {
	now := time.Now()
	flow := NewFlow("ob_x", nil, now)

	resolved, _, err := apply(flow, TransitionResolveDirectory, map[string]any{"entry": "p1"}, "", now)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"entry": "p1"}, resolved.DirectoryMatch)
	assert.Nil(t, resolved.Pairing)

	paired, _, err := apply(resolved, TransitionPairIdentity, map[string]any{"channel": "telegram"}, "", now)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"channel": "telegram"}, paired.Pairing)

	done, result, err := apply(paired, TransitionComplete, map[string]any{"note": "ok"}, "", now)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note": "ok"}, done.CompletionMetadata)
	assert.Equal(t, map[string]any{"note": "ok"}, result.CompletionMetadata)
}

func TestApplyCancelMarksCompletionMetadata(t *testing.T) {
	now := time.Now()
	flow := NewFlow("ob_x", nil, now)

	cancelled, _, err := apply(flow, TransitionCancel, map[string]any{"reason": "user"}, "", now)
	require.NoError(t, err)
	assert.Equal(t, true, cancelled.CompletionMetadata["cancelled"])
	assert.Equal(t, "user", cancelled.CompletionMetadata["reason"])
	assert.True(t, cancelled.Status.Terminal())
}

func TestApplyCachesIdempotencyKey(t *testing.T) {
	now := time.Now()
	flow := NewFlow("ob_x", nil, now)

	next, result, err := apply(flow, TransitionResolveDirectory, nil, "k1", now)
	require.NoError(t, err)
	cached, ok := next.Idempotency["k1"]
	require.True(t, ok)
	assert.Equal(t, result, cached)
	assert.Equal(t, "k1", next.Transitions[0].IdempotencyKey)
	assert.Equal(t, "k1", next.SideEffects[0].IdempotencyKey)
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	flow := NewFlow("ob_x", map[string]any{"a": 1}, now)
	flow.Idempotency["k"] = TransitionResult{OnboardingID: "ob_x"}

	clone := flow.Clone()
	clone.Request["a"] = 2
	clone.Idempotency["k2"] = TransitionResult{}
	clone.Transitions = append(clone.Transitions, TransitionRecord{})

	assert.Equal(t, 1, flow.Request["a"])
	assert.Len(t, flow.Idempotency, 1)
	assert.Empty(t, flow.Transitions)
}
