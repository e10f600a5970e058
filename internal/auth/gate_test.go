package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/apperr"
)

func TestGate_CheckRate_RejectsOverCap(t *testing.T) {
	gate := NewGate(NewLocalLimiter(1, 1), nil)
	ctx := context.Background()

	require.NoError(t, gate.CheckRate(ctx, "id"))
	err := gate.CheckRate(ctx, "id")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.RateLimited, ae.Kind)
}

func TestGate_AcquireStream_RejectsOverCapAndReleaseFreesSlot(t *testing.T) {
	gate := NewGate(nil, NewLocalConcurrencyTracker(1))
	ctx := context.Background()

	slot1, err := gate.AcquireStream(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, slot1)

	_, err = gate.AcquireStream(ctx, "id")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.ConcurrencyExceeded, ae.Kind)

	slot1.Release(ctx)

	slot2, err := gate.AcquireStream(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, slot2)
}

func TestStreamSlot_ReleaseIsIdempotent(t *testing.T) {
	gate := NewGate(nil, NewLocalConcurrencyTracker(1))
	ctx := context.Background()

	slot, err := gate.AcquireStream(ctx, "id")
	require.NoError(t, err)

	slot.Release(ctx)
	slot.Release(ctx) // must not double-release the underlying tracker

	slot2, err := gate.AcquireStream(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, slot2)
}

func TestGate_DisabledChecksAlwaysAllow(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	require.NoError(t, gate.CheckRate(ctx, "anything"))
	slot, err := gate.AcquireStream(ctx, "anything")
	require.NoError(t, err)
	slot.Release(ctx)
}
