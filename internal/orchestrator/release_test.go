package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"modelpool/pkg/types"
)

func TestReleaseNilHandle(t *testing.T) {
	o, _ := newTestOrch(t, gb, nil, nil)
	err := o.Release(nil)
	require.True(t, IsReleaseUnderflow(err))
}

func TestDoubleReleaseRejected(t *testing.T) {
	a := baseSpec("a", gb)
	o, _ := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)

	h := mustAcquire(t, o, a)
	mustRelease(t, o, h)

	err := o.Release(h)
	require.True(t, IsReleaseUnderflow(err))

	// The double release did not drive the count negative.
	require.Zero(t, o.Status().Entries[0].RefCount)
}

func TestUnderflowNeverCorruptsCount(t *testing.T) {
	a := baseSpec("a", gb)
	o, _ := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)

	h1 := mustAcquire(t, o, a)
	h2 := mustAcquire(t, o, a)
	mustRelease(t, o, h1)

	err := o.Release(h1)
	require.True(t, IsReleaseUnderflow(err))
	require.Equal(t, 1, o.Status().Entries[0].RefCount)

	mustRelease(t, o, h2)
}

func TestReleaseBumpsRecency(t *testing.T) {
	a := baseSpec("a", gb)
	o, _ := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)

	h := mustAcquire(t, o, a)
	before := o.Status().Entries[0].LastUsed
	mustRelease(t, o, h)
	after := o.Status().Entries[0].LastUsed
	require.GreaterOrEqual(t, after, before)
}

func TestHandleModelID(t *testing.T) {
	a := baseSpec("a", gb)
	o, _ := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	h := mustAcquire(t, o, a)
	require.Equal(t, "a", h.ModelID())
	mustRelease(t, o, h)
}
