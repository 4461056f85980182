package corun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerHeapOrdersByExpiry(t *testing.T) {
	var h timerHeap
	base := time.Now()

	fC := newFlow("c", nil)
	fA := newFlow("a", nil)
	fB := newFlow("b", nil)

	h.push(base.Add(3*time.Second), fC)
	h.push(base.Add(1*time.Second), fA)
	h.push(base.Add(2*time.Second), fB)

	due := h.popDue(base.Add(10 * time.Second))
	require.Len(t, due, 3)
	require.Equal(t, fA, due[0].flow)
	require.Equal(t, fB, due[1].flow)
	require.Equal(t, fC, due[2].flow)
}

func TestTimerHeapPopDueOnlyReturnsElapsed(t *testing.T) {
	var h timerHeap
	now := time.Now()
	h.push(now.Add(-time.Second), newFlow("past", nil))
	h.push(now.Add(time.Hour), newFlow("future", nil))

	due := h.popDue(now)
	require.Len(t, due, 1)
	require.Equal(t, 1, h.Len())
}

func TestTimerHeapRemove(t *testing.T) {
	var h timerHeap
	now := time.Now()
	e1 := h.push(now.Add(time.Second), newFlow("a", nil))
	e2 := h.push(now.Add(2*time.Second), newFlow("b", nil))
	require.Equal(t, 2, h.Len())

	h.remove(e1)
	require.Equal(t, 1, h.Len())
	require.Equal(t, e2.flow, h[0].flow)

	// Removing again (stale index) must be a no-op, not a panic.
	h.remove(e1)
	require.Equal(t, 1, h.Len())
}

func TestTimerHeapPeekExpiryEmpty(t *testing.T) {
	var h timerHeap
	_, ok := h.peekExpiry()
	require.False(t, ok)
}
