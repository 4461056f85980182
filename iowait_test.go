package corun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePoller records watch() calls instead of touching a real kernel
// multiplexer, so ioIndex's bookkeeping can be tested in isolation.
type fakePoller struct {
	masks map[int]eventMask
}

func newFakePoller() *fakePoller {
	return &fakePoller{masks: make(map[int]eventMask)}
}

func (p *fakePoller) watch(fd int, mask eventMask) error {
	if mask == 0 {
		delete(p.masks, fd)
		return nil
	}
	p.masks[fd] = mask
	return nil
}

func (p *fakePoller) wait(time.Duration) ([]pollEvent, error) { return nil, nil }
func (p *fakePoller) close() error                            { return nil }

func TestIOIndexParkTracksUnionMask(t *testing.T) {
	fp := newFakePoller()
	idx := newIOIndex(fp)
	r := newFlow("r", nil)
	w := newFlow("w", nil)

	require.NoError(t, idx.park(r, 5, dirRead))
	require.Equal(t, maskRead, fp.masks[5])
	require.Equal(t, locIOWait, r.loc)

	require.NoError(t, idx.park(w, 5, dirWrite))
	require.Equal(t, maskRead|maskWrite, fp.masks[5])
}

func TestIOIndexParkDuplicateDirectionFails(t *testing.T) {
	fp := newFakePoller()
	idx := newIOIndex(fp)
	a := newFlow("a", nil)
	b := newFlow("b", nil)

	require.NoError(t, idx.park(a, 5, dirRead))
	err := idx.park(b, 5, dirRead)
	require.ErrorIs(t, err, ErrAlreadyWaiting)
}

func TestIOIndexPopReadyUnregistersWhenLastWaiterLeaves(t *testing.T) {
	fp := newFakePoller()
	idx := newIOIndex(fp)
	f := newFlow("f", nil)
	require.NoError(t, idx.park(f, 7, dirRead))

	got, ok := idx.popReady(7, dirRead)
	require.True(t, ok)
	require.Equal(t, f, got)
	_, stillThere := fp.masks[7]
	require.False(t, stillThere)
}

func TestIOIndexPopHangupDrainsBothDirections(t *testing.T) {
	fp := newFakePoller()
	idx := newIOIndex(fp)
	r := newFlow("r", nil)
	w := newFlow("w", nil)
	require.NoError(t, idx.park(r, 9, dirRead))
	require.NoError(t, idx.park(w, 9, dirWrite))

	waiters := idx.popHangup(9)
	require.ElementsMatch(t, []*Flow{r, w}, waiters)
	_, stillThere := fp.masks[9]
	require.False(t, stillThere)
}

func TestIOIndexRemoveWithoutWaking(t *testing.T) {
	fp := newFakePoller()
	idx := newIOIndex(fp)
	f := newFlow("f", nil)
	require.NoError(t, idx.park(f, 3, dirWrite))

	idx.remove(3, dirWrite)
	_, ok := fp.masks[3]
	require.False(t, ok)
	_, ok = idx.popReady(3, dirWrite)
	require.False(t, ok)
}
