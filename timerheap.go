package corun

import (
	"container/heap"
	"time"
)

// timerEntry is one (expiry, flow) pair on the timer heap.
type timerEntry struct {
	expiry time.Time
	flow   *Flow
	index  int // maintained by container/heap for O(log n) Remove
}

// timerHeap is a container/heap min-heap ordered by absolute expiry,
// grounded on gaio's w.timeouts field and its heap.Push/Pop/Remove call
// sites in watcher.go.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].expiry.Before(h[j].expiry) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// push schedules f to wake at expiry.
func (h *timerHeap) push(expiry time.Time, f *Flow) *timerEntry {
	e := &timerEntry{expiry: expiry, flow: f}
	heap.Push(h, e)
	return e
}

// peekExpiry returns the next expiry and true, or the zero time and
// false if the heap is empty.
func (h timerHeap) peekExpiry() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].expiry, true
}

// popDue pops and returns every entry whose expiry has passed as of
// now, in expiry order.
func (h *timerHeap) popDue(now time.Time) []*timerEntry {
	var due []*timerEntry
	for h.Len() > 0 {
		if (*h)[0].expiry.After(now) {
			break
		}
		due = append(due, heap.Pop(h).(*timerEntry))
	}
	return due
}

// remove drops e from the heap ahead of its expiry, used when a parked
// flow is killed.
func (h *timerHeap) remove(e *timerEntry) {
	if e.index < 0 || e.index >= h.Len() {
		return
	}
	heap.Remove(h, e.index)
}
