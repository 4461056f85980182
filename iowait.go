package corun

// ioIndex is the I/O readiness index: two disjoint-per-fd maps
// (readWaiting, writeWaiting) kept consistent with the kernel poller's
// registered mask, which must always equal the union of
// {READ if fd has a reader} | {WRITE if fd has a writer}.
//
// Grounded on original_source/corun.py's wait_for_read/wait_for_write
// (the exact register-vs-modify branching on whether the other
// direction is already present) and gaio's per-fd fdDesc reader/writer
// lists in watcher.go.
type ioIndex struct {
	p            poller
	readWaiting  map[int]*Flow
	writeWaiting map[int]*Flow
}

func newIOIndex(p poller) *ioIndex {
	return &ioIndex{
		p:            p,
		readWaiting:  make(map[int]*Flow),
		writeWaiting: make(map[int]*Flow),
	}
}

func (idx *ioIndex) currentMask(fd int) eventMask {
	var m eventMask
	if _, ok := idx.readWaiting[fd]; ok {
		m |= maskRead
	}
	if _, ok := idx.writeWaiting[fd]; ok {
		m |= maskWrite
	}
	return m
}

// park registers f as waiting on fd in direction dir, updating the
// kernel poller's mask to the union of read/write interest. Returns
// ErrAlreadyWaiting if another flow already holds that (fd, direction).
func (idx *ioIndex) park(f *Flow, fd int, dir direction) error {
	switch dir {
	case dirRead:
		if _, exists := idx.readWaiting[fd]; exists {
			return ErrAlreadyWaiting
		}
		idx.readWaiting[fd] = f
	case dirWrite:
		if _, exists := idx.writeWaiting[fd]; exists {
			return ErrAlreadyWaiting
		}
		idx.writeWaiting[fd] = f
	}
	f.loc = locIOWait
	f.waitFD = fd
	f.waitDir = dir
	return idx.p.watch(fd, idx.currentMask(fd))
}

// popReady removes and returns the waiter for (fd, dir), re-registering
// the poller with whatever mask remains (possibly none, which
// unregisters the fd entirely).
func (idx *ioIndex) popReady(fd int, dir direction) (*Flow, bool) {
	var f *Flow
	var ok bool
	switch dir {
	case dirRead:
		f, ok = idx.readWaiting[fd]
		if ok {
			delete(idx.readWaiting, fd)
		}
	case dirWrite:
		f, ok = idx.writeWaiting[fd]
		if ok {
			delete(idx.writeWaiting, fd)
		}
	}
	if ok {
		idx.p.watch(fd, idx.currentMask(fd))
	}
	return f, ok
}

// popHangup removes whichever waiter(s) exist on fd (both directions,
// since a hangup/error is reported without direction) and unregisters
// the fd. Used by the I/O driver on EPOLLHUP/EPOLLERR.
func (idx *ioIndex) popHangup(fd int) []*Flow {
	var waiters []*Flow
	if f, ok := idx.readWaiting[fd]; ok {
		waiters = append(waiters, f)
		delete(idx.readWaiting, fd)
	}
	if f, ok := idx.writeWaiting[fd]; ok {
		waiters = append(waiters, f)
		delete(idx.writeWaiting, fd)
	}
	idx.p.watch(fd, idx.currentMask(fd))
	return waiters
}

// remove drops f's parked registration at (fd, dir) without waking it,
// used by KillTask to undo the wait structure membership of a killed
// target.
func (idx *ioIndex) remove(fd int, dir direction) {
	switch dir {
	case dirRead:
		delete(idx.readWaiting, fd)
	case dirWrite:
		delete(idx.writeWaiting, fd)
	}
	idx.p.watch(fd, idx.currentMask(fd))
}
