// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "sync/atomic"

// OpMode selects whether a chain's cursor is being written (ENCODE) or
// read (DECODE). Only ENCODE chains commit a segment's tail lazily from
// the cursor position; DECODE chains treat tail as already fixed.
type OpMode int

const (
	Encode OpMode = iota
	Decode
)

var nextChainID atomic.Uint64

// Chain is an ordered sequence of segments forming a single logical byte
// stream with one cursor. A chain is mutated only by its owning
// goroutine; segments it holds are never touched by another goroutine
// except through Release (atomic) or through a Poolq producer depositing
// a freshly fetched segment before Fetch returns it.
type Chain struct {
	segs []*Segment
	cur  int // index into segs of the segment the cursor is in
	pos  int // byte offset into segs[cur].buf

	pcount  int
	plength int64

	minBsize, maxBsize int
	totalCap           int
	opMode             OpMode
	fetchFn            FetchFunc

	id uint64
}

// NewChain creates a chain with the given allocation bounds. flags is
// consulted only for FlagBufq: unless it is set (meaning segments come
// from a pool via SetFetchFunc), the chain immediately allocates one
// segment of minBsize and resets the cursor to its head. Segments the
// chain allocates itself always carry FlagFree.
func NewChain(minBsize, maxBsize int, flags SegmentFlag) *Chain {
	c := &Chain{
		minBsize: minBsize,
		maxBsize: maxBsize,
		opMode:   Encode,
		id:       nextChainID.Add(1),
	}
	if flags&FlagBufq == 0 {
		seg := NewSegment(minBsize, FlagFree)
		c.segs = append(c.segs, seg)
		c.totalCap = len(seg.buf)
	}
	return c
}

// ID returns the chain's monotonically allocated identifier (debugging
// only, mirrors the original's atomic next_id counter).
func (c *Chain) ID() uint64 { return c.id }

// SetFetchFunc installs how the chain obtains an additional segment once
// its current one is exhausted. A nil fn (the default) means allocate at
// minBsize with FlagFree.
func (c *Chain) SetFetchFunc(fn FetchFunc) { c.fetchFn = fn }

// SetOpMode selects ENCODE or DECODE semantics for tail-commit behaviour.
func (c *Chain) SetOpMode(mode OpMode) { c.opMode = mode }

// PCount returns the number of segments the cursor has fully traversed.
func (c *Chain) PCount() int { return c.pcount }

// PLength returns the sum of logical byte lengths of those segments.
func (c *Chain) PLength() int64 { return c.plength }

// Reset rewinds the chain to the beginning of its first segment, shifting
// that segment's head to wh_pos bytes past its backing array's start.
// Used to reuse a previously written or consumed buffer for a new
// message, optionally skipping a fixed preamble.
func (c *Chain) Reset(whPos int) error {
	if len(c.segs) == 0 {
		return ErrLayoutError
	}
	seg := c.segs[0]
	if whPos > len(seg.buf) {
		return ErrLayoutError
	}
	seg.head = whPos
	seg.tail = whPos
	c.cur = 0
	c.pos = seg.head
	c.pcount = 0
	c.plength = 0
	return nil
}

// Destroy releases every segment the chain holds. Segments flagged BUFQ
// return to their pool; owned segments drop their storage.
func (c *Chain) Destroy() {
	for _, seg := range c.segs {
		seg.Release()
	}
	c.segs = nil
}

// tailUpdate commits the cursor position into the current segment's tail
// when encoding, per spec's "tail update" hook.
func (c *Chain) tailUpdate() {
	if c.opMode == Encode && len(c.segs) > 0 {
		cur := c.segs[c.cur]
		if c.pos > cur.tail {
			cur.tail = c.pos
		}
	}
}

// ensureSegment obtains the chain's first segment on demand for a chain
// created with FlagBufq (which defers allocation until a fetch function
// is installed via SetFetchFunc). Chains created without FlagBufq always
// have a segment from NewChain onward, so this is a no-op for them.
func (c *Chain) ensureSegment() error {
	if len(c.segs) > 0 {
		return nil
	}
	seg := c.obtainSegment()
	if seg == nil {
		return ErrOutOfSpace
	}
	c.segs = append(c.segs, seg)
	c.cur = 0
	c.pos = seg.head
	return nil
}

// commitAndAdvance commits the current segment's tail (tail update) and
// returns the next already-existing segment, or nil if the cursor is at
// the chain's tail.
func (c *Chain) commitAndAdvance() *Segment {
	c.tailUpdate()
	if c.cur+1 < len(c.segs) {
		return c.segs[c.cur+1]
	}
	return nil
}

// enterSegment moves the cursor onto segs[idx], which must be the next
// segment in traversal order, folding the segment it leaves into
// pcount/plength.
func (c *Chain) enterSegment(idx int) {
	prev := c.segs[c.cur]
	c.plength += int64(prev.tail - prev.head)
	c.cur = idx
	c.pos = c.segs[idx].head
	c.pcount++
}

// obtainSegment gets one additional segment via the chain's fetch
// function, or allocates a fresh one at minBsize bounded by maxBsize.
func (c *Chain) obtainSegment() *Segment {
	if c.fetchFn != nil {
		got := c.fetchFn(1)
		if len(got) == 0 {
			return nil
		}
		return got[0]
	}
	if c.maxBsize > 0 && c.totalCap+c.minBsize > c.maxBsize {
		return nil
	}
	seg := NewSegment(c.minBsize, FlagFree)
	c.totalCap += len(seg.buf)
	return seg
}

// advanceGet moves to the next existing segment for a read operation,
// returning nil (no auto-grow) if the chain has no more segments.
func (c *Chain) advanceGet() *Segment {
	next := c.commitAndAdvance()
	if next == nil {
		return nil
	}
	c.enterSegment(c.cur + 1)
	return next
}

// advancePut moves to the next segment for a write operation, appending
// a freshly obtained one if the chain has no more, or nil if that fails.
func (c *Chain) advancePut() *Segment {
	next := c.commitAndAdvance()
	if next != nil {
		c.enterSegment(c.cur + 1)
		return next
	}
	seg := c.obtainSegment()
	if seg == nil {
		return nil
	}
	c.segs = append(c.segs, seg)
	c.enterSegment(len(c.segs) - 1)
	return seg
}
