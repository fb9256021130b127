// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "encoding/binary"

// GetUnit reads a 32-bit big-endian unit at the cursor, advancing it by
// four bytes. Crossing a segment boundary mid-unit (the cursor not
// sitting exactly on the boundary) is an alignment violation: decoders
// disallow interior padding.
func (c *Chain) GetUnit() (uint32, error) {
	if len(c.segs) == 0 {
		return 0, ErrTruncated
	}
	for {
		cur := c.segs[c.cur]
		if c.pos+4 <= cur.tail {
			v := binary.BigEndian.Uint32(cur.buf[c.pos : c.pos+4])
			c.pos += 4
			return v, nil
		}
		if c.pos != cur.tail {
			return 0, ErrAlignmentViolation
		}
		if c.advanceGet() == nil {
			return 0, ErrTruncated
		}
	}
}

// PutUnit writes a 32-bit big-endian unit at the cursor, advancing to
// (and auto-appending, bounded by maxBsize) further segments as needed.
func (c *Chain) PutUnit(v uint32) error {
	if err := c.ensureSegment(); err != nil {
		return err
	}
	for {
		cur := c.segs[c.cur]
		if c.pos+4 <= cur.wrap() {
			binary.BigEndian.PutUint32(cur.buf[c.pos:c.pos+4], v)
			c.pos += 4
			return nil
		}
		if c.advancePut() == nil {
			return ErrOutOfSpace
		}
	}
}

// GetBytes drains len(dst) bytes from the cursor into dst, advancing
// across segment boundaries as needed. It succeeds iff the chain holds
// at least len(dst) bytes from the cursor onward.
func (c *Chain) GetBytes(dst []byte) error {
	if len(dst) > 0 && len(c.segs) == 0 {
		return ErrTruncated
	}
	for len(dst) > 0 {
		cur := c.segs[c.cur]
		avail := cur.tail - c.pos
		if avail <= 0 {
			if c.advanceGet() == nil {
				return ErrTruncated
			}
			continue
		}
		if avail > len(dst) {
			avail = len(dst)
		}
		n := copy(dst, cur.buf[c.pos:c.pos+avail])
		c.pos += n
		dst = dst[n:]
	}
	return nil
}

// PutBytes writes src at the cursor, advancing across (and auto-appending
// to, bounded by maxBsize) segments as needed.
func (c *Chain) PutBytes(src []byte) error {
	if len(src) > 0 {
		if err := c.ensureSegment(); err != nil {
			return err
		}
	}
	for len(src) > 0 {
		cur := c.segs[c.cur]
		avail := cur.wrap() - c.pos
		if avail <= 0 {
			if c.advancePut() == nil {
				return ErrOutOfSpace
			}
			continue
		}
		if avail > len(src) {
			avail = len(src)
		}
		n := copy(cur.buf[c.pos:c.pos+avail], src)
		c.pos += n
		src = src[n:]
	}
	return nil
}

// GetPos returns the cursor's logical offset from the start of the
// chain: plength plus the byte offset within the current segment. It
// commits the tail-update hook first, so a write immediately followed by
// GetPos sees its own bytes counted.
func (c *Chain) GetPos() int64 {
	if len(c.segs) == 0 {
		return 0
	}
	c.tailUpdate()
	cur := c.segs[c.cur]
	return c.plength + int64(c.pos-cur.head)
}

// SetPos repositions the cursor to the given logical offset, walking
// segments from the chain's head and recomputing pcount/plength. The
// last segment is special-cased: with no successor, a position exactly
// at or within its writable capacity (not just its current tail) is
// allowed, so that a positional seek to end-of-chain can be followed by
// further writes.
func (c *Chain) SetPos(pos int64) error {
	if len(c.segs) == 0 {
		if pos != 0 {
			return ErrTruncated
		}
		c.cur, c.pos, c.pcount, c.plength = 0, 0, 0, 0
		return nil
	}
	c.tailUpdate()
	pcount, plength := c.pcount, c.plength
	c.pcount = 0
	c.plength = 0
	remaining := pos
	for i, seg := range c.segs {
		length := int64(seg.tail - seg.head)
		last := i == len(c.segs)-1
		full := int64(len(seg.buf) - seg.head)
		if remaining < length || (last && remaining <= full) {
			c.cur = i
			c.pos = seg.head + int(remaining)
			return nil
		}
		remaining -= length
		c.plength += length
		c.pcount++
	}
	c.pcount, c.plength = pcount, plength
	return ErrTruncated
}

// NewBuf unconditionally advances to the next segment, appending one if
// none exists. Used to align records to segment boundaries.
func (c *Chain) NewBuf() error {
	wasEmpty := len(c.segs) == 0
	if err := c.ensureSegment(); err != nil {
		return err
	}
	if wasEmpty {
		// ensureSegment just materialised the bufq chain's first segment,
		// which plays the role NewChain's initial allocation plays for a
		// non-bufq chain: nothing to advance past yet.
		return nil
	}
	if c.advancePut() == nil {
		return ErrOutOfSpace
	}
	return nil
}

// RemainingBytes returns the bytes left to read in the cursor's current
// segment only (tail - pos), without crossing a boundary.
func (c *Chain) RemainingBytes() int {
	if len(c.segs) == 0 {
		return 0
	}
	cur := c.segs[c.cur]
	return cur.tail - c.pos
}

// SkipCurrentSegment advances the cursor past the current segment,
// without auto-appending. Used by the RDMA variant's GetBytesRDMA.
func (c *Chain) SkipCurrentSegment() error {
	if len(c.segs) == 0 {
		return ErrTruncated
	}
	if c.advanceGet() == nil {
		return ErrTruncated
	}
	return nil
}

// CursorState is an opaque snapshot of a chain's cursor and traversal
// bookkeeping, saved and restored around an out-of-band read (the RDMA
// variant's GetBytesRDMA).
type CursorState struct {
	cur, pos int
	pcount   int
	plength  int64
}

// SaveCursor snapshots the chain's current cursor state.
func (c *Chain) SaveCursor() CursorState {
	return CursorState{c.cur, c.pos, c.pcount, c.plength}
}

// RestoreCursor restores a previously saved cursor state.
func (c *Chain) RestoreCursor(s CursorState) {
	c.cur, c.pos, c.pcount, c.plength = s.cur, s.pos, s.pcount, s.plength
}
