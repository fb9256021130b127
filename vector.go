// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "encoding/binary"

// VioType classifies an entry in a vectorised layout: the header/data/
// trailer sequence alloc_hdrs lays out and fill_bufs/iov_count populate.
type VioType int

const (
	VioData VioType = iota
	VioHeader
	VioTrailerLen
	VioTrailer
)

// Vio describes one segment's contribution to a vectorised byte range:
// the segment itself plus the [Head, Tail) slice of it that belongs to
// the range, and which kind of bytes they are.
type Vio struct {
	Seg        *Segment
	Head, Tail int
	Length     int
	Type       VioType
}

// VecEntry is one entry of a caller-supplied alloc_hdrs layout vector:
// Type and Length are set by the caller; AllocHdrs fills in Vio for
// HEADER, TRAILER_LEN and TRAILER entries and leaves DATA entries' Vio
// unset.
type VecEntry struct {
	Type   VioType
	Length int
	Vio    Vio
}

// VecToIoVec converts a filled Vio slice (as returned by FillBufs, or the
// Vio fields of a VecEntry slice after AllocHdrs) into the teacher's
// IoVec type for real vectored I/O (readv/writev, io_uring).
func VecToIoVec(vec []Vio) []IoVec {
	if len(vec) == 0 {
		return nil
	}
	out := make([]IoVec, len(vec))
	for i, v := range vec {
		out[i] = IoVec{Base: &v.Seg.buf[v.Head], Len: uint64(v.Tail - v.Head)}
	}
	return out
}

// IovCount computes how many segments a logical byte range of length
// datalen beginning at logical offset start spans. It returns -1 if the
// range runs past the end of the chain.
func (c *Chain) IovCount(start, datalen int64) int {
	c.tailUpdate()
	buffers := -1
	for _, seg := range c.segs {
		length := int64(seg.tail - seg.head)
		switch {
		case buffers > 0:
			buffers++
		case start < length:
			buffers = 1
		default:
			start -= length
		}
		if buffers > 0 {
			buflen := length - start
			if buflen >= datalen {
				datalen = 0
				break
			}
			datalen -= buflen
			start = 0
		}
	}
	if datalen != 0 {
		return -1
	}
	return buffers
}

// FillBufs populates a vector of segment descriptors for the logical
// byte range [start, start+datalen). The first entry's Head is advanced
// by any residual start; the last entry's Length and Tail are truncated
// to exactly consume datalen. It fails if the chain holds fewer than
// datalen bytes from start onward.
func (c *Chain) FillBufs(start, datalen int64) ([]Vio, error) {
	c.tailUpdate()
	var vec []Vio
	found := false
	for _, seg := range c.segs {
		length := int64(seg.tail - seg.head)
		if !found {
			if start < length {
				found = true
			} else {
				start -= length
				continue
			}
		}
		v := Vio{Seg: seg, Head: seg.head, Tail: seg.tail, Type: VioData}
		segLen := length
		if start > 0 {
			segLen -= start
			v.Head += int(start)
			start = 0
		}
		v.Length = int(segLen)
		if datalen <= int64(v.Length) {
			v.Length = int(datalen)
			v.Tail = v.Head + v.Length
			datalen = 0
			vec = append(vec, v)
			break
		}
		datalen -= int64(v.Length)
		vec = append(vec, v)
	}
	if datalen != 0 {
		return nil, ErrTruncated
	}
	return vec, nil
}

// locateBeforeStart walks segments from the chain head looking for the
// logical offset start. It reports:
//   - precedingIdx: the index of the segment immediately before start, or
//     -1 if start lands inside the very first segment (no predecessor);
//   - dataIdx: the index of the first segment at or after start;
//   - mid: the residual offset within segs[dataIdx] when precedingIdx==-1
//     (zero when start landed exactly on a segment boundary).
func (c *Chain) locateBeforeStart(start int64) (precedingIdx, dataIdx int, mid int64, ok bool) {
	st := start
	for i, seg := range c.segs {
		length := int64(seg.tail - seg.head)
		if st < length {
			return -1, i, st, true
		}
		st -= length
		if st == 0 {
			return i, i + 1, 0, true
		}
	}
	return -1, -1, 0, false
}

// insertSegmentAt inserts seg into segs at index at, shifting the rest
// right by one.
func insertSegmentAt(segs []*Segment, at int, seg *Segment) []*Segment {
	segs = append(segs, nil)
	copy(segs[at+1:], segs[at:len(segs)-1])
	segs[at] = seg
	return segs
}

// useOrAllocate reserves entry.Length bytes for entry, either in the free
// suffix of the segment at segIdx or in a newly obtained segment inserted
// immediately after it, and fills entry.Vio. For a TRAILER_LEN entry it
// also writes the big-endian length of the following TRAILER entry into
// the reserved bytes. It returns the (possibly advanced) segment index.
func (c *Chain) useOrAllocate(segIdx int, entry *VecEntry, vec []VecEntry, vidx int) (int, error) {
	seg := c.segs[segIdx]
	if seg.Free() >= entry.Length {
		entry.Vio = Vio{Seg: seg, Head: seg.tail, Tail: seg.tail + entry.Length, Length: entry.Length, Type: entry.Type}
		seg.tail = entry.Vio.Tail
	} else {
		newSeg := c.obtainSegment()
		if newSeg == nil {
			return segIdx, ErrOutOfSpace
		}
		c.segs = insertSegmentAt(c.segs, segIdx+1, newSeg)
		segIdx++
		entry.Vio = Vio{Seg: newSeg, Head: newSeg.head, Tail: newSeg.head + entry.Length, Length: entry.Length, Type: entry.Type}
		newSeg.tail = entry.Vio.Tail
	}
	if entry.Type == VioTrailerLen {
		binary.BigEndian.PutUint32(entry.Vio.Seg.buf[entry.Vio.Head:entry.Vio.Head+4], uint32(vec[vidx+1].Length))
	}
	return segIdx, nil
}

// AllocHdrs lays out a HEADER? DATA+ (TRAILER_LEN? TRAILER)* vector
// against the chain starting at logical offset start, reserving space
// for HEADER and trailer entries (in a segment's free suffix or in a
// newly inserted segment) and skipping DATA entries, which stand for data
// already in the chain and are not filled in. It finishes by seeking the cursor to
// the total logical length with SetPos.
func (c *Chain) AllocHdrs(start int64, vec []VecEntry) error {
	if len(vec) == 0 {
		return ErrLayoutError
	}
	c.tailUpdate()
	precedingIdx, dataIdx, mid, ok := c.locateBeforeStart(start)
	if !ok {
		return ErrLayoutError
	}

	totlen := start
	vidx := 0

	if vec[0].Type == VioHeader {
		if mid != 0 {
			return ErrLayoutError
		}
		if precedingIdx >= 0 {
			newIdx, err := c.useOrAllocate(precedingIdx, &vec[0], vec, 0)
			if err != nil {
				return err
			}
			dataIdx = newIdx + 1
		} else {
			newSeg := c.obtainSegment()
			if newSeg == nil {
				return ErrOutOfSpace
			}
			c.segs = insertSegmentAt(c.segs, dataIdx, newSeg)
			vec[0].Vio = Vio{Seg: newSeg, Head: newSeg.head, Tail: newSeg.head + vec[0].Length, Length: vec[0].Length, Type: VioHeader}
			newSeg.tail = vec[0].Vio.Tail
			dataIdx++
		}
		totlen += int64(vec[0].Length)
		vidx++
	}

	segIdx := dataIdx
	for vidx < len(vec) && vec[vidx].Type == VioData {
		totlen += int64(vec[vidx].Length)
		if segIdx+1 < len(c.segs) {
			segIdx++
		}
		vidx++
	}

	for vidx < len(vec) {
		vt := vec[vidx].Type
		if vt != VioTrailer && vt != VioTrailerLen {
			return ErrLayoutError
		}
		if vt == VioTrailerLen && (vidx+1 == len(vec) || vec[vidx+1].Type != VioTrailer) {
			return ErrLayoutError
		}
		newIdx, err := c.useOrAllocate(segIdx, &vec[vidx], vec, vidx)
		if err != nil {
			return err
		}
		segIdx = newIdx
		totlen += int64(vec[vidx].Length)
		vidx++
	}

	// Segment insertion above shifted indices out from under the cursor's
	// (cur, pos) pair; pin it to a harmless, always-valid position (a
	// segment's head never exceeds its own tail) before SetPos's internal
	// tailUpdate runs, so it commits nothing spurious, then let SetPos
	// recompute cur/pos/pcount/plength properly from the new layout.
	c.cur, c.pos = 0, c.segs[0].head
	return c.SetPos(totlen)
}
