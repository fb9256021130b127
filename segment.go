// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "sync/atomic"

// SegmentFlag selects a segment's release policy. Exactly one of
// FlagFree, FlagRefer or FlagBufq should be set on a segment that has no
// release callback; they are mutually distinguishing, not orthogonal.
type SegmentFlag uint32

const (
	FlagNone SegmentFlag = 0
	// FlagFree means the segment owns its backing storage outright; release
	// drops the storage and the segment record.
	FlagFree SegmentFlag = 1 << iota
	// FlagRefer means the segment borrows from the segment given to
	// ReferTo; release forwards to that segment and discards only this
	// record.
	FlagRefer
	// FlagBufq means the segment belongs to a Poolq; release recycles it.
	FlagBufq
	// FlagRealloc mirrors the legacy UIO_FLAG_REALLOC flag. Nothing in this
	// package reads it, and segments are never grown in place.
	FlagRealloc
)

// Segment is a fixed-capacity byte region with a used range [head, tail)
// inside the backing array buf. base is implicitly 0 and wrap is
// len(buf): a Go slice already carries its own base and capacity, so the
// four raw pointers of the original design collapse to two indices.
type Segment struct {
	buf        []byte
	head, tail int

	flags      SegmentFlag
	references atomic.Int32

	releaseFn    func(*Segment)
	borrowedFrom *Segment
	parentPool   *Poolq

	// Meta is an opaque back-reference used by variant layers (the RDMA
	// package stashes a *rdma.Chunk here) without the base package
	// importing them.
	Meta any
}

// NewSegment allocates a segment with size bytes of backing storage and
// the given release flags. references starts at one.
func NewSegment(size int, flags SegmentFlag) *Segment {
	s := &Segment{buf: make([]byte, size), flags: flags}
	s.references.Store(1)
	return s
}

// NewSegmentFromBuf wraps an existing byte slice as a segment's backing
// storage without copying. Used by callers (the rdma package) that carve
// several segments out of one larger registered-memory allocation instead
// of giving each segment its own make([]byte, ...).
func NewSegmentFromBuf(buf []byte, flags SegmentFlag) *Segment {
	s := &Segment{buf: buf, flags: flags}
	s.references.Store(1)
	return s
}

// wrap is the exclusive upper bound of the segment's backing storage.
func (s *Segment) wrap() int { return len(s.buf) }

// Cap returns the size of the segment's backing storage (wrap-base).
func (s *Segment) Cap() int { return len(s.buf) }

// Length returns the current used length tail-head.
func (s *Segment) Length() int { return s.tail - s.head }

// Free returns the writable suffix wrap-tail.
func (s *Segment) Free() int { return len(s.buf) - s.tail }

// ResetForRecycle restores a segment to its pristine empty range and
// resets its reference count to one. This is the same bookkeeping the
// FlagBufq branch of Release performs before handing a segment back to
// parentPool; callers that install their own release callback (the rdma
// package's chunk-accounting recycle) and therefore bypass that branch
// call this explicitly before requeueing the segment themselves.
func (s *Segment) ResetForRecycle() {
	s.references.Store(1)
	s.head, s.tail = 0, 0
}

// RestorePristineFlags resets a segment's release-policy flags to f and
// discards any borrowed-from aliasing a temporary ReferTo left behind.
// The RDMA variant calls this before recycling a segment that may have
// been aliased via REFER, so the next user sees the segment's original,
// pristine flags rather than whatever a prior borrower's ReferTo call
// last set them to (spec §4.6's RDMA pre-dispatch step: "restore flags
// and bounds to their saved pristine values").
func (s *Segment) RestorePristineFlags(f SegmentFlag) {
	s.flags = f
	s.borrowedFrom = nil
}

// Ref increments the reference count, returning the new value. Used when
// handing out a borrowed (REFER) alias.
func (s *Segment) Ref() int32 { return s.references.Add(1) }

// SetReleaseFunc installs a callback invoked at zero-refs, taking
// precedence over all flag-directed release paths.
func (s *Segment) SetReleaseFunc(fn func(*Segment)) { s.releaseFn = fn }

// ReferTo marks s as a borrowed alias of other: release on s forwards to
// other instead of freeing s's own storage.
func (s *Segment) ReferTo(other *Segment) {
	s.flags = FlagRefer
	s.borrowedFrom = other
}

// Release atomically decrements the reference count; at zero it
// dispatches by policy in precedence order: release callback, REFER,
// FREE, BUFQ, else a programmer error (segment has no release policy).
func (s *Segment) Release() {
	if s.references.Add(-1) != 0 {
		return
	}
	switch {
	case s.releaseFn != nil:
		s.releaseFn(s)
	case s.flags&FlagRefer != 0:
		s.borrowedFrom.Release()
	case s.flags&FlagFree != 0:
		s.buf = nil
	case s.flags&FlagBufq != 0:
		s.references.Store(1)
		s.head, s.tail = 0, 0
		s.parentPool.recycle(s)
	default:
		panic("ioq: segment released with no release policy (memory leak)")
	}
}
