// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "sync"

// fetchWaiter is a parked caller's scratch record: it still wants `want`
// more segments and collects them in got as a producer deposits them.
// This is the two-queue realisation spec.md §9 calls out as a cleaner
// equivalent to the signed-qcount/sentinel-tagged single FIFO — see
// DESIGN.md.
type fetchWaiter struct {
	want int
	got  []*Segment
	cond *sync.Cond
}

// Poolq is a FIFO of reusable segments with a blocking fetch protocol.
// Producers recycling into an empty pool wake the oldest waiter; a
// waiter that asked for count segments wakes only once its count-th
// segment has been deposited, never earlier.
type Poolq struct {
	mu      sync.Mutex
	segs    []*Segment
	waiters []*fetchWaiter
}

// NewPoolq returns an empty pool.
func NewPoolq() *Poolq { return &Poolq{} }

// Fill pre-populates the pool with n freshly created BUFQ segments.
func (p *Poolq) Fill(n, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		seg := NewSegment(size, FlagBufq)
		seg.parentPool = p
		p.segs = append(p.segs, seg)
	}
}

// QCount reports the pool's signed count for invariant checks: positive
// means that many segments are queued, negative means |n| callers are
// parked waiting.
func (p *Poolq) QCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.segs) - len(p.waiters)
}

// Fetch blocks until count segments are available and returns them in
// the order they were queued or deposited. It never returns fewer than
// count segments; callers that should never block use FetchNothing
// instead of a Poolq-backed FetchFunc.
func (p *Poolq) Fetch(count int) []*Segment {
	if count <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	acquired := make([]*Segment, 0, count)
	for len(acquired) < count {
		if len(p.segs) > 0 {
			seg := p.segs[0]
			p.segs = p.segs[1:]
			acquired = append(acquired, seg)
			continue
		}
		w := &fetchWaiter{want: count - len(acquired)}
		w.cond = sync.NewCond(&p.mu)
		p.waiters = append(p.waiters, w)
		for len(w.got) < w.want {
			w.cond.Wait()
		}
		acquired = append(acquired, w.got...)
	}
	return acquired
}

// TryFetch acquires up to count segments without blocking, returning
// fewer than count (possibly zero) if the pool is short. Used by the
// RDMA variant, which grows the pool on demand instead of parking.
func (p *Poolq) TryFetch(count int) []*Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := count
	if n > len(p.segs) {
		n = len(p.segs)
	}
	got := append([]*Segment(nil), p.segs[:n]...)
	p.segs = p.segs[n:]
	return got
}

// recycle returns seg to the pool, waking the oldest waiter exactly once
// it has received every segment it asked for.
func (p *Poolq) recycle(seg *Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) == 0 {
		p.segs = append(p.segs, seg)
		return
	}
	w := p.waiters[0]
	w.got = append(w.got, seg)
	if len(w.got) >= w.want {
		p.waiters = p.waiters[1:]
		w.cond.Signal()
	}
}

// Recycle is the exported form of recycle, used by callers (e.g. the
// RDMA variant) that hold a segment not originally flagged BUFQ.
func (p *Poolq) Recycle(seg *Segment) { p.recycle(seg) }

// RemoveWhere removes and returns every queued segment matching pred,
// without touching parked waiters. Used by the RDMA LRU shrink to pull a
// chunk's segments out of a shared kind-wide pool.
func (p *Poolq) RemoveWhere(pred func(*Segment) bool) []*Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kept, removed []*Segment
	for _, s := range p.segs {
		if pred(s) {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}
	p.segs = kept
	return removed
}

// TryRemoveWhere behaves like RemoveWhere, but acquires the pool's mutex
// non-blockingly: if another goroutine already holds it, it returns
// ok=false immediately rather than waiting. This is the try-lock-and-skip
// discipline spec §9's "RDMA shrink race" note calls for: a busy pool is
// skipped without retry, never blocked on, so the LRU scan can never
// invert lock order against a caller already holding this mutex in Fetch.
func (p *Poolq) TryRemoveWhere(pred func(*Segment) bool) (removed []*Segment, ok bool) {
	if !p.mu.TryLock() {
		return nil, false
	}
	defer p.mu.Unlock()
	var kept []*Segment
	for _, s := range p.segs {
		if pred(s) {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}
	p.segs = kept
	return removed, true
}

// Seed adds pre-built segments directly onto the pool's FIFO without
// allocating new ones. Used by callers (the rdma package) whose segments
// route release through their own callback instead of FlagBufq, and
// therefore cannot be produced by Fill.
func (p *Poolq) Seed(segs ...*Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segs = append(p.segs, segs...)
}

// FetchFunc obtains count additional segments for a chain when its
// current segment is exhausted. A nil FetchFunc means the chain
// allocates its own segments instead of fetching from a pool.
type FetchFunc func(count int) []*Segment

// PoolFetch adapts a Poolq into a blocking FetchFunc.
func PoolFetch(p *Poolq) FetchFunc {
	return func(count int) []*Segment { return p.Fetch(count) }
}

// FetchNothing always returns nil; it is a stub used by chains that
// should never grow (fetch_nothing in the original API).
func FetchNothing(count int) []*Segment { return nil }
