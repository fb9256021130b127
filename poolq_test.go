// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/ioq"
)

func TestPoolq_FetchFromFilledPool(t *testing.T) {
	p := ioq.NewPoolq()
	p.Fill(3, 16)
	if p.QCount() != 3 {
		t.Fatalf("QCount = %d, want 3", p.QCount())
	}
	got := p.Fetch(2)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if p.QCount() != 1 {
		t.Fatalf("QCount after fetch = %d, want 1", p.QCount())
	}
}

func TestPoolq_TryFetchPartial(t *testing.T) {
	p := ioq.NewPoolq()
	p.Fill(1, 16)
	got := p.TryFetch(3)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if more := p.TryFetch(1); len(more) != 0 {
		t.Fatalf("expected empty pool, got %d", len(more))
	}
}

// TestPoolq_FetchWakeOrdering mirrors spec.md scenario 3: worker A wants
// 2 segments, worker B (started later) wants 1; a producer recycles s1,
// s2, s3 in order. A must wake only after s2 lands, B only after s3.
func TestPoolq_FetchWakeOrdering(t *testing.T) {
	p := ioq.NewPoolq()

	var wg sync.WaitGroup
	aDone := make(chan []*ioq.Segment, 1)
	bDone := make(chan []*ioq.Segment, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		aDone <- p.Fetch(2)
	}()
	time.Sleep(20 * time.Millisecond) // ensure A parks first

	wg.Add(1)
	go func() {
		defer wg.Done()
		bDone <- p.Fetch(1)
	}()
	time.Sleep(20 * time.Millisecond) // ensure B parks second

	if p.QCount() != -2 {
		t.Fatalf("QCount with two parked waiters = %d, want -2", p.QCount())
	}

	s1 := ioq.NewSegment(8, ioq.FlagFree)
	s2 := ioq.NewSegment(8, ioq.FlagFree)
	s3 := ioq.NewSegment(8, ioq.FlagFree)

	p.Recycle(s1)
	select {
	case <-aDone:
		t.Fatal("A woke after only one deposit, want after two")
	case <-time.After(20 * time.Millisecond):
	}

	p.Recycle(s2)
	var aSegs []*ioq.Segment
	select {
	case aSegs = <-aDone:
	case <-time.After(time.Second):
		t.Fatal("A did not wake after its second deposit")
	}
	if len(aSegs) != 2 || aSegs[0] != s1 || aSegs[1] != s2 {
		t.Fatalf("A got unexpected segments: %v", aSegs)
	}

	p.Recycle(s3)
	var bSegs []*ioq.Segment
	select {
	case bSegs = <-bDone:
	case <-time.After(time.Second):
		t.Fatal("B did not wake after its deposit")
	}
	if len(bSegs) != 1 || bSegs[0] != s3 {
		t.Fatalf("B got unexpected segments: %v", bSegs)
	}

	if p.QCount() != 0 {
		t.Fatalf("QCount after both waiters served = %d, want 0", p.QCount())
	}
	wg.Wait()
}

func TestPoolq_RemoveWhere(t *testing.T) {
	p := ioq.NewPoolq()
	p.Fill(4, 8)
	removed := p.RemoveWhere(func(s *ioq.Segment) bool { return s.Length() == 0 })
	if len(removed) != 4 {
		t.Fatalf("removed = %d, want 4", len(removed))
	}
	if p.QCount() != 0 {
		t.Fatalf("QCount after RemoveWhere-all = %d, want 0", p.QCount())
	}
}
