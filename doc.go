// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ioq implements a segmented I/O queue engine backing an RPC
// stack's XDR encode/decode pipeline: a logical byte stream made of a
// chain of fixed-capacity Segment buffers, a Poolq for blocking
// producer/consumer hand-off of segments between chains, and the
// cursor-based stream operations (GetUnit/PutUnit/GetBytes/PutBytes/
// GetPos/SetPos/NewBuf/IovCount/FillBufs/AllocHdrs) that let XDR
// primitives operate as if on a contiguous stream.
//
// # Segments and chains
//
// A Segment is a fixed-capacity byte region with a used range
// [head, tail) inside its backing array; release is dispatched by
// policy (callback, REFER, FREE or BUFQ) per Segment.Release. A Chain
// strings segments together behind one cursor, growing by allocation or
// by a caller-supplied FetchFunc (typically Poolq-backed) when the
// current segment is exhausted.
//
//	c := ioq.NewChain(4096, 65536, ioq.FlagFree)
//	defer c.Destroy()
//	_ = c.PutUnit(0xDEADBEEF)
//	_ = c.SetPos(0)
//	v, err := c.GetUnit()
//
// # Pool queue
//
// Poolq is a FIFO of reusable segments with a blocking fetch protocol:
// a waiter asking for count segments is woken exactly once, when the
// count-th segment is deposited, never earlier. This is the two-queue
// realisation of the engine's signed-count pool design (see DESIGN.md).
//
//	p := ioq.NewPoolq()
//	p.Fill(16, 4096)
//	segs := p.Fetch(4) // blocks until 4 segments are available
//
// # Vectored layout
//
// IovCount, FillBufs and AllocHdrs lay out header/data/trailer regions
// of a chain as vectors of segment descriptors (Vio); VecToIoVec
// converts those into IoVec, the scatter/gather descriptor used for a
// single readv/writev/io_uring call in place of one syscall per
// segment.
//
// # RDMA variant
//
// The rdma subpackage implements the fetch-grows-instead-of-blocks,
// chunk-refcounted, LRU-shrinking variant of this engine described in
// the core documentation; the netconfig subpackage is this engine's
// external collaborator for reading the system network configuration
// database.
//
// # Dependencies
//
// ioq itself depends only on the standard library. The subpackages add:
//   - github.com/pkg/errors (rdma and netconfig): stack-trace-carrying
//     wraps at package boundaries (RDMA pool exhaustion, chunk
//     registration and grow failures, netconfig I/O)
//   - golang.org/x/sys/unix (rdma): mmap/munmap for registered memory
//
// See their own package documentation.
package ioq
