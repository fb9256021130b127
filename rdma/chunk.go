// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rdma implements the RDMA variant of the ioq engine (spec §4.6):
// instead of a chain blocking on an empty pool, an exhausted pool grows
// on demand by registering another memory chunk, and idle on-demand
// chunks are shrunk back after a 60-second quiet period.
package rdma

import (
	"sync/atomic"

	"code.hybscloud.com/ioq"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PoolKind identifies one of the five registered-memory pools a
// Transport partitions its chunks into: inbound/outbound header buffers,
// inbound/outbound data buffers, and control-block buffers. These
// correspond to inbufs_hdr, inbufs_data, outbufs_hdr, outbufs_data and
// cbqh in the original transport (spec §4.6).
type PoolKind int

const (
	InboundHeader PoolKind = iota
	InboundData
	OutboundHeader
	OutboundData
	ControlBlock

	numPoolKinds = int(ControlBlock) + 1
)

func (k PoolKind) String() string {
	switch k {
	case InboundHeader:
		return "inbuf-hdr"
	case InboundData:
		return "inbuf-data"
	case OutboundHeader:
		return "outbuf-hdr"
	case OutboundData:
		return "outbuf-data"
	case ControlBlock:
		return "control-block"
	default:
		return "unknown"
	}
}

// shrinkable reports whether chunks of this kind are ever LRU-shrunk:
// only on-demand data chunks are ("We shrink only data bufs which are
// allocated on demand", spec §4.6) — header chunks and the
// control-block pool are never candidates.
func (k PoolKind) shrinkable() bool {
	return k == InboundData || k == OutboundData
}

// Chunk is a registered-memory region partitioned into equal-size
// segments. It is backed by a real mmap'd, page-aligned allocation
// (rather than a plain Go slice) so that "registered memory" and
// "deregister the memory region" in spec §4.6 correspond to an actual
// syscall pair, the closest the Go ecosystem gets to RDMA memory
// registration without an RDMA verbs binding.
type Chunk struct {
	Kind PoolKind

	mem []byte

	// initial marks a transport's first chunk of a kind, which the LRU
	// shrink never considers (spec §4.6: "not the initial chunk").
	initial bool

	ready atomic.Bool
	refs  atomic.Int32

	segs []*ioq.Segment
}

// NewChunk mmaps size bytes of anonymous, page-aligned memory, slices it
// into segSize-byte segments, and returns the chunk plus those segments
// ready for Transport.AddChunk. initial should be true only for a
// Transport's first chunk of this kind.
func NewChunk(kind PoolKind, size, segSize int, initial bool) (*Chunk, error) {
	if segSize <= 0 || size <= 0 || size%segSize != 0 {
		return nil, errors.Errorf("rdma: chunk size %d not a multiple of segment size %d", size, segSize)
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "rdma: mmap chunk")
	}
	c := &Chunk{Kind: kind, mem: mem, initial: initial}
	c.ready.Store(true)

	n := size / segSize
	c.segs = make([]*ioq.Segment, 0, n)
	for i := 0; i < n; i++ {
		seg := ioq.NewSegmentFromBuf(mem[i*segSize:(i+1)*segSize], ioq.FlagNone)
		seg.Meta = c
		c.segs = append(c.segs, seg)
	}
	return c, nil
}

// Refs returns the chunk's current reference count: the number of its
// segments presently checked out of the shared pool.
func (c *Chunk) Refs() int32 { return c.refs.Load() }

// freeable reports whether this chunk is an LRU shrink candidate right
// now: not the initial chunk of its kind, a shrinkable (data) kind,
// holding no outstanding references, and not already destroyed.
func (c *Chunk) freeable() bool {
	return !c.initial && c.Kind.shrinkable() && c.refs.Load() == 0 && c.ready.Load()
}

// destroy deregisters the chunk's memory region (munmap) and marks it
// dead. Called only after every one of its segments has been pulled out
// of the shared pool under the transport's chunk-list lock, matching
// xdr_rdma_buf_pool_destroy_locked's "free backing storage" step.
func (c *Chunk) destroy() error {
	c.ready.Store(false)
	if err := unix.Munmap(c.mem); err != nil {
		return errors.Wrap(err, "rdma: munmap chunk")
	}
	c.mem = nil
	return nil
}
