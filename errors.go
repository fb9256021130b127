// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq

import "errors"

// Sentinel errors for the engine's recoverable conditions, in the same
// shape as code.hybscloud.com/iox's ErrWouldBlock: compare with
// errors.Is, never a bespoke numeric code. A segment released with no
// release policy is a programmer error and panics instead of returning
// one of these.
var (
	// ErrOutOfSpace is returned by put_* operations that hit max_bsize.
	ErrOutOfSpace = errors.New("ioq: out of space")
	// ErrTruncated is returned by get_* operations that ran past the end
	// of the chain.
	ErrTruncated = errors.New("ioq: truncated")
	// ErrAlignmentViolation is returned by get_unit when a segment
	// boundary falls mid-unit; the stream is unusable after this.
	ErrAlignmentViolation = errors.New("ioq: alignment violation")
	// ErrLayoutError is returned by alloc_hdrs given a malformed vector,
	// and by Chain.Reset given an out-of-range wh_pos.
	ErrLayoutError = errors.New("ioq: layout error")
	// ErrPoolExhausted is returned when an RDMA pool's grow routine fails.
	ErrPoolExhausted = errors.New("ioq: pool exhausted")
)
