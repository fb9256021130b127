// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioq_test

import (
	"bytes"
	"testing"
	"unsafe"

	"code.hybscloud.com/ioq"
)

// vioBytes reconstructs the bytes a Vio slice describes, the same way a
// caller doing real vectored I/O would read out of the IoVecs VecToIoVec
// produces.
func vioBytes(vec []ioq.Vio) []byte {
	var out []byte
	for _, iov := range ioq.VecToIoVec(vec) {
		ptr := unsafe.Pointer(iov.Base)
		out = append(out, unsafe.Slice((*byte)(ptr), iov.Len)...)
	}
	return out
}

func TestVector_IovCount(t *testing.T) {
	c := ioq.NewChain(4, 64, ioq.FlagFree)
	defer c.Destroy()

	// minBsize=4 forces "ABCDEFGH" across two 4-byte segments.
	if err := c.PutBytes([]byte("ABCDEFGH")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	if n := c.IovCount(0, 8); n != 2 {
		t.Fatalf("IovCount(0, 8) = %d, want 2", n)
	}
	if n := c.IovCount(2, 4); n != 2 {
		t.Fatalf("IovCount(2, 4) = %d, want 2 (spans the tail of segment 0 and the head of segment 1)", n)
	}
	if n := c.IovCount(0, 4); n != 1 {
		t.Fatalf("IovCount(0, 4) = %d, want 1 (wholly inside segment 0)", n)
	}
}

// TestVector_IovCountPastEndOfChain exercises spec §4.4's "returns -1 if
// the region runs past end-of-chain".
func TestVector_IovCountPastEndOfChain(t *testing.T) {
	c := ioq.NewChain(4, 64, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("ABCDEFGH")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if n := c.IovCount(0, 9); n != -1 {
		t.Fatalf("IovCount(0, 9) on an 8-byte chain = %d, want -1", n)
	}
}

func TestVector_FillBufs(t *testing.T) {
	c := ioq.NewChain(4, 64, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("ABCDEFGH")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	vio, err := c.FillBufs(2, 4)
	if err != nil {
		t.Fatalf("FillBufs(2, 4): %v", err)
	}
	if len(vio) != 2 {
		t.Fatalf("len(vio) = %d, want 2", len(vio))
	}

	got := vioBytes(vio)
	if want := []byte("CDEF"); !bytes.Equal(got, want) {
		t.Fatalf("bytes described by FillBufs = %q, want %q", got, want)
	}
	// The first entry's Head is advanced by the residual start (2 bytes
	// into segment 0); the last entry's Tail is truncated to exactly
	// consume datalen.
	if vio[0].Length != 2 {
		t.Fatalf("vio[0].Length = %d, want 2 (residual bytes of segment 0)", vio[0].Length)
	}
	if vio[1].Length != 2 {
		t.Fatalf("vio[1].Length = %d, want 2 (datalen truncated into segment 1)", vio[1].Length)
	}
}

// TestVector_FillBufsTruncated exercises fill_bufs's failure mode: not
// enough data between start and end-of-chain.
func TestVector_FillBufsTruncated(t *testing.T) {
	c := ioq.NewChain(8, 8, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("abcd")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if _, err := c.FillBufs(0, 5); err != ioq.ErrTruncated {
		t.Fatalf("FillBufs(0, 5) on a 4-byte chain: got %v, want ErrTruncated", err)
	}
}

// TestVector_AllocHdrsInsertsNewHeaderSegment is spec §8 scenario 5: a
// chain with one full 100-byte DATA segment (free suffix 0) gets a new
// HEADER segment inserted before it, rather than reusing any suffix.
func TestVector_AllocHdrsInsertsNewHeaderSegment(t *testing.T) {
	c := ioq.NewChain(100, 300, ioq.FlagFree)
	defer c.Destroy()

	payload := bytes.Repeat([]byte{0xAB}, 100)
	if err := c.PutBytes(payload); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	before, err := c.FillBufs(0, 100)
	if err != nil {
		t.Fatalf("FillBufs before AllocHdrs: %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("len(before) = %d, want 1 (single 100-byte data segment)", len(before))
	}
	dataSeg := before[0].Seg

	vec := []ioq.VecEntry{
		{Type: ioq.VioHeader, Length: 8},
		{Type: ioq.VioData, Length: 100},
	}
	if err := c.AllocHdrs(0, vec); err != nil {
		t.Fatalf("AllocHdrs: %v", err)
	}

	if vec[0].Vio.Length != 8 {
		t.Fatalf("header Vio.Length = %d, want 8", vec[0].Vio.Length)
	}
	if vec[0].Vio.Seg == dataSeg {
		t.Fatal("header reused the data segment's suffix instead of a new segment (its free suffix was 0)")
	}

	// AllocHdrs finishes by seeking the cursor to the total logical
	// length, past the DATA bytes (spec scenario 5: setpos(108)).
	if pos := c.GetPos(); pos != 108 {
		t.Fatalf("GetPos after AllocHdrs = %d, want 108", pos)
	}

	if err := c.SetPos(0); err != nil {
		t.Fatalf("SetPos(0): %v", err)
	}
	hdr := make([]byte, 8)
	if err := c.GetBytes(hdr); err != nil {
		t.Fatalf("GetBytes header: %v", err)
	}
	data := make([]byte, 100)
	if err := c.GetBytes(data); err != nil {
		t.Fatalf("GetBytes data: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("data bytes following the inserted header segment do not match the original payload")
	}
}

// TestVector_AllocHdrsHeaderMidSegmentIsLayoutError exercises the HEADER
// failure mode: a HEADER entry must coincide exactly with start==0.
func TestVector_AllocHdrsHeaderMidSegmentIsLayoutError(t *testing.T) {
	c := ioq.NewChain(16, 64, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("0123456789")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	vec := []ioq.VecEntry{{Type: ioq.VioHeader, Length: 4}}
	if err := c.AllocHdrs(5, vec); err != ioq.ErrLayoutError {
		t.Fatalf("AllocHdrs HEADER at start=5 (mid-segment): got %v, want ErrLayoutError", err)
	}
}

// TestVector_AllocHdrsTrailerLenWithoutTrailerIsLayoutError exercises
// the TRAILER_LEN failure mode: it must be immediately followed by a
// TRAILER entry.
func TestVector_AllocHdrsTrailerLenWithoutTrailerIsLayoutError(t *testing.T) {
	c := ioq.NewChain(16, 64, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("0123456789")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	vec := []ioq.VecEntry{
		{Type: ioq.VioData, Length: 10},
		{Type: ioq.VioTrailerLen, Length: 4},
	}
	if err := c.AllocHdrs(0, vec); err != ioq.ErrLayoutError {
		t.Fatalf("AllocHdrs TRAILER_LEN with no following TRAILER: got %v, want ErrLayoutError", err)
	}
}

// TestVector_AllocHdrsUnknownTrailingTypeIsLayoutError exercises the
// "unknown type in tail position" failure mode.
func TestVector_AllocHdrsUnknownTrailingTypeIsLayoutError(t *testing.T) {
	c := ioq.NewChain(16, 64, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("0123456789")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	vec := []ioq.VecEntry{
		{Type: ioq.VioData, Length: 10},
		{Type: ioq.VioHeader, Length: 4}, // HEADER is never valid in tail position
	}
	if err := c.AllocHdrs(0, vec); err != ioq.ErrLayoutError {
		t.Fatalf("AllocHdrs with HEADER in trailing position: got %v, want ErrLayoutError", err)
	}
}

// TestVector_AllocHdrsWritesTrailerLenBigEndian checks that a
// TRAILER_LEN entry's reserved bytes hold the big-endian length of the
// TRAILER entry that immediately follows it.
func TestVector_AllocHdrsWritesTrailerLenBigEndian(t *testing.T) {
	c := ioq.NewChain(32, 128, ioq.FlagFree)
	defer c.Destroy()
	if err := c.PutBytes([]byte("0123456789")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	vec := []ioq.VecEntry{
		{Type: ioq.VioData, Length: 10},
		{Type: ioq.VioTrailerLen, Length: 4},
		{Type: ioq.VioTrailer, Length: 6},
	}
	if err := c.AllocHdrs(0, vec); err != nil {
		t.Fatalf("AllocHdrs: %v", err)
	}

	if err := c.SetPos(10); err != nil {
		t.Fatalf("SetPos(10): %v", err)
	}
	lenBytes := make([]byte, 4)
	if err := c.GetBytes(lenBytes); err != nil {
		t.Fatalf("GetBytes trailer length: %v", err)
	}
	if want := []byte{0, 0, 0, 6}; !bytes.Equal(lenBytes, want) {
		t.Fatalf("trailer-length bytes = % x, want % x (big-endian 6)", lenBytes, want)
	}

	if pos := c.GetPos(); pos != 14 {
		t.Fatalf("GetPos after reading trailer length = %d, want 14", pos)
	}
}

func TestVecToIoVec_AllocHdrsLayout(t *testing.T) {
	c := ioq.NewChain(100, 300, ioq.FlagFree)
	defer c.Destroy()

	payload := bytes.Repeat([]byte{0x7E}, 100)
	if err := c.PutBytes(payload); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	vec := []ioq.VecEntry{
		{Type: ioq.VioHeader, Length: 8},
		{Type: ioq.VioData, Length: 100},
	}
	if err := c.AllocHdrs(0, vec); err != nil {
		t.Fatalf("AllocHdrs: %v", err)
	}

	iov := ioq.VecToIoVec([]ioq.Vio{vec[0].Vio})
	if len(iov) != 1 || iov[0].Len != 8 {
		t.Fatalf("VecToIoVec(header) = %+v, want one entry of length 8", iov)
	}
}
