// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netconfig reads the system network configuration database
// (spec §6): a line-oriented text file of 7-field records describing the
// transports an RPC stack may bind to. It is a thin, sequential-parsing
// collaborator to the ioq engine, not part of the engine's core.
package netconfig

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Semantics is a netconfig record's transport-service type.
type Semantics int

const (
	TpiClts Semantics = iota
	TpiCots
	TpiCotsOrd
	TpiRaw
)

func (s Semantics) String() string {
	switch s {
	case TpiClts:
		return "tpi_clts"
	case TpiCots:
		return "tpi_cots"
	case TpiCotsOrd:
		return "tpi_cots_ord"
	case TpiRaw:
		return "tpi_raw"
	default:
		return "unknown"
	}
}

// Flag is a bitmask of a netconfig record's flag characters.
type Flag uint8

const (
	NoFlag Flag = 0
	// Visible corresponds to the 'v' flag character.
	Visible Flag = 1 << iota
	// Broadcast corresponds to the 'b' flag character.
	Broadcast
)

// Record is one parsed netconfig entry: netid, semantics, flags,
// protocol family/name, device path, and an optional list of
// name-to-address lookup library paths.
type Record struct {
	NetID       string
	Semantics   Semantics
	Flag        Flag
	ProtoFamily string
	Proto       string
	Device      string
	Lookups     []string
}

// clone returns a deep copy of r, so that callers of Session.Next and
// Lookup can never mutate the process-wide cache through the record they
// were handed (spec §9's "Memory arithmetic quirks" note on dup_ncp: the
// Go port has no analogous sizing bug, since slices carry their own
// length, but the clone-on-return behavior itself is preserved).
func (r *Record) clone() *Record {
	c := *r
	c.Lookups = append([]string(nil), r.Lookups...)
	return &c
}

// Code is a netconfig error's stable integer identity.
type Code int

const (
	CodeDatabaseMissing Code = iota
	CodeOutOfMemory
	CodeNotInitialised
	CodeBadFormat
	CodeNotFound
)

var codeMessages = [...]string{
	"Netconfig database not found",
	"Not enough memory",
	"Not initialized",
	"Netconfig database has invalid format",
	"Netid not found in netconfig database",
}

// Error is a netconfig failure: a stable Code plus its canonical message
// (spec §6's 5-error taxonomy; nc_sperror in the original).
type Error struct {
	Code Code
}

func (e *Error) Error() string { return codeMessages[e.Code] }

// Sentinel errors, one per Code, comparable with errors.Is.
var (
	ErrDatabaseMissing = &Error{CodeDatabaseMissing}
	ErrOutOfMemory     = &Error{CodeOutOfMemory}
	ErrNotInitialised  = &Error{CodeNotInitialised}
	ErrBadFormat       = &Error{CodeBadFormat}
	ErrNotFound        = &Error{CodeNotFound}
)

// process-wide session state, serialised by mu (spec §6: "a single mutex
// serialises open/close/next/lookup"), mirroring the original's static
// nc_mtx plus struct netconfig_info.
var (
	mu      sync.Mutex
	path    = "/etc/netconfig"
	file    *os.File
	scanner *bufio.Scanner
	cache   []*Record
	eof     bool
	refs    int
)

// SetPath overrides the netconfig database path: a single package-level
// knob with a setter, not a config struct or file. Intended for tests
// and callers that don't use the system /etc/netconfig.
func SetPath(p string) {
	mu.Lock()
	defer mu.Unlock()
	path = p
}

// Session is a handle returned by OpenSession. Searches through the
// database proceed from the start of the file; a session tracks only how
// far into the process-wide cache this particular handle has read.
type Session struct {
	pos int
}

// OpenSession establishes a netconfig session (setnetconfig in the
// original). Sessions nest: a process-wide reference count guards one
// cached record list and one open file descriptor, so the Nth concurrent
// session reuses what the first one opened.
func OpenSession() (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	refs++
	if file == nil {
		f, err := os.Open(path)
		if err != nil {
			refs--
			return nil, errors.Wrap(ErrDatabaseMissing, err.Error())
		}
		file = f
		scanner = bufio.NewScanner(f)
	}
	return &Session{}, nil
}

// Next returns the next record in the database, or io.EOF once every
// entry has been read. It returns entries already cached by a prior
// Next call on any session before streaming any remainder of the file
// lazily. Lookup never adds to that cache.
func (s *Session) Next() (*Record, error) {
	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return nil, ErrNotInitialised
	}
	if s.pos < len(cache) {
		r := cache[s.pos]
		s.pos++
		return r.clone(), nil
	}
	if eof {
		return nil, io.EOF
	}
	for {
		if !scanner.Scan() {
			eof = true
			return nil, io.EOF
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, err
		}
		cache = append(cache, rec)
		s.pos++
		return rec.clone(), nil
	}
}

// Close releases s (endnetconfig in the original). Only once the last
// nested session closes are the cache, end-of-file marker and file
// descriptor actually released.
func (s *Session) Close() error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		return ErrNotInitialised
	}
	refs--
	if refs > 0 {
		return nil
	}
	eof = false
	cache = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	scanner = nil
	return err
}

// Lookup returns the record for netid (getnetconfigent in the original),
// independent of any OpenSession/Close session (supplemented feature #1
// in SPEC_FULL.md). It checks the process-wide cache first, then — if
// the cache has not reached end of file — opens its own file handle and
// scans from the beginning without disturbing any open session's state.
func Lookup(netid string) (*Record, error) {
	if netid == "" {
		return nil, ErrNotFound
	}

	mu.Lock()
	defer mu.Unlock()

	for _, r := range cache {
		if r.NetID == netid {
			return r.clone(), nil
		}
	}
	if eof {
		return nil, ErrNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrDatabaseMissing, err.Error())
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, err
		}
		if rec.NetID == netid {
			return rec.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// parseRecord parses one netconfig line into a Record (parse_ncp in the
// original). A record has exactly 7 whitespace-separated fields: netid,
// semantics, flags, protofamily, protoname, device, lookups.
func parseRecord(line string) (*Record, error) {
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return nil, ErrBadFormat
	}

	r := &Record{
		NetID:       fields[0],
		ProtoFamily: fields[3],
		Proto:       fields[4],
		Device:      fields[5],
	}

	switch fields[1] {
	case "tpi_clts":
		r.Semantics = TpiClts
	case "tpi_cots":
		r.Semantics = TpiCots
	case "tpi_cots_ord":
		r.Semantics = TpiCotsOrd
	case "tpi_raw":
		r.Semantics = TpiRaw
	default:
		return nil, ErrBadFormat
	}

	for _, ch := range fields[2] {
		switch ch {
		case '-':
		case 'v':
			r.Flag |= Visible
		case 'b':
			r.Flag |= Broadcast
		default:
			return nil, ErrBadFormat
		}
	}

	if fields[6] != "-" {
		r.Lookups = strings.Split(fields[6], ",")
	}

	return r, nil
}
