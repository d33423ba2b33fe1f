// Package errs defines the error kinds shared by the parsing and writing
// packages, plus a goroutine-local last-error registry kept only as a
// backward-compatibility shim for callers migrating from a C-style
// global-errno API. The primary API everywhere else in this module returns
// explicit (value, error) pairs; nothing in this module makes decisions
// based on the registry.
package errs

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// Kind classifies why an operation failed.
type Kind int

const (
	OK Kind = iota
	Format
	Eof
	InputIO
	TooLarge
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Format:
		return "invalid format"
	case Eof:
		return "premature end of input"
	case InputIO:
		return "input error"
	case TooLarge:
		return "input exceeds configured size limit"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type returned by this module's fallible
// operations. File and Line record where the error was raised, mirroring
// the source location fmidi's thread-local error record carried in debug
// builds.
type Error struct {
	Kind Kind
	Msg  string
	File string
	Line int
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// New creates an Error of the given kind, recording it in the calling
// goroutine's last-error slot before returning it.
func New(kind Kind, format string, args ...any) *Error {
	_, file, line, _ := runtime.Caller(1)
	e := &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		File: file,
		Line: line,
	}
	record(e)
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

var (
	mu    sync.Mutex
	byGID = map[uint64]*Error{}
)

// goroutineID extracts the numeric id Go's runtime assigns the calling
// goroutine by scraping it out of a stack trace header. There is no public
// API for this; it exists solely to key the legacy last-error shim below.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

func record(e *Error) {
	mu.Lock()
	defer mu.Unlock()
	byGID[goroutineID()] = e
}

// Last returns the most recently recorded error on the calling goroutine,
// for callers migrating from the legacy global-last-error style of API.
func Last() (*Error, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := byGID[goroutineID()]
	return e, ok
}

// Clear drops the calling goroutine's last-error slot.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	delete(byGID, goroutineID())
}
