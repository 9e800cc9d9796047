// Package errdefs defines the error kinds shared by the kernel cache and
// its compilation pipeline.
//
// Every failure that crosses a package boundary is an *Error carrying a
// Kind. Callers classify failures with errors.Is against the sentinel
// values (ErrNotFound, ErrCompile, ...) or with KindOf.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind uint8

const (
	Other Kind = iota
	NotFound
	IO
	Compile
	Link
	Driver
	Create
	Invalid
	Closed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case IO:
		return "I/O error"
	case Compile:
		return "compile error"
	case Link:
		return "link error"
	case Driver:
		return "driver error"
	case Create:
		return "create error"
	case Invalid:
		return "invalid argument"
	case Closed:
		return "closed"
	default:
		return "error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound = &Error{Kind: NotFound}
	ErrIO       = &Error{Kind: IO}
	ErrCompile  = &Error{Kind: Compile}
	ErrLink     = &Error{Kind: Link}
	ErrDriver   = &Error{Kind: Driver}
	ErrCreate   = &Error{Kind: Create}
	ErrInvalid  = &Error{Kind: Invalid}
	ErrClosed   = &Error{Kind: Closed}
)

// Error is the error type returned across the cache and pipeline.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "write source" or "load module".
	Op string
	// Path is the file or directory involved, if any.
	Path string
	// Cmd is the full command line of a failed toolchain invocation.
	Cmd string
	// ExitCode of a failed toolchain invocation, -1 if the process did not exit normally.
	ExitCode int
	// Status is the native driver status code for Driver errors.
	Status int
	// StatusText is the driver's name for Status.
	StatusText string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case Compile, Link:
		if e.Cmd != "" {
			fmt.Fprintf(&b, " (exit %d): %s", e.ExitCode, e.Cmd)
		}
	case Driver:
		if e.StatusText != "" {
			fmt.Fprintf(&b, " %d (%s)", e.Status, e.StatusText)
		} else {
			fmt.Fprintf(&b, " %d", e.Status)
		}
		if e.Path != "" {
			fmt.Fprintf(&b, ": %s", e.Path)
		}
	default:
		if e.Path != "" {
			fmt.Fprintf(&b, ": %s", e.Path)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Cmd == "" && t.Err == nil
}

// KindOf returns the Kind of the first *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

func E(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func NotFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: NotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func Invalidf(op, format string, args ...any) *Error {
	return &Error{Kind: Invalid, Op: op, Err: fmt.Errorf(format, args...)}
}

// Tool builds a Compile or Link error for a failed external command.
func Tool(kind Kind, op, cmd string, exitCode int, err error) *Error {
	return &Error{Kind: kind, Op: op, Cmd: cmd, ExitCode: exitCode, Err: err}
}

// DriverStatus builds a Driver error that keeps the native status code.
func DriverStatus(op, path string, status int, statusText string) *Error {
	return &Error{Kind: Driver, Op: op, Path: path, Status: status, StatusText: statusText}
}
