// Package fault defines the error taxonomy of the bridge client and translates
// transport, protocol and host-reported failures into it.
//
// Only KindBrokenConnection means the session is unusable. Every other kind
// leaves the connection in a consistent state.
package fault

import (
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindConfiguration: bad or missing connection parameters, raised before I/O.
	KindConfiguration Kind = iota + 1
	// KindBrokenConnection: transport failure, partial frame, unexpected end of
	// stream, or the host declared the connection unusable.
	KindBrokenConnection
	// KindInvalidUsage: a well-formed request was rejected.
	KindInvalidUsage
	// KindRemote: code on the host raised an exception.
	KindRemote
	// KindUnexpectedFormat: an assumed textual contract was violated.
	KindUnexpectedFormat
	// KindUnsupportedCast: the requested cast kind is not one we know.
	KindUnsupportedCast
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindBrokenConnection:
		return "broken connection"
	case KindInvalidUsage:
		return "invalid usage"
	case KindRemote:
		return "remote exception"
	case KindUnexpectedFormat:
		return "unexpected format"
	case KindUnsupportedCast:
		return "unsupported cast"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any Error of the same kind.
var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrBrokenConnection = &Error{Kind: KindBrokenConnection}
	ErrInvalidUsage     = &Error{Kind: KindInvalidUsage}
	ErrRemote           = &Error{Kind: KindRemote}
	ErrUnexpectedFormat = &Error{Kind: KindUnexpectedFormat}
	ErrUnsupportedCast  = &Error{Kind: KindUnsupportedCast}
)

// Error is the single error type surfaced by the client. Remote faults fill
// RemoteClass, Cause and StackTrace; Underlying keeps the transport error that
// triggered a translation, if any. An Error is not modified after creation.
type Error struct {
	Kind        Kind
	Message     string
	RemoteClass string
	Cause       string
	StackTrace  string
	Underlying  error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Underlying: err}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("bridge: ")
	sb.WriteString(e.Kind.String())
	if e.RemoteClass != "" {
		sb.WriteString(" [")
		sb.WriteString(e.RemoteClass)
		sb.WriteString("]")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Underlying != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Underlying.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches sentinels by kind, so errors.Is(err, ErrRemote) works for any
// remote fault regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Message == "" && t.RemoteClass == "" && t.Underlying == nil && t.Kind == e.Kind
}
