package fault

import (
	"context"
	"errors"

	"bridge-rpc/message"
)

// Translate maps any error crossing the session boundary into the taxonomy.
//
//   - nil stays nil.
//   - errors already carrying an *Error pass through unchanged.
//   - context cancellation passes through; nothing was sent.
//   - everything else came from the transport or the frame/codec layer and
//     means the byte stream can no longer be trusted: KindBrokenConnection.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return Wrap(err, KindBrokenConnection, "transport failure")
}

// FromRemote converts a fault reported by the host.
func FromRemote(f *message.Fault) *Error {
	if f == nil {
		return nil
	}
	kind := KindRemote
	switch f.Kind {
	case message.FaultUsage:
		kind = KindInvalidUsage
	case message.FaultBroken:
		kind = KindBrokenConnection
	}
	return &Error{
		Kind:        kind,
		Message:     f.Message,
		RemoteClass: f.Class,
		Cause:       f.Cause,
		StackTrace:  f.StackTrace,
	}
}

// IsBrokenConnection reports whether err means the session must be discarded.
func IsBrokenConnection(err error) bool {
	return errors.Is(err, ErrBrokenConnection)
}
