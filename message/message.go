// Package message defines the request and response model exchanged with the bridge host.
//
// A Request asks the host to create an object, look up a class, invoke a method
// or end the conversation. A Response carries either one Value or a Fault. Both
// are encoded by the codec layer and wrapped in a protocol frame for transmission.
package message

import "fmt"

// RequestKind selects what the host should do with a Request.
type RequestKind byte

const (
	RequestCreate    RequestKind = 'C' // instantiate Name with Args
	RequestReference RequestKind = 'R' // look up class Name, no instance
	RequestInvoke    RequestKind = 'I' // call Name on Object with Args
	RequestFinish    RequestKind = 'F' // termination marker sent on close
)

func (k RequestKind) String() string {
	switch k {
	case RequestCreate:
		return "create"
	case RequestReference:
		return "reference"
	case RequestInvoke:
		return "invoke"
	case RequestFinish:
		return "finish"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Request is one call on the wire.
//
//   - Create:    Name is the class name, Args the constructor arguments.
//   - Reference: Name is the class name.
//   - Invoke:    Object is the receiver id (0 = bridge scope), Name the method.
//   - Finish:    no fields.
type Request struct {
	Kind   RequestKind `json:"kind"`
	Object int64       `json:"object,omitempty"`
	Name   string      `json:"name,omitempty"`
	Args   []Value     `json:"args,omitempty"`
}

// Response is the host's answer to exactly one Request.
// Fault is non-nil if the request failed; Value is then meaningless.
type Response struct {
	Value Value  `json:"value"`
	Fault *Fault `json:"fault,omitempty"`
}

// FaultKind classifies a fault reported by the host.
type FaultKind byte

const (
	FaultException FaultKind = 'X' // remote code raised an exception
	FaultUsage     FaultKind = 'U' // well-formed request the host rejected
	FaultBroken    FaultKind = 'B' // host declares the connection unusable
)

// Fault describes a host-side failure.
type Fault struct {
	Kind       FaultKind `json:"kind"`
	Object     int64     `json:"object,omitempty"` // id of the exception object on the host, 0 if none
	Class      string    `json:"class,omitempty"`  // exception class name, e.g. "java.lang.ArithmeticException"
	Message    string    `json:"message,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	StackTrace string    `json:"stackTrace,omitempty"`
}
