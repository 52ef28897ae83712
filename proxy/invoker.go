package proxy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bridge-rpc/config"
	"bridge-rpc/fault"
	"bridge-rpc/logging"
	"bridge-rpc/message"
	"bridge-rpc/session"
)

// bridgeScope is the object id of the bridge itself; static helpers such as
// inspect and instanceOf are invoked on it.
const bridgeScope = 0

// Invoker is the public surface over a session Manager. The first call opens
// a session lazily. A broken connection discards the session after the
// failing call returns its error; the next call opens a fresh one.
//
//	Uninitialized ──call──→ Connected ──Close / broken connection──→ Terminated
//	                           ↑                                         │
//	                           └──────────────── next call ──────────────┘
type Invoker struct {
	manager *session.Manager
	logger  *zap.Logger

	mu  sync.Mutex
	reg *Registry // arena of the current session
}

// NewInvoker returns an Invoker backed by m.
func NewInvoker(m *session.Manager, logger *zap.Logger) *Invoker {
	return &Invoker{manager: m, logger: logging.OrNop(logger)}
}

var (
	defaultOnce    sync.Once
	defaultInvoker *Invoker
)

// Default returns an Invoker over session.Default().
func Default() *Invoker {
	defaultOnce.Do(func() {
		defaultInvoker = NewInvoker(session.Default(), nil)
	})
	return defaultInvoker
}

// Manager returns the session manager behind the invoker.
func (inv *Invoker) Manager() *session.Manager { return inv.manager }

// Registry returns the arena of the live session, opening one if needed.
func (inv *Invoker) Registry(ctx context.Context) (*Registry, error) {
	s, err := inv.manager.Open(ctx)
	if err != nil {
		return nil, fault.Translate(err)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.reg == nil || inv.reg.session != s {
		inv.reg = newRegistry(s)
	}
	return inv.reg, nil
}

// do runs fn against the current registry and funnels its error through
// the translator.
func (inv *Invoker) do(ctx context.Context, fn func(reg *Registry) error) error {
	reg, err := inv.Registry(ctx)
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		err = fault.Translate(err)
		if fault.IsBrokenConnection(err) {
			inv.logger.Warn("discarding broken bridge session", zap.String("session", reg.session.ID()), zap.Error(err))
			inv.manager.Discard(reg.session)
		}
		return err
	}
	return nil
}

func (inv *Invoker) invoke(ctx context.Context, reg *Registry, recv *RemoteReference, method string, args []any) (message.Value, error) {
	obj := int64(bridgeScope)
	if recv != nil {
		if err := reg.check(recv); err != nil {
			return message.Value{}, err
		}
		obj = recv.id
	}
	values, err := reg.marshalAll(args)
	if err != nil {
		return message.Value{}, err
	}
	return reg.session.Invoke(ctx, obj, method, values...)
}

// Instantiate creates an instance of class on the host.
func (inv *Invoker) Instantiate(ctx context.Context, class string, args ...any) (*RemoteReference, error) {
	var ref *RemoteReference
	err := inv.do(ctx, func(reg *Registry) error {
		values, err := reg.marshalAll(args)
		if err != nil {
			return err
		}
		v, err := reg.session.Call(ctx, &message.Request{Kind: message.RequestCreate, Name: class, Args: values})
		if err != nil {
			return err
		}
		if v.Kind != message.KindObject || v.Ref == 0 {
			return fault.New(fault.KindUnexpectedFormat, "new %s returned %s, not an object", class, v)
		}
		ref = reg.reference(v.Ref, v.Class)
		return nil
	})
	return ref, err
}

// InvokeMethod calls method on recv; a nil recv addresses the bridge scope.
// The result is a string, bool, int64, float64, nil, []any, map[string]any
// or a *RemoteReference for anything opaque.
func (inv *Invoker) InvokeMethod(ctx context.Context, recv *RemoteReference, method string, args ...any) (any, error) {
	var result any
	err := inv.do(ctx, func(reg *Registry) error {
		v, err := inv.invoke(ctx, reg, recv, method, args)
		if err != nil {
			return err
		}
		result = reg.unmarshal(v)
		return nil
	})
	return result, err
}

// ClassByName resolves a class, from the cache when possible.
func (inv *Invoker) ClassByName(ctx context.Context, name string) (*ClassDescriptor, error) {
	var cd *ClassDescriptor
	err := inv.do(ctx, func(reg *Registry) (err error) {
		cd, err = reg.ClassByName(ctx, name)
		return err
	})
	return cd, err
}

// InstanceOf reports whether obj is an instance of class, given as a name,
// a *ClassDescriptor or a *RemoteReference to a class object. A name that
// does not resolve fails with an invalid usage error and no instanceOf call
// is made.
func (inv *Invoker) InstanceOf(ctx context.Context, obj *RemoteReference, class any) (bool, error) {
	var result bool
	err := inv.do(ctx, func(reg *Registry) error {
		if err := reg.check(obj); err != nil {
			return err
		}
		var classRef *RemoteReference
		switch c := class.(type) {
		case string:
			cd, err := reg.ClassByName(ctx, c)
			if err != nil {
				if fault.IsBrokenConnection(err) {
					return err
				}
				return fault.Wrap(err, fault.KindInvalidUsage, "instanceOf: cannot resolve class "+c)
			}
			classRef = cd.ref
		case *ClassDescriptor:
			if c == nil {
				return fault.New(fault.KindInvalidUsage, "instanceOf: nil class")
			}
			classRef = c.ref
		case *RemoteReference:
			classRef = c
		default:
			return fault.New(fault.KindInvalidUsage, "instanceOf: class must be a name or class reference, got %T", class)
		}

		v, err := inv.invoke(ctx, reg, nil, "instanceOf", []any{obj, classRef})
		if err != nil {
			return err
		}
		if v.Kind != message.KindBool {
			return fault.New(fault.KindUnexpectedFormat, "instanceOf returned %s", v)
		}
		result = v.Bool
		return nil
	})
	return result, err
}

// Cast converts v to kind (see ParseCastKind). References are converted by
// the host; local values are converted in place. Unknown kinds fail before
// any I/O.
func (inv *Invoker) Cast(ctx context.Context, v any, kind string) (any, error) {
	k, err := ParseCastKind(kind)
	if err != nil {
		return nil, err
	}
	if cd, ok := v.(*ClassDescriptor); ok && cd != nil {
		v = cd.ref
	}
	ref, isRef := v.(*RemoteReference)
	if !isRef || k == CastNull {
		return castLocal(normalize(v), k)
	}

	var result any
	err = inv.do(ctx, func(reg *Registry) error {
		r, err := inv.invoke(ctx, reg, nil, remoteCasts[k], []any{ref})
		if err != nil {
			return err
		}
		result, err = castLocal(reg.unmarshal(r), k)
		return err
	})
	return result, err
}

// Inspect returns the host's debug description of ref.
func (inv *Invoker) Inspect(ctx context.Context, ref *RemoteReference) (string, error) {
	var desc string
	err := inv.do(ctx, func(reg *Registry) error {
		v, err := inv.invoke(ctx, reg, nil, "inspect", []any{ref})
		if err != nil {
			return err
		}
		if v.Kind != message.KindString {
			return fault.New(fault.KindUnexpectedFormat, "inspect returned %s, not a string", v)
		}
		desc = v.Str
		return nil
	})
	return desc, err
}

// ClassNameOf returns the fully qualified class name of ref, read from the
// head of its inspect description.
func (inv *Invoker) ClassNameOf(ctx context.Context, ref *RemoteReference) (string, error) {
	desc, err := inv.Inspect(ctx, ref)
	if err != nil {
		return "", err
	}
	name, err := parseClassName(desc)
	if err != nil {
		return "", err
	}
	ref.setClassName(name)
	return name, nil
}

// Values returns the contents of a host collection as []any or map[string]any.
func (inv *Invoker) Values(ctx context.Context, ref *RemoteReference) (any, error) {
	return inv.InvokeMethod(ctx, nil, "getValues", ref)
}

// LastException returns the exception raised by the most recent failed call
// on this session, or nil.
func (inv *Invoker) LastException(ctx context.Context) (*RemoteReference, error) {
	v, err := inv.InvokeMethod(ctx, nil, "getLastException")
	if err != nil {
		return nil, err
	}
	ref, _ := v.(*RemoteReference)
	return ref, nil
}

// ClearLastException forgets the last exception.
func (inv *Invoker) ClearLastException(ctx context.Context) error {
	_, err := inv.InvokeMethod(ctx, nil, "clearLastException")
	return err
}

// SetFileEncoding changes the character encoding the host uses for strings.
func (inv *Invoker) SetFileEncoding(ctx context.Context, encoding string) error {
	_, err := inv.InvokeMethod(ctx, nil, "setFileEncoding", encoding)
	return err
}

// Context returns the host's JSR-223 script context for this session.
func (inv *Invoker) Context(ctx context.Context) (*RemoteReference, error) {
	return inv.bridgeObject(ctx, "getContext")
}

// JavaSession returns the host's servlet session. Unlike the script context
// it survives reconnects, so values put into it are seen by later sessions.
func (inv *Invoker) JavaSession(ctx context.Context) (*RemoteReference, error) {
	return inv.bridgeObject(ctx, "getSession")
}

// HostOptions returns the options object the host holds for this session.
// ConnectionOptions is the local counterpart.
func (inv *Invoker) HostOptions(ctx context.Context) (*RemoteReference, error) {
	return inv.bridgeObject(ctx, "getOptions")
}

// bridgeObject invokes a no-argument bridge method that must yield an object.
func (inv *Invoker) bridgeObject(ctx context.Context, method string) (*RemoteReference, error) {
	var ref *RemoteReference
	err := inv.do(ctx, func(reg *Registry) error {
		v, err := inv.invoke(ctx, reg, nil, method, nil)
		if err != nil {
			return err
		}
		if v.Kind != message.KindObject || v.Ref == 0 {
			return fault.New(fault.KindUnexpectedFormat, "%s returned %s, not an object", method, v)
		}
		ref = reg.reference(v.Ref, v.Class)
		return nil
	})
	return ref, err
}

// ConnectionOptions returns the configuration sessions are opened with.
func (inv *Invoker) ConnectionOptions() *config.Config {
	return inv.manager.Config()
}

// Close ends the live session. References minted so far become stale.
func (inv *Invoker) Close() error {
	return inv.manager.Close()
}
