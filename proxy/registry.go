package proxy

import (
	"context"
	"sync"

	"bridge-rpc/fault"
	"bridge-rpc/message"
	"bridge-rpc/session"
)

// Registry is the reference arena of one session: host id → handle, plus the
// class descriptor cache. It dies with its session.
type Registry struct {
	session *session.Session

	mu      sync.Mutex
	refs    map[int64]*RemoteReference
	classes map[string]*ClassDescriptor

	lookupMu sync.Mutex // serializes class lookups so a miss costs one round-trip
}

func newRegistry(s *session.Session) *Registry {
	return &Registry{
		session: s,
		refs:    make(map[int64]*RemoteReference),
		classes: make(map[string]*ClassDescriptor),
	}
}

// Session returns the session the registry belongs to.
func (r *Registry) Session() *session.Session { return r.session }

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

// reference returns the handle for id, creating it on first sight. The same
// id always yields the same handle. Id 0 is the bridge scope and has no handle.
func (r *Registry) reference(id int64, class string) *RemoteReference {
	if id == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.refs[id]; ok {
		if ref.class == "" {
			ref.class = class
		}
		return ref
	}
	ref := &RemoteReference{id: id, class: class, owner: r}
	r.refs[id] = ref
	return ref
}

// check rejects handles minted by another session.
func (r *Registry) check(ref *RemoteReference) error {
	if ref == nil {
		return fault.New(fault.KindInvalidUsage, "nil reference")
	}
	if ref.owner != r || r.session.Closed() {
		return fault.New(fault.KindInvalidUsage, "stale reference %s: its session has ended", ref)
	}
	return nil
}

// ClassByName resolves a class. A cached descriptor is returned without I/O;
// otherwise exactly one lookup is sent. Failed lookups are not cached.
func (r *Registry) ClassByName(ctx context.Context, name string) (*ClassDescriptor, error) {
	if name == "" {
		return nil, fault.New(fault.KindInvalidUsage, "empty class name")
	}
	if cd := r.cachedClass(name); cd != nil {
		return cd, nil
	}

	r.lookupMu.Lock()
	defer r.lookupMu.Unlock()
	if cd := r.cachedClass(name); cd != nil {
		return cd, nil
	}

	v, err := r.session.Call(ctx, &message.Request{Kind: message.RequestReference, Name: name})
	if err != nil {
		return nil, err
	}
	if v.Kind != message.KindObject || v.Ref == 0 {
		return nil, fault.New(fault.KindUnexpectedFormat, "class lookup for %s returned %s, not a class reference", name, v)
	}
	cd := &ClassDescriptor{name: name, ref: r.reference(v.Ref, v.Class)}

	r.mu.Lock()
	r.classes[name] = cd
	r.mu.Unlock()
	return cd, nil
}

func (r *Registry) cachedClass(name string) *ClassDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classes[name]
}
