// Package proxy is the public surface for working with host objects.
//
// An Invoker creates objects, calls methods, casts values and inspects
// references. Every host object a call returns is represented by a
// *RemoteReference owned by the Registry of the session it came from.
// References are not reference counted and have no disposal of their own:
// they stay valid until their session ends, after which any use fails with
// an invalid usage error.
package proxy

import "fmt"

// RemoteReference is a handle to an object living on the host.
type RemoteReference struct {
	id    int64
	owner *Registry
	class string // guarded by owner.mu; may be empty
}

// ID is the host's object id. It is never 0.
func (r *RemoteReference) ID() int64 { return r.id }

// ClassName returns the class the host reported for the object, if any.
// Use Invoker.ClassNameOf for an authoritative answer.
func (r *RemoteReference) ClassName() string {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.class
}

func (r *RemoteReference) setClassName(name string) {
	r.owner.mu.Lock()
	r.class = name
	r.owner.mu.Unlock()
}

func (r *RemoteReference) String() string {
	class := r.ClassName()
	if class == "" {
		return fmt.Sprintf("#%d", r.id)
	}
	return fmt.Sprintf("#%d<%s>", r.id, class)
}

// ClassDescriptor is a class resolved by name. Descriptors are cached for the
// life of the session, so repeated lookups return the same pointer.
type ClassDescriptor struct {
	name string
	ref  *RemoteReference
}

func (c *ClassDescriptor) Name() string { return c.name }

// Reference is the host's class object. Invoking methods on it calls static
// methods of the class.
func (c *ClassDescriptor) Reference() *RemoteReference { return c.ref }

func (c *ClassDescriptor) String() string { return "class " + c.name }
