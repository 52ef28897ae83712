package proxy

import (
	"math"
	"sort"

	"bridge-rpc/fault"
	"bridge-rpc/message"
)

// marshal converts a Go argument into a wire value. References pass by id,
// scalars, []any and map[string]any by value.
func (r *Registry) marshal(arg any) (message.Value, error) {
	switch a := arg.(type) {
	case nil:
		return message.Null(), nil
	case *RemoteReference:
		if err := r.check(a); err != nil {
			return message.Value{}, err
		}
		return message.Object(a.id, a.ClassName()), nil
	case *ClassDescriptor:
		if a == nil {
			return message.Value{}, fault.New(fault.KindInvalidUsage, "nil class descriptor")
		}
		return r.marshal(a.ref)
	case message.Value:
		return a, nil
	case string:
		return message.String(a), nil
	case bool:
		return message.Bool(a), nil
	case int:
		return message.Long(int64(a)), nil
	case int8:
		return message.Long(int64(a)), nil
	case int16:
		return message.Long(int64(a)), nil
	case int32:
		return message.Long(int64(a)), nil
	case int64:
		return message.Long(a), nil
	case uint:
		return unsigned(uint64(a))
	case uint8:
		return message.Long(int64(a)), nil
	case uint16:
		return message.Long(int64(a)), nil
	case uint32:
		return message.Long(int64(a)), nil
	case uint64:
		return unsigned(a)
	case float32:
		return message.Double(float64(a)), nil
	case float64:
		return message.Double(a), nil
	case []any:
		items := make([]message.Value, len(a))
		for i, item := range a {
			v, err := r.marshal(item)
			if err != nil {
				return message.Value{}, err
			}
			items[i] = v
		}
		return message.List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(a))
		for k := range a {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]message.Entry, len(keys))
		for i, k := range keys {
			v, err := r.marshal(a[k])
			if err != nil {
				return message.Value{}, err
			}
			entries[i] = message.Entry{Key: k, Value: v}
		}
		return message.Map(entries...), nil
	default:
		return message.Value{}, fault.New(fault.KindInvalidUsage, "cannot pass %T to the host", arg)
	}
}

func unsigned(n uint64) (message.Value, error) {
	if n > math.MaxInt64 {
		return message.Value{}, fault.New(fault.KindInvalidUsage, "%d overflows a host long", n)
	}
	return message.Long(int64(n)), nil
}

func (r *Registry) marshalAll(args []any) ([]message.Value, error) {
	out := make([]message.Value, len(args))
	for i, a := range args {
		v, err := r.marshal(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// unmarshal converts a wire value into string, bool, int64, float64, nil,
// []any, map[string]any or *RemoteReference.
func (r *Registry) unmarshal(v message.Value) any {
	switch v.Kind {
	case message.KindString:
		return v.Str
	case message.KindBool:
		return v.Bool
	case message.KindLong:
		return v.Long
	case message.KindDouble:
		return v.Double
	case message.KindObject:
		if ref := r.reference(v.Ref, v.Class); ref != nil {
			return ref
		}
		return nil
	case message.KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = r.unmarshal(item)
		}
		return items
	case message.KindMap:
		m := make(map[string]any, len(v.Map))
		for _, e := range v.Map {
			m[e.Key] = r.unmarshal(e.Value)
		}
		return m
	default:
		return nil
	}
}
