package stubpeer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"bridge-rpc/message"
	"bridge-rpc/protocol"
)

// classDef describes one class the peer knows.
type classDef struct {
	name   string
	supers []string // classes and interfaces instanceOf also accepts
	ctor   func(args []any) (any, error)
	static any // receiver for static method calls on the class reference
}

// RegisterClass makes name resolvable. sample is a value of the Go type that
// stands in for instances (nil for classes without instances); ctor builds
// instances and may be nil; static receives calls made on the class itself.
func (p *Peer) RegisterClass(name string, sample any, ctor func(args []any) (any, error), static any, supers ...string) {
	p.classes[name] = &classDef{name: name, supers: supers, ctor: ctor, static: static}
	if sample != nil {
		p.typeNames[reflect.TypeOf(sample)] = name
	}
}

// className reports the class an object claims to be.
func (p *Peer) className(obj any) string {
	switch o := obj.(type) {
	case *classRef:
		return "java.lang.Class"
	case *JavaException:
		return o.Class
	}
	if name, ok := p.typeNames[reflect.TypeOf(obj)]; ok {
		return name
	}
	return "java.lang.Object"
}

type stateKey struct{}

// connState is the object table of one client connection. Ids start at 1;
// id 0 addresses the bridge itself.
type connState struct {
	peer          *Peer
	handshake     protocol.Handshake
	objects       map[int64]any
	ids           map[any]int64
	nextID        int64
	lastException int64
	context       *scriptContext // created on first getContext
}

func newConnState(p *Peer, hs protocol.Handshake) *connState {
	return &connState{
		peer:      p,
		handshake: hs,
		objects:   make(map[int64]any),
		ids:       make(map[any]int64),
	}
}

func stateFrom(ctx context.Context) *connState {
	st, _ := ctx.Value(stateKey{}).(*connState)
	return st
}

// store returns the id of obj, allocating one on first sight.
func (st *connState) store(obj any) int64 {
	comparable := reflect.TypeOf(obj).Comparable()
	if comparable {
		if id, ok := st.ids[obj]; ok {
			return id
		}
	}
	st.nextID++
	st.objects[st.nextID] = obj
	if comparable {
		st.ids[obj] = st.nextID
	}
	return st.nextID
}

// dispatch is the business handler wrapped by the peer middleware chain.
func (p *Peer) dispatch(ctx context.Context, req *message.Request) (message.Value, error) {
	st := stateFrom(ctx)
	if st == nil {
		return message.Value{}, usageErrorf("no connection state")
	}
	args, err := st.decodeArgs(req.Args)
	if err != nil {
		return message.Value{}, err
	}

	switch req.Kind {
	case message.RequestCreate:
		def, ok := p.classes[req.Name]
		if !ok {
			return message.Value{}, throw("java.lang.ClassNotFoundException", "%s", req.Name)
		}
		if def.ctor == nil {
			return message.Value{}, throw("java.lang.InstantiationException", "%s", req.Name)
		}
		obj, err := def.ctor(args)
		if err != nil {
			return message.Value{}, err
		}
		return st.encode(obj, true), nil

	case message.RequestReference:
		p.countLookup(req.Name)
		if _, ok := p.classes[req.Name]; !ok {
			return message.Value{}, throw("java.lang.ClassNotFoundException", "%s", req.Name)
		}
		return st.encode(&classRef{name: req.Name}, true), nil

	case message.RequestInvoke:
		p.countInvocation(req.Name)
		if req.Object == 0 {
			return st.call(&bridge{st: st}, req.Name, args)
		}
		recv, ok := st.objects[req.Object]
		if !ok {
			return message.Value{}, usageErrorf("unknown object id %d", req.Object)
		}
		if ref, ok := recv.(*classRef); ok {
			if def := p.classes[ref.name]; def != nil && def.static != nil && hasMethod(def.static, req.Name) {
				return st.call(def.static, req.Name, args)
			}
		}
		return st.call(recv, req.Name, args)

	default:
		return message.Value{}, usageErrorf("unsupported request kind %s", req.Kind)
	}
}

func (st *connState) decodeArgs(values []message.Value) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		a, err := st.decode(v)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

func (st *connState) decode(v message.Value) (any, error) {
	switch v.Kind {
	case message.KindNull, message.KindVoid, 0:
		return nil, nil
	case message.KindString:
		return v.Str, nil
	case message.KindBool:
		return v.Bool, nil
	case message.KindLong:
		return v.Long, nil
	case message.KindDouble:
		return v.Double, nil
	case message.KindObject:
		obj, ok := st.objects[v.Ref]
		if !ok {
			return nil, usageErrorf("unknown object id %d", v.Ref)
		}
		return obj, nil
	case message.KindList:
		return st.decodeArgs(v.List)
	case message.KindMap:
		m := make(map[string]any, len(v.Map))
		for _, e := range v.Map {
			val, err := st.decode(e.Value)
			if err != nil {
				return nil, err
			}
			m[e.Key] = val
		}
		return m, nil
	default:
		return nil, usageErrorf("unknown value kind %q", v.Kind)
	}
}

// encode turns a Go result into a wire value. Scalars, lists and maps travel
// by value; everything else is stored and sent as an object reference. With
// forceRef the result is a reference even for a stand-in whose class has a
// value form.
func (st *connState) encode(obj any, forceRef bool) message.Value {
	switch o := obj.(type) {
	case nil:
		return message.Null()
	case message.Value:
		return o
	case string:
		return message.String(o)
	case bool:
		return message.Bool(o)
	case int:
		return message.Long(int64(o))
	case int64:
		return message.Long(o)
	case float64:
		return message.Double(o)
	case []any:
		items := make([]message.Value, len(o))
		for i, item := range o {
			items[i] = st.encode(item, false)
		}
		return message.List(items...)
	case map[string]any:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]message.Entry, len(keys))
		for i, k := range keys {
			entries[i] = message.Entry{Key: k, Value: st.encode(o[k], false)}
		}
		return message.Map(entries...)
	}
	if js, ok := obj.(*JavaString); ok && !forceRef && st.handshake.PreferValues {
		return message.String(js.s)
	}
	return message.Object(st.store(obj), st.peer.className(obj))
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func exportName(method string) string {
	r, n := utf8.DecodeRuneInString(method)
	if r == utf8.RuneError {
		return method
	}
	return string(unicode.ToUpper(r)) + method[n:]
}

func hasMethod(recv any, method string) bool {
	return reflect.ValueOf(recv).MethodByName(exportName(method)).IsValid()
}

// call invokes method on recv by reflection. Java-style names map to the
// exported Go method ("toString" → ToString). Results are (), (v), (err) or
// (v, err).
func (st *connState) call(recv any, method string, args []any) (message.Value, error) {
	m := reflect.ValueOf(recv).MethodByName(exportName(method))
	if !m.IsValid() {
		return message.Value{}, throw("java.lang.NoSuchMethodException", "%s.%s", st.peer.className(recv), method)
	}
	t := m.Type()
	if t.NumIn() != len(args) {
		return message.Value{}, throw("java.lang.NoSuchMethodException",
			"%s.%s takes %d arguments, got %d", st.peer.className(recv), method, t.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := convertArg(a, t.In(i))
		if err != nil {
			return message.Value{}, throw("java.lang.IllegalArgumentException", "%s argument %d: %v", method, i, err)
		}
		in[i] = v
	}

	out := m.Call(in)
	var result any = message.Void()
	for i, o := range out {
		if t.Out(i) == errorType {
			if !o.IsNil() {
				return message.Value{}, o.Interface().(error)
			}
			continue
		}
		result = o.Interface()
	}
	return st.encode(result, false), nil
}

func convertArg(a any, want reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch want.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("null for %s", want)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(want) {
		return av, nil
	}
	if isNumeric(av.Kind()) && isNumeric(want.Kind()) {
		return av.Convert(want), nil
	}
	if js, ok := a.(*JavaString); ok && want.Kind() == reflect.String {
		return reflect.ValueOf(js.s), nil
	}
	return reflect.Value{}, fmt.Errorf("%T is not %s", a, want)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fault converts a dispatch error into a wire fault. Exceptions are stored so
// the client can reach them through getLastException.
func (st *connState) fault(err error) *message.Fault {
	var je *JavaException
	if errors.As(err, &je) {
		id := st.store(je)
		st.lastException = id
		f := &message.Fault{
			Kind:       message.FaultException,
			Object:     id,
			Class:      je.Class,
			Message:    je.Message,
			StackTrace: je.stackTrace(),
		}
		if je.Cause != nil {
			f.Cause = je.Cause.Error()
		}
		return f
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return &message.Fault{Kind: message.FaultUsage, Message: ue.msg}
	}
	return &message.Fault{Kind: message.FaultException, Class: "java.lang.RuntimeException", Message: err.Error()}
}

// bridge holds the methods invoked on object id 0.
type bridge struct {
	st *connState
}

// Inspect describes obj in the host's debug format:
//
//	[class java.math.BigInteger:
//	Methods:
//	add, ...]
func (b *bridge) Inspect(obj any) string {
	var methods []string
	t := reflect.TypeOf(obj)
	if t != nil {
		for i := 0; i < t.NumMethod(); i++ {
			name := t.Method(i).Name
			r, n := utf8.DecodeRuneInString(name)
			methods = append(methods, string(unicode.ToLower(r))+name[n:])
		}
	}
	return fmt.Sprintf("[class %s:\nMethods:\n%s]", b.st.peer.className(obj), strings.Join(methods, ", "))
}

func (b *bridge) InstanceOf(obj any, class *classRef) bool {
	if obj == nil || class == nil {
		return false
	}
	name := b.st.peer.className(obj)
	if class.name == "java.lang.Object" || class.name == name {
		return true
	}
	if def := b.st.peer.classes[name]; def != nil {
		for _, s := range def.supers {
			if s == class.name {
				return true
			}
		}
	}
	return false
}

func (b *bridge) CastToString(obj any) string {
	if m := reflect.ValueOf(obj).MethodByName("ToString"); m.IsValid() && m.Type().NumIn() == 0 {
		if out := m.Call(nil); len(out) == 1 && out[0].Kind() == reflect.String {
			return out[0].String()
		}
	}
	return fmt.Sprint(obj)
}

func (b *bridge) CastToBoolean(obj any) bool {
	switch o := obj.(type) {
	case *BigInteger:
		return o.v.Sign() != 0
	case *JavaString:
		return o.s != ""
	case *ArrayList:
		return len(o.items) > 0
	case *HashMap:
		return len(o.m) > 0
	}
	return obj != nil
}

func (b *bridge) CastToExact(obj any) (int64, error) {
	switch o := obj.(type) {
	case *BigInteger:
		return o.v.Int64(), nil
	case *JavaString:
		return parseLong(o.s)
	}
	return 0, throw("java.lang.ClassCastException", "%s is not a number", b.st.peer.className(obj))
}

func (b *bridge) CastToInExact(obj any) (float64, error) {
	switch o := obj.(type) {
	case *BigInteger:
		f, _ := new(big.Float).SetInt(o.v).Float64()
		return f, nil
	case *JavaString:
		return parseDouble(o.s)
	}
	return 0, throw("java.lang.ClassCastException", "%s is not a number", b.st.peer.className(obj))
}

func (b *bridge) GetValues(obj any) (any, error) {
	switch o := obj.(type) {
	case *ArrayList:
		return append([]any{}, o.items...), nil
	case *HashMap:
		m := make(map[string]any, len(o.m))
		for k, v := range o.m {
			m[k] = v
		}
		return m, nil
	}
	return nil, throw("java.lang.IllegalArgumentException", "%s has no values", b.st.peer.className(obj))
}

func (b *bridge) GetLastException() any {
	if b.st.lastException == 0 {
		return nil
	}
	return b.st.objects[b.st.lastException]
}

func (b *bridge) ClearLastException() {
	b.st.lastException = 0
}

func (b *bridge) SetFileEncoding(enc string) {
	b.st.handshake.Encoding = enc
}

func (b *bridge) GetContext() *scriptContext {
	if b.st.context == nil {
		b.st.context = &scriptContext{attrs: make(map[string]any)}
	}
	return b.st.context
}

func (b *bridge) GetSession() *javaSession {
	return b.st.peer.session
}

func (b *bridge) GetOptions() *bridgeOptions {
	hs := b.st.handshake
	return &bridgeOptions{encoding: hs.Encoding, preferValues: hs.PreferValues, disableAutoload: hs.DisableAutoload}
}
