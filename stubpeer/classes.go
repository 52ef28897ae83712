package stubpeer

import (
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// JavaException is an exception raised by a stand-in class. The client sees
// it as a remote fault carrying Class and Message.
type JavaException struct {
	Class   string
	Message string
	Cause   *JavaException
}

func throw(class, format string, args ...any) *JavaException {
	return &JavaException{Class: class, Message: fmt.Sprintf(format, args...)}
}

func (e *JavaException) Error() string {
	return e.Class + ": " + e.Message
}

func (e *JavaException) GetMessage() string { return e.Message }

func (e *JavaException) ToString() string { return e.Error() }

func (e *JavaException) stackTrace() string {
	return e.Error() + "\n\tat stubpeer.dispatch(Peer)"
}

// usageError rejects a well-formed request, e.g. an unknown object id.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) *usageError {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func parseLong(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, throw("java.lang.NumberFormatException", "For input string: %q", s)
	}
	return n, nil
}

func parseDouble(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, throw("java.lang.NumberFormatException", "For input string: %q", s)
	}
	return f, nil
}

func noArgs(name string, args []any) error {
	if len(args) != 0 {
		return throw("java.lang.NoSuchMethodException", "%s.<init> takes no arguments", name)
	}
	return nil
}

// classRef is the object returned for a class lookup.
type classRef struct{ name string }

func (c *classRef) GetName() string  { return c.name }
func (c *classRef) ToString() string { return "class " + c.name }

// classStatics holds the static methods of java.lang.Class.
type classStatics struct{ peer *Peer }

func (s *classStatics) ForName(name string) (*classRef, error) {
	if _, ok := s.peer.classes[name]; !ok {
		return nil, throw("java.lang.ClassNotFoundException", "%s", name)
	}
	return &classRef{name: name}, nil
}

// BigInteger stands in for java.math.BigInteger.
type BigInteger struct{ v *big.Int }

func newBigInteger(args []any) (any, error) {
	if len(args) != 1 {
		return nil, throw("java.lang.NoSuchMethodException", "java.math.BigInteger.<init> takes one argument")
	}
	switch a := args[0].(type) {
	case int64:
		return &BigInteger{v: big.NewInt(a)}, nil
	case string:
		v, ok := new(big.Int).SetString(strings.TrimSpace(a), 10)
		if !ok {
			return nil, throw("java.lang.NumberFormatException", "For input string: %q", a)
		}
		return &BigInteger{v: v}, nil
	default:
		return nil, throw("java.lang.IllegalArgumentException", "cannot build BigInteger from %T", a)
	}
}

func (b *BigInteger) Add(o *BigInteger) *BigInteger {
	return &BigInteger{v: new(big.Int).Add(b.v, o.v)}
}

func (b *BigInteger) Subtract(o *BigInteger) *BigInteger {
	return &BigInteger{v: new(big.Int).Sub(b.v, o.v)}
}

func (b *BigInteger) Multiply(o *BigInteger) *BigInteger {
	return &BigInteger{v: new(big.Int).Mul(b.v, o.v)}
}

func (b *BigInteger) Divide(o *BigInteger) (*BigInteger, error) {
	if o.v.Sign() == 0 {
		return nil, throw("java.lang.ArithmeticException", "BigInteger divide by zero")
	}
	return &BigInteger{v: new(big.Int).Quo(b.v, o.v)}, nil
}

func (b *BigInteger) Negate() *BigInteger { return &BigInteger{v: new(big.Int).Neg(b.v)} }
func (b *BigInteger) IntValue() int64     { return int64(int32(b.v.Int64())) }
func (b *BigInteger) LongValue() int64    { return b.v.Int64() }
func (b *BigInteger) Signum() int64       { return int64(b.v.Sign()) }
func (b *BigInteger) ToString() string    { return b.v.String() }
func (b *BigInteger) CompareTo(o *BigInteger) int64 {
	return int64(b.v.Cmp(o.v))
}

// JavaString stands in for java.lang.String.
type JavaString struct{ s string }

func newJavaString(args []any) (any, error) {
	switch len(args) {
	case 0:
		return &JavaString{}, nil
	case 1:
		if s, ok := args[0].(string); ok {
			return &JavaString{s: s}, nil
		}
	}
	return nil, throw("java.lang.NoSuchMethodException", "java.lang.String.<init>")
}

func (s *JavaString) Length() int64          { return int64(len([]rune(s.s))) }
func (s *JavaString) IsEmpty() bool          { return s.s == "" }
func (s *JavaString) ToUpperCase() string    { return strings.ToUpper(s.s) }
func (s *JavaString) Concat(o string) string { return s.s + o }
func (s *JavaString) ToString() string       { return s.s }
func (s *JavaString) Equals(o any) bool {
	switch t := o.(type) {
	case string:
		return t == s.s
	case *JavaString:
		return t.s == s.s
	}
	return false
}

// ArrayList stands in for java.util.ArrayList.
type ArrayList struct{ items []any }

func newArrayList(args []any) (any, error) {
	if err := noArgs("java.util.ArrayList", args); err != nil {
		return nil, err
	}
	return &ArrayList{}, nil
}

func (l *ArrayList) Add(v any) bool {
	l.items = append(l.items, v)
	return true
}

func (l *ArrayList) Get(i int64) (any, error) {
	if i < 0 || i >= int64(len(l.items)) {
		return nil, throw("java.lang.IndexOutOfBoundsException", "Index %d out of bounds for length %d", i, len(l.items))
	}
	return l.items[i], nil
}

func (l *ArrayList) Size() int64   { return int64(len(l.items)) }
func (l *ArrayList) IsEmpty() bool { return len(l.items) == 0 }
func (l *ArrayList) Clear()        { l.items = nil }
func (l *ArrayList) ToString() string {
	parts := make([]string, len(l.items))
	for i, item := range l.items {
		parts[i] = fmt.Sprint(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// HashMap stands in for java.util.HashMap with string keys.
type HashMap struct{ m map[string]any }

func newHashMap(args []any) (any, error) {
	if err := noArgs("java.util.HashMap", args); err != nil {
		return nil, err
	}
	return &HashMap{m: make(map[string]any)}, nil
}

func (h *HashMap) Put(k string, v any) any {
	prev := h.m[k]
	h.m[k] = v
	return prev
}

func (h *HashMap) Get(k string) any          { return h.m[k] }
func (h *HashMap) ContainsKey(k string) bool { _, ok := h.m[k]; return ok }
func (h *HashMap) Size() int64               { return int64(len(h.m)) }
func (h *HashMap) ToString() string {
	keys := make([]string, 0, len(h.m))
	for k := range h.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, h.m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// scriptContext stands in for the JSR-223 script context of one connection.
type scriptContext struct{ attrs map[string]any }

func (c *scriptContext) GetAttribute(name string) any { return c.attrs[name] }
func (c *scriptContext) SetAttribute(name string, v any) {
	c.attrs[name] = v
}
func (c *scriptContext) RemoveAttribute(name string) any {
	prev := c.attrs[name]
	delete(c.attrs, name)
	return prev
}

// javaSession stands in for the servlet session. It outlives connections:
// every connection to the peer sees the same one.
type javaSession struct {
	mu sync.Mutex
	m  map[string]any
}

func (s *javaSession) Get(k string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[k]
}

func (s *javaSession) Put(k string, v any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.m[k]
	s.m[k] = v
	return prev
}

func (s *javaSession) Remove(k string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.m[k]
	delete(s.m, k)
	return prev
}

// bridgeOptions reports the options a connection negotiated in its handshake.
type bridgeOptions struct {
	encoding        string
	preferValues    bool
	disableAutoload bool
}

func (o *bridgeOptions) GetEncoding() string    { return o.encoding }
func (o *bridgeOptions) PreferValues() bool     { return o.preferValues }
func (o *bridgeOptions) AutoloadDisabled() bool { return o.disableAutoload }
func (o *bridgeOptions) ToString() string {
	return fmt.Sprintf("Options[encoding=%s, preferValues=%t]", o.encoding, o.preferValues)
}

// driverManager holds the static methods of java.sql.DriverManager.
type driverManager struct{}

// GetConnection accepts jdbc:<driver>://host[:port]/db[?user=..&password=..]
// for any driver whose class was registered.
func (d *driverManager) GetConnection(rawURL string) (*SQLConnection, error) {
	rest, ok := strings.CutPrefix(rawURL, "jdbc:")
	if !ok {
		return nil, throw("java.sql.SQLException", "No suitable driver found for %s", rawURL)
	}
	u, err := url.Parse(rest)
	if err != nil || u.Host == "" {
		return nil, throw("java.sql.SQLException", "No suitable driver found for %s", rawURL)
	}
	if _, ok := jdbcDrivers[u.Scheme]; !ok {
		return nil, throw("java.sql.SQLException", "No suitable driver found for %s", rawURL)
	}
	return &SQLConnection{url: rawURL, catalog: strings.TrimPrefix(u.Path, "/"), user: u.Query().Get("user")}, nil
}

// jdbcDrivers maps a JDBC subprotocol to its driver class.
var jdbcDrivers = map[string]string{
	"mysql":      "com.mysql.cj.jdbc.Driver",
	"postgresql": "org.postgresql.Driver",
	"sqlserver":  "com.microsoft.sqlserver.jdbc.SQLServerDriver",
}

// SQLConnection stands in for a java.sql.Connection.
type SQLConnection struct {
	url     string
	catalog string
	user    string
	closed  bool
}

func (c *SQLConnection) GetCatalog() string  { return c.catalog }
func (c *SQLConnection) GetUserName() string { return c.user }
func (c *SQLConnection) IsClosed() bool      { return c.closed }
func (c *SQLConnection) Close()              { c.closed = true }
func (c *SQLConnection) ToString() string    { return c.url }

func registerBuiltins(p *Peer) {
	p.RegisterClass("java.lang.Class", &classRef{}, nil, &classStatics{peer: p})
	p.RegisterClass("java.lang.Object", nil, nil, nil)
	p.RegisterClass("java.math.BigInteger", &BigInteger{}, newBigInteger, nil, "java.lang.Number", "java.lang.Comparable")
	p.RegisterClass("java.lang.String", &JavaString{}, newJavaString, nil, "java.lang.CharSequence", "java.lang.Comparable")
	p.RegisterClass("java.util.ArrayList", &ArrayList{}, newArrayList, nil, "java.util.List", "java.util.Collection")
	p.RegisterClass("java.util.HashMap", &HashMap{}, newHashMap, nil, "java.util.Map")
	p.RegisterClass("java.sql.DriverManager", nil, nil, &driverManager{})
	p.RegisterClass("java.sql.Connection", &SQLConnection{}, nil, nil)
	p.RegisterClass("javax.script.ScriptContext", &scriptContext{}, nil, nil)
	p.RegisterClass("javax.servlet.http.HttpSession", &javaSession{}, nil, nil)
	p.RegisterClass("io.soluble.pjb.bridge.Options", &bridgeOptions{}, nil, nil)
	// legacy MySQL driver name, still the usual default
	p.RegisterClass("com.mysql.jdbc.Driver", nil, nil, nil, "java.sql.Driver")
	for _, driver := range jdbcDrivers {
		p.RegisterClass(driver, nil, nil, nil, "java.sql.Driver")
	}
}
