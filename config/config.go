// Package config turns a bridge option set into connect parameters and tunables.
//
// Options arrive as a flat map (from code, a YAML file or flags). Unknown keys are
// ignored; a missing or unusable address is a configuration error raised before
// any socket is opened.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bridge-rpc/codec"
	"bridge-rpc/fault"
)

// Option keys.
const (
	KeyAddress                 = "address"
	KeyUsePersistentConnection = "use_persistent_connection"
	KeyPreferValues            = "prefer_values"
	KeyLogLevel                = "log_level"
	KeySendBufferSize          = "send_buffer_size"
	KeyRecvBufferSize          = "recv_buffer_size"
	KeyDisableAutoload         = "disable_autoload"
	KeyCharacterEncoding       = "character_encoding"
	KeyCodec                   = "codec"
	KeyDialTimeout             = "dial_timeout"
	KeyDialRetries             = "dial_retries"
	KeyCloseTimeout            = "close_timeout"
	KeyMaxCallsPerSecond       = "max_calls_per_second"
	KeyRateBurst               = "rate_burst"
	KeyBalancer                = "balancer"
	KeyAffinityKey             = "affinity_key"
	KeyTLSInsecureSkipVerify   = "tls_insecure_skip_verify"
)

const (
	DefaultBufferSize   = 8192
	DefaultEncoding     = "UTF-8"
	DefaultDialTimeout  = 5 * time.Second
	DefaultCloseTimeout = 2 * time.Second
	MaxLogLevel         = 7
)

// Endpoint is the parsed service address.
type Endpoint struct {
	Scheme string
	Secure bool
	Host   string // for discovery addresses: comma separated registry endpoints
	Port   int
	Path   string
}

// Discovery reports whether the endpoint names a service to look up in a
// registry instead of a host to dial.
func (e Endpoint) Discovery() bool {
	return e.Scheme == "etcd"
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Service returns the discovery service name (the path without slashes).
func (e Endpoint) Service() string {
	return strings.Trim(e.Path, "/")
}

// RegistryEndpoints splits the host list of a discovery address.
func (e Endpoint) RegistryEndpoints() []string {
	var out []string
	for _, h := range strings.Split(e.Host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func (e Endpoint) String() string {
	if e.Discovery() {
		return e.Scheme + "://" + e.Host + e.Path
	}
	return e.Scheme + "://" + e.Addr() + e.Path
}

// Config is the resolved session configuration.
type Config struct {
	Address                 string
	Endpoint                Endpoint
	UsePersistentConnection bool
	PreferValues            bool
	LogLevel                *int
	SendBufferSize          int
	RecvBufferSize          int
	DisableAutoload         bool
	CharacterEncoding       string
	Codec                   codec.CodecType
	DialTimeout             time.Duration
	DialRetries             int
	CloseTimeout            time.Duration
	MaxCallsPerSecond       float64
	RateBurst               int
	Balancer                string
	AffinityKey             string
	TLSInsecureSkipVerify   bool
}

// Default returns a Config with every tunable at its default and no address.
func Default() *Config {
	return &Config{
		PreferValues:      true,
		SendBufferSize:    DefaultBufferSize,
		RecvBufferSize:    DefaultBufferSize,
		CharacterEncoding: DefaultEncoding,
		Codec:             codec.CodecTypeXML,
		DialTimeout:       DefaultDialTimeout,
		CloseTimeout:      DefaultCloseTimeout,
		RateBurst:         1,
		Balancer:          "round_robin",
	}
}

// Parse builds a Config from an option map.
func Parse(options map[string]any) (*Config, error) {
	cfg := Default()
	p := parser{options: options}

	address := p.str(KeyAddress, "")
	if strings.TrimSpace(address) == "" {
		return nil, fault.New(fault.KindConfiguration, "missing required option %q", KeyAddress)
	}
	endpoint, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	cfg.Address = address
	cfg.Endpoint = endpoint

	cfg.UsePersistentConnection = p.boolean(KeyUsePersistentConnection, cfg.UsePersistentConnection)
	cfg.PreferValues = p.boolean(KeyPreferValues, cfg.PreferValues)
	cfg.SendBufferSize = p.integer(KeySendBufferSize, cfg.SendBufferSize)
	cfg.RecvBufferSize = p.integer(KeyRecvBufferSize, cfg.RecvBufferSize)
	cfg.DisableAutoload = p.boolean(KeyDisableAutoload, cfg.DisableAutoload)
	cfg.CharacterEncoding = p.str(KeyCharacterEncoding, cfg.CharacterEncoding)
	cfg.DialTimeout = p.duration(KeyDialTimeout, cfg.DialTimeout)
	cfg.DialRetries = p.integer(KeyDialRetries, cfg.DialRetries)
	cfg.CloseTimeout = p.duration(KeyCloseTimeout, cfg.CloseTimeout)
	cfg.MaxCallsPerSecond = p.float(KeyMaxCallsPerSecond, cfg.MaxCallsPerSecond)
	cfg.RateBurst = p.integer(KeyRateBurst, cfg.RateBurst)
	cfg.Balancer = p.str(KeyBalancer, cfg.Balancer)
	cfg.AffinityKey = p.str(KeyAffinityKey, cfg.AffinityKey)
	cfg.TLSInsecureSkipVerify = p.boolean(KeyTLSInsecureSkipVerify, cfg.TLSInsecureSkipVerify)

	if v, ok := options[KeyLogLevel]; ok && v != nil {
		level := p.integer(KeyLogLevel, 0)
		cfg.LogLevel = &level
	}
	if name := p.str(KeyCodec, ""); name != "" {
		ct, err := codec.ParseCodecType(name)
		if err != nil {
			p.fail(KeyCodec, err)
		}
		cfg.Codec = ct
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that Parse cannot express through types.
func (c *Config) Validate() error {
	if c.SendBufferSize <= 0 || c.RecvBufferSize <= 0 {
		return fault.New(fault.KindConfiguration, "buffer sizes must be positive (send=%d recv=%d)", c.SendBufferSize, c.RecvBufferSize)
	}
	if c.LogLevel != nil && (*c.LogLevel < 0 || *c.LogLevel > MaxLogLevel) {
		return fault.New(fault.KindConfiguration, "log_level %d out of range 0..%d", *c.LogLevel, MaxLogLevel)
	}
	if c.DialRetries < 0 {
		return fault.New(fault.KindConfiguration, "dial_retries must not be negative")
	}
	if c.MaxCallsPerSecond < 0 {
		return fault.New(fault.KindConfiguration, "max_calls_per_second must not be negative")
	}
	if c.RateBurst < 1 {
		return fault.New(fault.KindConfiguration, "rate_burst must be at least 1")
	}
	if c.CloseTimeout <= 0 {
		return fault.New(fault.KindConfiguration, "close_timeout must be positive, got %s", c.CloseTimeout)
	}
	switch c.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		return fault.New(fault.KindConfiguration, "unknown balancer %q", c.Balancer)
	}
	return nil
}

// ParseAddress splits a service URL into its endpoint parts.
// https, tls and ssl select a secured transport; anything else is plaintext.
func ParseAddress(address string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return Endpoint{}, fault.Wrap(err, fault.KindConfiguration, fmt.Sprintf("cannot parse address %q", address))
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fault.New(fault.KindConfiguration, "cannot parse address %q: scheme and host required", address)
	}

	e := Endpoint{Scheme: strings.ToLower(u.Scheme), Path: u.Path}
	switch e.Scheme {
	case "https", "tls", "ssl":
		e.Secure = true
	}

	if e.Discovery() {
		e.Host = u.Host
		if e.Service() == "" {
			return Endpoint{}, fault.New(fault.KindConfiguration, "discovery address %q names no service", address)
		}
		return e, nil
	}

	e.Host = u.Hostname()
	if e.Host == "" {
		return Endpoint{}, fault.New(fault.KindConfiguration, "address %q has no host", address)
	}
	switch port := u.Port(); {
	case port != "":
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fault.New(fault.KindConfiguration, "address %q has an invalid port", address)
		}
		e.Port = n
	case e.Scheme == "http":
		e.Port = 80
	case e.Scheme == "https":
		e.Port = 443
	default:
		return Endpoint{}, fault.New(fault.KindConfiguration, "address %q has no port", address)
	}
	return e, nil
}

// parser reads typed options, keeping the first conversion error.
type parser struct {
	options map[string]any
	err     error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fault.Wrap(err, fault.KindConfiguration, fmt.Sprintf("option %q", key))
	}
}

func (p *parser) str(key, def string) string {
	v, ok := p.options[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.options[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			p.fail(key, err)
			return def
		}
		return b
	default:
		p.fail(key, fmt.Errorf("want bool, got %T", v))
		return def
	}
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.options[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		if t != float64(int(t)) {
			p.fail(key, fmt.Errorf("want integer, got %v", t))
			return def
		}
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			p.fail(key, err)
			return def
		}
		return n
	default:
		p.fail(key, fmt.Errorf("want integer, got %T", v))
		return def
	}
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.options[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			p.fail(key, err)
			return def
		}
		return f
	default:
		p.fail(key, fmt.Errorf("want number, got %T", v))
		return def
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.options[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case time.Duration:
		return t
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			p.fail(key, err)
			return def
		}
		return d
	case int:
		// bare numbers are milliseconds
		return time.Duration(t) * time.Millisecond
	default:
		p.fail(key, fmt.Errorf("want duration, got %T", v))
		return def
	}
}
