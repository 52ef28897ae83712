package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bridge-rpc/config"
	"bridge-rpc/fault"
	"bridge-rpc/registry"
)

// Manager owns at most one live session. Open while a session is live
// returns that session; after Close or Discard the next Open dials again.
type Manager struct {
	mu      sync.Mutex
	cfg     *config.Config
	opts    []Option
	current *Session
	// stopWatch ends the registry watch of the current session, if any.
	stopWatch context.CancelFunc
}

// NewManager returns a Manager that opens sessions with cfg and opts.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	return &Manager{cfg: cfg, opts: opts}
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide Manager. It starts unconfigured; call
// Configure before the first Open.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(nil)
	})
	return defaultManager
}

// Configure sets the configuration used by the next Open. A live session
// keeps the settings it was opened with.
func (m *Manager) Configure(cfg *config.Config, opts ...Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.opts = opts
}

// Config returns the configuration for new sessions.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Open returns the live session, opening one if there is none.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Closed() {
		return m.current, nil
	}
	m.forgetLocked()
	if m.cfg == nil {
		return nil, fault.New(fault.KindConfiguration, "session manager is not configured")
	}
	s, err := Open(ctx, m.cfg, m.opts...)
	if err != nil {
		return nil, err
	}
	m.current = s
	if m.cfg.Endpoint.Discovery() {
		m.watchLocked(s)
	}
	return s, nil
}

// watchLocked follows the registry s was discovered through and discards s
// once its host is no longer listed, so the next Open picks a live host.
// Only an injected registry is watched; the etcd client built for a single
// lookup is closed right after it.
func (m *Manager) watchLocked(s *Session) {
	o := &options{}
	for _, opt := range m.opts {
		opt(o)
	}
	if o.registry == nil {
		return
	}
	service := s.cfg.Endpoint.Service()

	ctx, cancel := context.WithCancel(context.Background())
	m.stopWatch = cancel
	updates := o.registry.Watch(ctx, service)
	go func() {
		for instances := range updates {
			if ctx.Err() != nil {
				return
			}
			if listed(instances, s.Addr()) {
				continue
			}
			s.logger.Info("bridge host left the registry", zap.String("service", service))
			m.Discard(s)
			return
		}
	}()
}

func listed(instances []registry.ServiceInstance, addr string) bool {
	for _, inst := range instances {
		if inst.Addr == addr {
			return true
		}
	}
	return false
}

// forgetLocked drops the current session and its registry watch.
func (m *Manager) forgetLocked() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.current = nil
}

// Current returns the live session or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Closed() {
		return nil
	}
	return m.current
}

// Discard drops s without the closing round-trip and forgets it if it is
// still the current session.
func (m *Manager) Discard(s *Session) {
	if s == nil {
		return
	}
	s.discard()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.forgetLocked()
	}
}

// Close closes the live session. While a call is in flight the session stays
// live. Teardown errors are swallowed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	m.current.Close()
	if m.current.Closed() {
		m.forgetLocked()
	}
	return nil
}
