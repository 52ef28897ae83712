package session

import (
	"context"

	"go.uber.org/zap"

	"bridge-rpc/loadbalance"
	"bridge-rpc/middleware"
	"bridge-rpc/registry"
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type options struct {
	logger      *zap.Logger
	registry    registry.Registry
	balancer    loadbalance.Balancer
	metrics     *middleware.Metrics
	middlewares []middleware.Middleware
	resolver    Resolver
}

// Option customizes how a session is opened.
type Option func(*options)

// WithLogger sets the logger. By default one is built from the log_level option.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry replaces the etcd registry used for discovery addresses.
func WithRegistry(r registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithBalancer replaces the balancer named by the balancer option.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithMetrics records every call in m.
func WithMetrics(m *middleware.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMiddleware appends call middleware. They run inside the built-in
// logging, rate limit and metrics middleware, in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}
