package session

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"

	"bridge-rpc/config"
	"bridge-rpc/fault"
	"bridge-rpc/loadbalance"
	"bridge-rpc/registry"
)

// target is the concrete host a session dials.
type target struct {
	host   string
	port   int
	secure bool
}

func (t target) addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// resolveTarget picks the host for cfg. Discovery addresses go through the
// registry and balancer; anything else is dialed as configured.
func resolveTarget(ctx context.Context, cfg *config.Config, o *options, logger *zap.Logger) (target, error) {
	if !cfg.Endpoint.Discovery() {
		return target{host: cfg.Endpoint.Host, port: cfg.Endpoint.Port, secure: cfg.Endpoint.Secure}, nil
	}

	reg := o.registry
	if reg == nil {
		etcd, err := registry.NewEtcdRegistry(cfg.Endpoint.RegistryEndpoints(), logger)
		if err != nil {
			return target{}, fault.Wrap(err, fault.KindConfiguration, "cannot create etcd registry")
		}
		defer etcd.Close()
		reg = etcd
	}

	service := cfg.Endpoint.Service()
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return target{}, fault.Wrap(err, fault.KindBrokenConnection, "discover "+service)
	}
	if len(instances) == 0 {
		return target{}, fault.New(fault.KindConfiguration, "no bridge host registered for %q", service)
	}

	bal := o.balancer
	if bal == nil {
		if bal, err = loadbalance.New(cfg.Balancer, cfg.AffinityKey); err != nil {
			return target{}, fault.Wrap(err, fault.KindConfiguration, "balancer")
		}
	}
	inst, err := bal.Pick(instances)
	if err != nil {
		return target{}, fault.Wrap(err, fault.KindConfiguration, "pick bridge host")
	}

	host, portText, err := net.SplitHostPort(inst.Addr)
	if err != nil {
		return target{}, fault.Wrap(err, fault.KindConfiguration, "registered address "+inst.Addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return target{}, fault.Wrap(err, fault.KindConfiguration, "registered address "+inst.Addr)
	}
	logger.Debug("discovered bridge host",
		zap.String("service", service),
		zap.String("addr", inst.Addr),
		zap.String("balancer", bal.Name()),
		zap.Int("candidates", len(instances)))
	return target{host: host, port: port, secure: inst.Secure || cfg.Endpoint.Secure}, nil
}

// resolveHost returns an address to dial for host. Literal IPs skip the lookup.
func resolveHost(ctx context.Context, r Resolver, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", fault.Wrap(err, fault.KindConfiguration, "cannot resolve host "+host)
	}
	if len(addrs) == 0 {
		return "", fault.New(fault.KindConfiguration, "cannot resolve host %s: no addresses", host)
	}
	return addrs[0], nil
}
