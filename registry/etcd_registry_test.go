package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// EnvEtcdEndpoints enables the etcd round trip, e.g. "localhost:2379".
const envEtcdEndpoints = "BRIDGE_ETCD_ENDPOINTS"

func TestRegisterAndDiscover(t *testing.T) {
	raw := os.Getenv(envEtcdEndpoints)
	if raw == "" {
		t.Skipf("%s not set", envEtcdEndpoints)
	}

	reg, err := NewEtcdRegistry(strings.Split(raw, ","), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Register two instances
	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "7.2"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "7.2", Secure: true}

	if err := reg.Register(ctx, "JavaBridge", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "JavaBridge", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "JavaBridge")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "JavaBridge", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "JavaBridge")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr || !instances[0].Secure {
		t.Fatalf("expect secure %s, got %+v", inst2.Addr, instances[0])
	}

	reg.Deregister(ctx, "JavaBridge", inst2.Addr)
}
