package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"bridge-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("expect instances in order, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestPickEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("k")} {
		_, err := b.Pick([]registry.ServiceInstance{})
		if !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	unweighted := []registry.ServiceInstance{{Addr: "a:1"}, {Addr: "b:1", Weight: -4}}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(unweighted)
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expect both instances reachable, got %v", seen)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("")
	for i := range testInstances {
		b.Add(testInstances[i])
	}

	// Same key should always map to the same instance
	inst1, _ := b.PickKey("user-123")
	inst2, _ := b.PickKey("user-123")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.PickKey(fmt.Sprintf("key-%d", i))
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashAffinity(t *testing.T) {
	b := NewConsistentHashBalancer("tenant-42")

	first, err := b.Pick(testInstances)
	if err != nil {
		t.Fatal(err)
	}

	// order of discovery results must not matter
	reversed := []registry.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	again, _ := b.Pick(reversed)
	if again.Addr != first.Addr {
		t.Fatalf("affinity lost: %s vs %s", first.Addr, again.Addr)
	}

	// dropping an unrelated host keeps the mapping
	var remaining []registry.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr == first.Addr || len(remaining) == 0 {
			remaining = append(remaining, inst)
		}
	}
	if len(remaining) == 2 {
		kept, _ := b.Pick(remaining)
		if kept.Addr != first.Addr {
			t.Fatalf("expect %s to survive ring change, got %s", first.Addr, kept.Addr)
		}
	}
}

func TestNew(t *testing.T) {
	cases := map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	}
	for name, want := range cases {
		b, err := New(name, "k")
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if b.Name() != want {
			t.Fatalf("%q: expect %s, got %s", name, want, b.Name())
		}
	}
	if _, err := New("random", ""); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
