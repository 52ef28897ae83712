package proxy

import (
	"context"
	"testing"
)

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialInvoke(b *testing.B) {
	p := startPeer(b)
	inv := newInvoker(b, p, nil)
	ctx := context.Background()

	n, err := inv.Instantiate(ctx, "java.math.BigInteger", 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := inv.InvokeMethod(ctx, n, "add", n); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 共用一个会话，调用在会话锁上排队
func BenchmarkConcurrentInvoke(b *testing.B) {
	p := startPeer(b)
	inv := newInvoker(b, p, nil)
	ctx := context.Background()

	n, err := inv.Instantiate(ctx, "java.math.BigInteger", 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := inv.InvokeMethod(ctx, n, "toString"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: 类缓存命中，不走网络
func BenchmarkClassByNameCached(b *testing.B) {
	p := startPeer(b)
	inv := newInvoker(b, p, nil)
	ctx := context.Background()

	if _, err := inv.ClassByName(ctx, "java.math.BigInteger"); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := inv.ClassByName(ctx, "java.math.BigInteger"); err != nil {
			b.Fatal(err)
		}
	}
}
