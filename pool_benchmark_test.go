package unirpc

import (
	"context"
	"testing"
	"time"
)

// BenchmarkPool_AcquireRelease measures the warm path: the session is
// always available.
func BenchmarkPool_AcquireRelease(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			c := newPipeConstructor(b)
			config := poolConfig(1, 1, time.Second)
			p, err := factory(config.Key(), c.new, config)
			if err != nil {
				b.Fatal(err)
			}
			defer p.Close()

			ctx := context.Background()
			for b.Loop() {
				s, err := p.Acquire(ctx)
				if err != nil {
					b.Fatal(err)
				}
				p.Release(s)
			}
		})
	}
}

func BenchmarkPool_AcquireReleaseParallel(b *testing.B) {
	for name, factory := range poolFactories {
		b.Run(name, func(b *testing.B) {
			c := newPipeConstructor(b)
			config := poolConfig(4, 4, 10*time.Second)
			p, err := factory(config.Key(), c.new, config)
			if err != nil {
				b.Fatal(err)
			}
			defer p.Close()

			b.RunParallel(func(pb *testing.PB) {
				ctx := context.Background()
				for pb.Next() {
					s, err := p.Acquire(ctx)
					if err != nil {
						b.Error(err)
						return
					}
					p.Release(s)
				}
			})
		})
	}
}
