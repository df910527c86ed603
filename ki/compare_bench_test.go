package ki_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sourcegraph/conc"
	concpool "github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-ki/ki"
)

// Fan-out: spawn N no-op children and wait, across the ecosystem's group
// primitives.

func BenchmarkFanOut_Native(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				var wg sync.WaitGroup
				for j_0 := 0; j_0 < n; j_0++ {
					wg.Add(1)
					go func() { wg.Done() }()
				}
				wg.Wait()
			}
		})
	}
}

func BenchmarkFanOut_Ki(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = ki.Run(context.Background(), func(ctx context.Context, s *ki.Scope) error {
					for j_1 := 0; j_1 < n; j_1++ {
						s.Go(func(context.Context) error { return nil })
					}
					return s.Wait(ctx)
				})
			}
		})
	}
}

func BenchmarkFanOut_Errgroup(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				g, _ := errgroup.WithContext(context.Background())
				for j_2 := 0; j_2 < n; j_2++ {
					g.Go(func() error { return nil })
				}
				_ = g.Wait()
			}
		})
	}
}

func BenchmarkFanOut_Conc(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				wg := conc.NewWaitGroup()
				for j_3 := 0; j_3 < n; j_3++ {
					wg.Go(func() {})
				}
				wg.Wait()
			}
		})
	}
}

func BenchmarkFanOut_ConcPool(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				p := concpool.New().WithErrors()
				for j_4 := 0; j_4 < n; j_4++ {
					p.Go(func() error { return nil })
				}
				_ = p.Wait()
			}
		})
	}
}

// Handle round-trip: spawn one child and retrieve its value.

func BenchmarkForkAwait(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = ki.RunResult(context.Background(), func(ctx context.Context, s *ki.Scope) (int, error) {
			th := ki.Fork(s, func(context.Context) (int, error) { return i, nil })
			return th.Await(ctx)
		})
	}
}
