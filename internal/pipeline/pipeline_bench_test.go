package pipeline

import (
	"context"
	"fmt"
	"testing"

	"parabatch/internal/batch"
	"parabatch/internal/diag"
	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/pkg/contract"
	"parabatch/plugins/remote/mock"
)

// BenchmarkProcess 衡量规划、分配、对账与写回的本地开销（远端为零延迟回显）。
func BenchmarkProcess(b *testing.B) {
	for _, n := range []int{50, 500} {
		b.Run(fmt.Sprintf("items=%d", n), func(b *testing.B) {
			m, _ := mock.New(nil)
			p := mode.Defaults()[contract.ModeDual]
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				items := workItems(n, 120)
				e := &Engine{
					Remote:  m,
					Health:  health.NewTracker(m, diag.NewNop()),
					Profile: p,
					Limits:  batch.Limits{MaxItems: 80, MaxWords: 2200},
					Logger:  diag.NewNop(),
				}
				if _, err := e.Process(context.Background(), items); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
