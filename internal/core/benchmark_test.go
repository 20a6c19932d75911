package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// ============================================================================
// Fixtures
// ============================================================================

var benchNames = []string{"球阀", "闸阀", "蝶阀", "离心泵", "截止阀", "止回阀"}

// generateRecords builds n manufacturing records cycling through benchNames.
func generateRecords(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{
			"id":   fmt.Sprintf("m%d", i+1),
			"物料名称": benchNames[i%len(benchNames)],
			"规格型号": fmt.Sprintf("DN%d PN%d", 15+5*(i%20), 10+6*(i%3)),
			"制造商":  "天津泵业",
		}
	}
	return out
}

func newBenchService(b *testing.B, opts Options) *Service {
	b.Helper()
	opts.AutoGenerate = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.NewMemory(), vocab.MustDefault(), opts, logger)
}

// ============================================================================
// Recognition Benchmarks
// ============================================================================

// BenchmarkRecognize_Cached measures the hot path: fingerprint plus cache hit.
func BenchmarkRecognize_Cached(b *testing.B) {
	svc := newBenchService(b, Options{})
	sample := generateRecords(100)
	ctx := context.Background()
	if _, err := svc.Recognize(ctx, sample, nil); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Recognize(ctx, sample, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Classification Benchmarks
// ============================================================================

// BenchmarkClassify measures one record against a resolved template.
func BenchmarkClassify(b *testing.B) {
	svc := newBenchService(b, Options{})
	ctx := context.Background()
	sample := generateRecords(100)

	sch, err := svc.Recognize(ctx, sample, nil)
	if err != nil {
		b.Fatal(err)
	}
	tpl, err := svc.TemplateFor(ctx, sch, sample)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Classify(ctx, sample[i%len(sample)], tpl, sch)
	}
}

// BenchmarkClassifyBatch compares worker counts on a 10k record batch.
func BenchmarkClassifyBatch(b *testing.B) {
	records := generateRecords(10_000)

	for _, workers := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			svc := newBenchService(b, Options{Workers: workers})
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				res, err := svc.ClassifyBatch(ctx, records, BatchOptions{})
				if err != nil {
					b.Fatal(err)
				}
				if res.Processed != len(records) {
					b.Fatalf("processed %d of %d", res.Processed, len(records))
				}
			}
		})
	}
}

// BenchmarkClassifyParallel measures concurrent single-record classification
// sharing one template.
func BenchmarkClassifyParallel(b *testing.B) {
	svc := newBenchService(b, Options{})
	ctx := context.Background()
	sample := generateRecords(100)

	sch, err := svc.Recognize(ctx, sample, nil)
	if err != nil {
		b.Fatal(err)
	}
	tpl, err := svc.TemplateFor(ctx, sch, sample)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			svc.Classify(ctx, sample[i%len(sample)], tpl, sch)
			i++
		}
	})
}
