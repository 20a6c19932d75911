package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/categorizer/internal/engine"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

// maxReportedErrors caps ErrorSummary.FirstErrors.
const maxReportedErrors = 10

// BatchOptions controls one ClassifyBatch call. Zero values fall back to the
// service defaults; a nil Schema or Template is resolved from the records.
type BatchOptions struct {
	Schema    *schema.Schema
	Template  *taxonomy.Template
	Metadata  map[string]string
	BatchSize int
	Workers   int
}

// ErrorSummary describes the failures of a batch.
type ErrorSummary struct {
	ErrorRate     float64  `json:"error_rate"`
	LowConfidence int      `json:"low_confidence"`
	FirstErrors   []string `json:"first_errors,omitempty"`
}

// BatchResult aggregates the outcome of a batch.
type BatchResult struct {
	BatchID           string          `json:"batch_id"`
	SchemaFingerprint string          `json:"schema_fingerprint,omitempty"`
	TemplateID        string          `json:"template_id,omitempty"`
	Total             int             `json:"total"`
	Processed         int             `json:"processed"`
	Succeeded         int             `json:"succeeded"`
	Failed            int             `json:"failed"`
	AverageConfidence float64         `json:"average_confidence"`
	Categories        map[string]int  `json:"category_histogram"`
	Industries        map[string]int  `json:"industry_histogram"`
	Truncated         bool            `json:"truncated"`
	Elapsed           time.Duration   `json:"elapsed_ns"`
	Errors            ErrorSummary    `json:"error_summary"`
	Results           []engine.Result `json:"results"`
}

// ClassifyBatch classifies records in chunks processed concurrently, keeping
// input order in the results. It only fails when no batch slot is available
// or ctx ends before work starts; record failures are counted instead.
// Cancellation is checked before each chunk starts: chunks already running
// complete, results stop at the first chunk that did not run and the result
// is marked Truncated.
func (s *Service) ClassifyBatch(ctx context.Context, records []record.Record, opts BatchOptions) (*BatchResult, error) {
	start := time.Now()

	release, err := s.limiter.Admit(ctx, len(records))
	if err != nil {
		return nil, err
	}
	defer release()

	batchID := uuid.NewString()
	ctx = logging.WithBatchID(ctx, batchID)
	logger := logging.Enrich(ctx, s.logger)

	res := &BatchResult{
		BatchID:    batchID,
		Total:      len(records),
		Categories: make(map[string]int),
		Industries: make(map[string]int),
	}

	sch, tpl, setupErr := s.resolveBatch(ctx, records, opts)
	if sch != nil {
		res.SchemaFingerprint = sch.Fingerprint
	}
	if tpl != nil {
		res.TemplateID = tpl.ID
	}
	if setupErr != nil {
		logger.Warn("batch setup failed, marking records failed", "error", setupErr)
	}

	size := opts.BatchSize
	if size <= 0 {
		size = s.opts.BatchSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = s.opts.Workers
	}

	results := make([]engine.Result, len(records))
	chunks := (len(records) + size - 1) / size
	// done[c] is set by the goroutine of chunk c once all its records are
	// classified.
	done := make([]bool, chunks)

	var g errgroup.Group
	g.SetLimit(workers)
	for c := 0; c < chunks; c++ {
		if ctx.Err() != nil {
			break
		}
		lo := c * size
		hi := min(lo+size, len(records))

		g.Go(func() error {
			// A chunk queued behind a full pool may start after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			for i := lo; i < hi; i++ {
				id := fmt.Sprintf("row-%d", i+1)
				if setupErr != nil {
					rid := records[i].ID()
					if rid == "" {
						rid = id
					}
					results[i] = engine.FailedResult(rid, tpl, confidenceOf(sch), setupErr)
					continue
				}
				results[i] = s.classify(ctx, records[i], id, tpl, sch)
			}
			done[c] = true
			return nil
		})
	}
	_ = g.Wait()

	// Results are reported up to the first chunk that did not run.
	processed := 0
	for c := 0; c < chunks; c++ {
		if !done[c] {
			res.Truncated = true
			break
		}
		processed = min((c+1)*size, len(records))
	}

	res.Results = results[:processed]
	res.summarize()
	res.Elapsed = time.Since(start)

	logger.Info("batch classified",
		"total", res.Total,
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"truncated", res.Truncated,
		"average_confidence", res.AverageConfidence,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// resolveBatch finds the schema and template for a batch. The sample is the
// leading well-formed records, at most SampleSize of them.
func (s *Service) resolveBatch(ctx context.Context, records []record.Record, opts BatchOptions) (*schema.Schema, *taxonomy.Template, error) {
	sch, tpl := opts.Schema, opts.Template
	if sch != nil && tpl != nil {
		return sch, tpl, nil
	}

	var sample []record.Record
	for _, r := range records {
		if len(sample) == s.opts.SampleSize {
			break
		}
		if !r.Malformed() {
			sample = append(sample, r)
		}
	}

	if sch == nil {
		var err error
		if sch, err = s.Recognize(ctx, sample, opts.Metadata); err != nil {
			return nil, tpl, fmt.Errorf("recognize batch: %w", err)
		}
	}
	if tpl == nil {
		var err error
		if tpl, err = s.TemplateFor(ctx, sch, sample); err != nil {
			return sch, nil, fmt.Errorf("resolve template: %w", err)
		}
	}
	return sch, tpl, nil
}

func confidenceOf(sch *schema.Schema) float64 {
	if sch == nil {
		return 0
	}
	return sch.Confidence
}

// summarize fills the counters and histograms from Results.
func (r *BatchResult) summarize() {
	r.Processed = len(r.Results)

	var confidenceSum float64
	for _, res := range r.Results {
		if res.Failed() {
			r.Failed++
			if len(r.Errors.FirstErrors) < maxReportedErrors {
				r.Errors.FirstErrors = append(r.Errors.FirstErrors, res.RecordID+": "+res.Error)
			}
			continue
		}
		r.Succeeded++
		confidenceSum += res.Confidence
		r.Categories[res.Category.String()]++
		if res.Industry != "" {
			r.Industries[res.Industry]++
		}
		if res.BelowThreshold {
			r.Errors.LowConfidence++
		}
	}

	if r.Succeeded > 0 {
		r.AverageConfidence = confidenceSum / float64(r.Succeeded)
	}
	if r.Processed > 0 {
		r.Errors.ErrorRate = float64(r.Failed) / float64(r.Processed)
	}
}
