package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/categorizer/internal/adapter"
	"github.com/JonMunkholm/categorizer/internal/cache"
	"github.com/JonMunkholm/categorizer/internal/engine"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/similarity"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

var (
	// ErrTemplateNotFound is returned when no template exists for an id and
	// it cannot be generated.
	ErrTemplateNotFound = fmt.Errorf("template %w", store.ErrNotFound)

	// ErrSchemaNotFound is returned when no schema exists for a fingerprint.
	ErrSchemaNotFound = fmt.Errorf("schema %w", store.ErrNotFound)
)

// Defaults applied to zero Options fields.
const (
	DefaultSampleSize        = 100
	DefaultBatchSize         = 100
	DefaultSchemaCacheSize   = 256
	DefaultTemplateCacheSize = 256
	DefaultCacheTTL          = time.Hour
)

// Options configures a Service.
type Options struct {
	// AutoGenerate creates missing templates on demand.
	AutoGenerate bool
	// SampleSize bounds how many records a batch uses for recognition.
	SampleSize int
	BatchSize  int
	Workers    int

	SchemaCacheSize   int
	TemplateCacheSize int
	CacheTTL          time.Duration

	MaxConcurrentBatches int
	BatchWait            time.Duration

	// Scorer and Adapters replace the built-in collaborators when set.
	Scorer   similarity.Scorer
	Adapters *adapter.Registry
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.SchemaCacheSize <= 0 {
		o.SchemaCacheSize = DefaultSchemaCacheSize
	}
	if o.TemplateCacheSize <= 0 {
		o.TemplateCacheSize = DefaultTemplateCacheSize
	}
	if o.CacheTTL < 0 {
		o.CacheTTL = 0
	} else if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	return o
}

// Service coordinates recognition, template generation and classification.
// Schemas and templates it returns are shared and must not be modified.
type Service struct {
	opts   Options
	logger *slog.Logger

	vocab      *vocab.Vocabulary
	recognizer *schema.Recognizer
	generator  *taxonomy.Generator
	engine     *engine.Engine
	adapters   *adapter.Registry
	store      store.Store
	limiter    *BatchLimiter

	schemas   cache.Cache[string, *schema.Schema]
	templates cache.Cache[string, *taxonomy.Template]

	// flight collapses concurrent cache misses for one key; locks serializes
	// template writes per id.
	flight singleflight.Group
	locks  keyedMutex

	now func() time.Time
}

// NewService creates a Service over st using vocabulary v.
func NewService(st store.Store, v *vocab.Vocabulary, opts Options, logger *slog.Logger) *Service {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	adapters := opts.Adapters
	if adapters == nil {
		adapters = adapter.NewDefaultRegistry(v)
	}

	return &Service{
		opts:       opts,
		logger:     logger,
		vocab:      v,
		recognizer: schema.NewRecognizer(v, logger),
		generator:  taxonomy.NewGenerator(v, logger),
		engine:     engine.New(opts.Scorer, logger),
		adapters:   adapters,
		store:      st,
		limiter:    NewBatchLimiter(opts.MaxConcurrentBatches, opts.BatchWait),
		schemas:    cache.NewLRU[string, *schema.Schema](opts.SchemaCacheSize, opts.CacheTTL),
		templates:  cache.NewLRU[string, *taxonomy.Template](opts.TemplateCacheSize, opts.CacheTTL),
		now:        time.Now,
	}
}

// Limiter exposes the batch limiter for graceful shutdown.
func (s *Service) Limiter() *BatchLimiter {
	return s.limiter
}

// Recognize returns the schema for sample, reusing a cached or stored schema
// with the same structural fingerprint.
func (s *Service) Recognize(ctx context.Context, sample []record.Record, metadata map[string]string) (*schema.Schema, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", schema.ErrInvalidInput)
	}
	fp := record.Fingerprint(sample, metadata)
	if sch, ok := s.schemas.Get(fp); ok {
		return sch, nil
	}

	v, err, _ := s.flight.Do("schema:"+fp, func() (any, error) {
		if sch, ok := s.schemas.Get(fp); ok {
			return sch, nil
		}

		sch, err := s.store.GetSchema(ctx, fp)
		switch {
		case err == nil:
			s.schemas.Add(fp, sch)
			return sch, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("load schema: %w", err)
		}

		sch, err = s.recognizer.Infer(sample, metadata)
		if err != nil {
			return nil, err
		}
		if err := s.store.PutSchema(ctx, sch); err != nil {
			return nil, fmt.Errorf("save schema: %w", err)
		}
		s.schemas.Add(fp, sch)
		return sch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema.Schema), nil
}

// Schema returns a previously recognized schema by fingerprint.
func (s *Service) Schema(ctx context.Context, fingerprint string) (*schema.Schema, error) {
	if sch, ok := s.schemas.Get(fingerprint); ok {
		return sch, nil
	}
	sch, err := s.store.GetSchema(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	s.schemas.Add(fingerprint, sch)
	return sch, nil
}

// GenerateTemplate builds, persists and caches a template for sch, replacing
// any existing template with the same id.
func (s *Service) GenerateTemplate(ctx context.Context, sch *schema.Schema, existing []taxonomy.Node, sample []record.Record) (*taxonomy.Template, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: nil schema", schema.ErrInvalidInput)
	}
	id := taxonomy.TemplateID(sch.Industry, sch.SourceID)

	unlock := s.locks.Lock(id)
	defer unlock()
	return s.generateLocked(ctx, sch, existing, sample)
}

// generateLocked must be called with the template id's lock held.
func (s *Service) generateLocked(ctx context.Context, sch *schema.Schema, existing []taxonomy.Node, sample []record.Record) (*taxonomy.Template, error) {
	tpl, err := s.generator.Generate(sch, existing, sample)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	s.templates.Remove(tpl.ID)
	s.templates.Add(tpl.ID, tpl)
	return tpl, nil
}

// Template returns a stored template by id.
func (s *Service) Template(ctx context.Context, id string) (*taxonomy.Template, error) {
	if tpl, ok := s.templates.Get(id); ok {
		return tpl, nil
	}
	v, err, _ := s.flight.Do("template:"+id, func() (any, error) {
		return s.loadTemplate(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*taxonomy.Template), nil
}

func (s *Service) loadTemplate(ctx context.Context, id string) (*taxonomy.Template, error) {
	if tpl, ok := s.templates.Get(id); ok {
		return tpl, nil
	}
	tpl, err := s.store.GetTemplate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	s.templates.Add(id, tpl)
	return tpl, nil
}

// TemplateFor returns the template for sch, generating it from sample when
// none exists and auto-generation is enabled. Concurrent misses for the same
// template share one generation.
func (s *Service) TemplateFor(ctx context.Context, sch *schema.Schema, sample []record.Record) (*taxonomy.Template, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: nil schema", schema.ErrInvalidInput)
	}
	id := taxonomy.TemplateID(sch.Industry, sch.SourceID)
	if tpl, ok := s.templates.Get(id); ok {
		return tpl, nil
	}

	// Plain lookups share "template:"+id and may report not-found, so
	// generating callers flight under their own key.
	v, err, _ := s.flight.Do("template-auto:"+id, func() (any, error) {
		tpl, err := s.loadTemplate(ctx, id)
		if err == nil || !errors.Is(err, ErrTemplateNotFound) || !s.opts.AutoGenerate {
			return tpl, err
		}

		unlock := s.locks.Lock(id)
		defer unlock()
		// A GenerateTemplate call may have won the lock first.
		if tpl, ok := s.templates.Get(id); ok {
			return tpl, nil
		}
		logging.Enrich(ctx, s.logger).Info("generating missing template", "template_id", id)
		return s.generateLocked(ctx, sch, nil, sample)
	})
	if err != nil {
		return nil, err
	}
	return v.(*taxonomy.Template), nil
}

// ListTemplates returns the stored templates of industry, most recently
// updated first. An empty industry lists all templates.
func (s *Service) ListTemplates(ctx context.Context, industry string) ([]*taxonomy.Template, error) {
	if industry != "" {
		if _, err := s.vocab.Industry(industry); err != nil {
			return nil, err
		}
	}
	tpls, err := s.store.ListTemplates(ctx, industry)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// RecordPerformance appends reviewed results to the history of the
// template's current revision.
func (s *Service) RecordPerformance(ctx context.Context, id string, fb taxonomy.Feedback) (*taxonomy.Performance, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.recordLocked(ctx, current, fb)
}

func (s *Service) recordLocked(ctx context.Context, tpl *taxonomy.Template, fb taxonomy.Feedback) (*taxonomy.Performance, error) {
	p := &taxonomy.Performance{
		TemplateID:   tpl.ID,
		Revision:     tpl.Revision,
		Accuracy:     fb.Accuracy,
		Records:      fb.Records,
		CommonErrors: fb.CommonErrors,
		RecordedAt:   s.now().UTC(),
	}
	if err := s.store.AddPerformance(ctx, p); err != nil {
		return nil, fmt.Errorf("record performance: %w", err)
	}
	return p, nil
}

// Performance returns a template's recorded history, newest first. A limit
// <= 0 returns every entry.
func (s *Service) Performance(ctx context.Context, id string, limit int) ([]taxonomy.Performance, error) {
	if _, err := s.Template(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.store.ListPerformance(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	return history, nil
}

// OptimizeTemplate records fb against the template's current revision and
// stores a new revision adjusted by everything recorded for that revision.
func (s *Service) OptimizeTemplate(ctx context.Context, id string, fb taxonomy.Feedback) (*taxonomy.Template, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	// Bypass the flight group: a TemplateFor in flight may be waiting on
	// this lock.
	current, err := s.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.recordLocked(ctx, current, fb); err != nil {
		return nil, err
	}
	history, err := s.store.ListPerformance(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	var sameRevision []taxonomy.Performance
	for _, p := range history {
		if p.Revision == current.Revision {
			sameRevision = append(sameRevision, p)
		}
	}
	combined := taxonomy.Aggregate(sameRevision)

	next := taxonomy.Optimize(current, combined, s.now())
	if err := s.store.PutTemplate(ctx, next); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	s.templates.Remove(id)
	s.templates.Add(id, next)

	logging.Enrich(ctx, s.logger).Info("template optimized",
		"template_id", id,
		"revision", next.Revision,
		"threshold", next.Threshold,
		"accuracy", combined.Accuracy,
		"reviews", len(sameRevision),
	)
	return next, nil
}

// ClearCaches drops every cached schema and template. Later lookups read
// through to the store.
func (s *Service) ClearCaches(ctx context.Context) {
	schemas, templates := s.schemas.Len(), s.templates.Len()
	s.schemas.Purge()
	s.templates.Purge()
	logging.Enrich(ctx, s.logger).Info("caches cleared",
		"schemas", schemas,
		"templates", templates,
	)
}

// Classify classifies one record against tpl. It never fails: records that
// cannot be normalized yield a degraded result. A record without an id gets
// a random one.
func (s *Service) Classify(ctx context.Context, rec record.Record, tpl *taxonomy.Template, sch *schema.Schema) engine.Result {
	return s.classify(ctx, rec, uuid.NewString(), tpl, sch)
}

func (s *Service) classify(ctx context.Context, rec record.Record, fallbackID string, tpl *taxonomy.Template, sch *schema.Schema) engine.Result {
	id := rec.ID()
	if id == "" {
		id = fallbackID
	}
	var schemaConfidence float64
	if sch != nil {
		schemaConfidence = sch.Confidence
	}
	if tpl == nil {
		return engine.FailedResult(id, nil, schemaConfidence, ErrTemplateNotFound)
	}

	norm := s.adapters.For(tpl.Industry)
	if norm == nil {
		return engine.FailedResult(id, tpl, schemaConfidence, fmt.Errorf("%w: %s", vocab.ErrUnknownIndustry, tpl.Industry))
	}
	feats, err := norm.Normalize(rec, tpl.FieldMapping)
	if err != nil {
		return engine.FailedResult(id, tpl, schemaConfidence, err)
	}
	feats.RecordID = id

	return s.engine.Classify(ctx, feats, tpl, sch)
}

// ClassifyRecord recognizes, resolves the template for and classifies a
// single record, treating it as its own sample.
func (s *Service) ClassifyRecord(ctx context.Context, rec record.Record, metadata map[string]string) engine.Result {
	id := rec.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if rec.Malformed() {
		return engine.FailedResult(id, nil, 0, adapter.ErrMalformedRecord)
	}

	sample := []record.Record{rec}
	sch, err := s.Recognize(ctx, sample, metadata)
	if err != nil {
		return engine.FailedResult(id, nil, 0, err)
	}
	tpl, err := s.TemplateFor(ctx, sch, sample)
	if err != nil {
		return engine.FailedResult(id, nil, sch.Confidence, err)
	}
	return s.classify(ctx, rec, id, tpl, sch)
}

// Stats is a snapshot of the service's caches and limiter.
type Stats struct {
	CachedSchemas   int                `json:"cached_schemas"`
	CachedTemplates int                `json:"cached_templates"`
	Industries      []string           `json:"industries"`
	Adapters        []string           `json:"adapters"`
	Batches         BatchLimiterStatus `json:"batches"`
	AutoGenerate    bool               `json:"auto_generate"`
}

// Stats reports cache sizes, supported industries and limiter state.
func (s *Service) Stats() Stats {
	return Stats{
		CachedSchemas:   s.schemas.Len(),
		CachedTemplates: s.templates.Len(),
		Industries:      s.vocab.Names(),
		Adapters:        s.adapters.Industries(),
		Batches:         s.limiter.Status(),
		AutoGenerate:    s.opts.AutoGenerate,
	}
}

// keyedMutex hands out one mutex per key, dropping it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
