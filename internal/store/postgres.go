package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS template_rules (
	template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	rule_index  INTEGER NOT NULL,
	family      TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	weight      DOUBLE PRECISION NOT NULL,
	enabled     BOOLEAN NOT NULL,
	payload     JSONB NOT NULL,
	PRIMARY KEY (template_id, rule_index)
);

CREATE INDEX IF NOT EXISTS idx_template_rules_family ON template_rules(template_id, family);
CREATE INDEX IF NOT EXISTS idx_templates_industry ON templates(industry, updated_at DESC);

CREATE TABLE IF NOT EXISTS template_performance (
	id          BIGSERIAL PRIMARY KEY,
	template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	revision    INTEGER NOT NULL,
	accuracy    DOUBLE PRECISION NOT NULL,
	records     INTEGER NOT NULL,
	document    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_template_performance_template ON template_performance(template_id, id DESC);

CREATE TABLE IF NOT EXISTS schemas (
	fingerprint TEXT PRIMARY KEY,
	industry    TEXT NOT NULL,
	document    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the tables if they do not exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresFromPool(ctx, pool)
}

// NewPostgresFromPool wraps an existing pool. The store takes ownership of
// the pool: it is closed on Close, or right away when the tables cannot be
// created.
func NewPostgresFromPool(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetTemplate(ctx context.Context, id string) (*taxonomy.Template, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM templates WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("get template", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get template", id, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT rule_index, family, priority, weight, enabled, payload
		FROM template_rules WHERE template_id = $1 ORDER BY rule_index`, id)
	if err != nil {
		return nil, wrap("get template rules", id, err)
	}
	defer rows.Close()

	var rules []ruleRow
	for rows.Next() {
		var r ruleRow
		if err := rows.Scan(&r.Index, &r.Family, &r.Priority, &r.Weight, &r.Enabled, &r.Payload); err != nil {
			return nil, wrap("scan template rule", id, err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get template rules", id, err)
	}

	tpl, err := decodeTemplate(doc, rules)
	return tpl, wrap("decode template", id, err)
}

func (p *Postgres) PutTemplate(ctx context.Context, tpl *taxonomy.Template) error {
	doc, rules, err := encodeTemplate(tpl)
	if err != nil {
		return wrap("put template", "", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return wrap("put template", tpl.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO templates (id, industry, revision, document, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			industry = EXCLUDED.industry,
			revision = EXCLUDED.revision,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		tpl.ID, tpl.Industry, tpl.Revision, string(doc), nonZero(tpl.UpdatedAt))
	if err != nil {
		return wrap("put template", tpl.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM template_rules WHERE template_id = $1`, tpl.ID); err != nil {
		return wrap("put template rules", tpl.ID, err)
	}

	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(`
			INSERT INTO template_rules (template_id, rule_index, family, priority, weight, enabled, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tpl.ID, r.Index, r.Family, r.Priority, r.Weight, r.Enabled, string(r.Payload))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("put template rules", tpl.ID, err)
	}

	return wrap("put template", tpl.ID, tx.Commit(ctx))
}

func (p *Postgres) ListTemplates(ctx context.Context, industry string) ([]*taxonomy.Template, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM templates
		WHERE $1 = '' OR industry = $1
		ORDER BY updated_at DESC, id`, industry)
	if err != nil {
		return nil, wrap("list templates", industry, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("list templates", industry, err)
	}

	out := make([]*taxonomy.Template, 0, len(ids))
	for _, id := range ids {
		tpl, err := p.GetTemplate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

func (p *Postgres) AddPerformance(ctx context.Context, perf *taxonomy.Performance) error {
	doc, err := encodePerformance(perf)
	if err != nil {
		return wrap("add performance", "", err)
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO template_performance (template_id, revision, accuracy, records, document, recorded_at)
		SELECT $1::text, $2::int, $3::float8, $4::int, $5::jsonb, $6::timestamptz
		WHERE EXISTS (SELECT 1 FROM templates WHERE id = $1)`,
		perf.TemplateID, perf.Revision, perf.Accuracy, perf.Records, string(doc), nonZero(perf.RecordedAt))
	if err != nil {
		return wrap("add performance", perf.TemplateID, err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("add performance", perf.TemplateID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListPerformance(ctx context.Context, templateID string, limit int) ([]taxonomy.Performance, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT document FROM template_performance
		WHERE template_id = $1
		ORDER BY id DESC
		LIMIT $2`, templateID, lim)
	if err != nil {
		return nil, wrap("list performance", templateID, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, wrap("list performance", templateID, err)
	}

	out := make([]taxonomy.Performance, 0, len(docs))
	for _, doc := range docs {
		perf, err := decodePerformance(doc)
		if err != nil {
			return nil, wrap("list performance", templateID, err)
		}
		out = append(out, perf)
	}
	return out, nil
}

func (p *Postgres) GetSchema(ctx context.Context, fingerprint string) (*schema.Schema, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM schemas WHERE fingerprint = $1`, fingerprint).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("get schema", fingerprint, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get schema", fingerprint, err)
	}
	sch, err := decodeSchema(doc)
	return sch, wrap("decode schema", fingerprint, err)
}

func (p *Postgres) PutSchema(ctx context.Context, sch *schema.Schema) error {
	doc, err := encodeSchema(sch)
	if err != nil {
		return wrap("put schema", "", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO schemas (fingerprint, industry, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE SET
			industry = EXCLUDED.industry,
			document = EXCLUDED.document,
			created_at = EXCLUDED.created_at`,
		sch.Fingerprint, sch.Industry, string(doc), nonZero(sch.CreatedAt))
	return wrap("put schema", sch.Fingerprint, err)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nonZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
