package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS template_rules (
	template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	rule_index  INTEGER NOT NULL,
	family      TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	weight      REAL NOT NULL,
	enabled     INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (template_id, rule_index)
);

CREATE INDEX IF NOT EXISTS idx_template_rules_family ON template_rules(template_id, family);
CREATE INDEX IF NOT EXISTS idx_templates_industry ON templates(industry, updated_at);

CREATE TABLE IF NOT EXISTS template_performance (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	revision    INTEGER NOT NULL,
	accuracy    REAL NOT NULL,
	records     INTEGER NOT NULL,
	document    TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_template_performance_template ON template_performance(template_id, id);

CREATE TABLE IF NOT EXISTS schemas (
	fingerprint TEXT PRIMARY KEY,
	industry    TEXT NOT NULL,
	document    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// SQLite is a Store backed by a local SQLite database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Writes are serialized by SQLite anyway.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) GetTemplate(ctx context.Context, id string) (*taxonomy.Template, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM templates WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get template", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get template", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_index, family, priority, weight, enabled, payload
		FROM template_rules WHERE template_id = ? ORDER BY rule_index`, id)
	if err != nil {
		return nil, wrap("get template rules", id, err)
	}
	defer rows.Close()

	var rules []ruleRow
	for rows.Next() {
		var (
			r       ruleRow
			payload string
		)
		if err := rows.Scan(&r.Index, &r.Family, &r.Priority, &r.Weight, &r.Enabled, &payload); err != nil {
			return nil, wrap("scan template rule", id, err)
		}
		r.Payload = []byte(payload)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get template rules", id, err)
	}

	tpl, err := decodeTemplate([]byte(doc), rules)
	return tpl, wrap("decode template", id, err)
}

func (s *SQLite) PutTemplate(ctx context.Context, tpl *taxonomy.Template) error {
	doc, rules, err := encodeTemplate(tpl)
	if err != nil {
		return wrap("put template", "", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("put template", tpl.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (id, industry, revision, document, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			industry = excluded.industry,
			revision = excluded.revision,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		tpl.ID, tpl.Industry, tpl.Revision, string(doc), timestamp(tpl.UpdatedAt))
	if err != nil {
		return wrap("put template", tpl.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM template_rules WHERE template_id = ?`, tpl.ID); err != nil {
		return wrap("put template rules", tpl.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO template_rules (template_id, rule_index, family, priority, weight, enabled, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrap("put template rules", tpl.ID, err)
	}
	defer stmt.Close()

	for _, r := range rules {
		if _, err := stmt.ExecContext(ctx, tpl.ID, r.Index, r.Family, r.Priority, r.Weight, r.Enabled, string(r.Payload)); err != nil {
			return wrap("put template rules", tpl.ID, err)
		}
	}

	return wrap("put template", tpl.ID, tx.Commit())
}

func (s *SQLite) ListTemplates(ctx context.Context, industry string) ([]*taxonomy.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM templates
		WHERE ? = '' OR industry = ?
		ORDER BY updated_at DESC, id`, industry, industry)
	if err != nil {
		return nil, wrap("list templates", industry, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrap("list templates", industry, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("list templates", industry, err)
	}

	out := make([]*taxonomy.Template, 0, len(ids))
	for _, id := range ids {
		tpl, err := s.GetTemplate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Replaced or removed since the id query.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

func (s *SQLite) AddPerformance(ctx context.Context, p *taxonomy.Performance) error {
	doc, err := encodePerformance(p)
	if err != nil {
		return wrap("add performance", "", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO template_performance (template_id, revision, accuracy, records, document, recorded_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM templates WHERE id = ?)`,
		p.TemplateID, p.Revision, p.Accuracy, p.Records, string(doc), timestamp(p.RecordedAt), p.TemplateID)
	if err != nil {
		return wrap("add performance", p.TemplateID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("add performance", p.TemplateID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListPerformance(ctx context.Context, templateID string, limit int) ([]taxonomy.Performance, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM template_performance
		WHERE template_id = ?
		ORDER BY id DESC
		LIMIT ?`, templateID, limit)
	if err != nil {
		return nil, wrap("list performance", templateID, err)
	}
	defer rows.Close()

	var out []taxonomy.Performance
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, wrap("list performance", templateID, err)
		}
		p, err := decodePerformance([]byte(doc))
		if err != nil {
			return nil, wrap("list performance", templateID, err)
		}
		out = append(out, p)
	}
	return out, wrap("list performance", templateID, rows.Err())
}

func (s *SQLite) GetSchema(ctx context.Context, fingerprint string) (*schema.Schema, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM schemas WHERE fingerprint = ?`, fingerprint).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get schema", fingerprint, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get schema", fingerprint, err)
	}
	sch, err := decodeSchema([]byte(doc))
	return sch, wrap("decode schema", fingerprint, err)
}

func (s *SQLite) PutSchema(ctx context.Context, sch *schema.Schema) error {
	doc, err := encodeSchema(sch)
	if err != nil {
		return wrap("put schema", "", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (fingerprint, industry, document, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			industry = excluded.industry,
			document = excluded.document,
			created_at = excluded.created_at`,
		sch.Fingerprint, sch.Industry, string(doc), timestamp(sch.CreatedAt))
	return wrap("put schema", sch.Fingerprint, err)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// timestampLayout has a fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}
