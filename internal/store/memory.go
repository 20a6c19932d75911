package store

import (
	"context"
	"sync"

	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

type templateEntry struct {
	doc   []byte
	rules []ruleRow
}

// Memory is an in-process Store. Documents are kept encoded so callers never
// share state with the store.
type Memory struct {
	mu          sync.RWMutex
	templates   map[string]templateEntry
	schemas     map[string][]byte
	performance map[string][][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		templates:   make(map[string]templateEntry),
		schemas:     make(map[string][]byte),
		performance: make(map[string][][]byte),
	}
}

func (m *Memory) GetTemplate(ctx context.Context, id string) (*taxonomy.Template, error) {
	m.mu.RLock()
	e, ok := m.templates[id]
	m.mu.RUnlock()
	if !ok {
		return nil, wrap("get template", id, ErrNotFound)
	}
	tpl, err := decodeTemplate(e.doc, e.rules)
	return tpl, wrap("get template", id, err)
}

func (m *Memory) PutTemplate(ctx context.Context, tpl *taxonomy.Template) error {
	doc, rows, err := encodeTemplate(tpl)
	if err != nil {
		return wrap("put template", "", err)
	}
	m.mu.Lock()
	m.templates[tpl.ID] = templateEntry{doc: doc, rules: rows}
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListTemplates(ctx context.Context, industry string) ([]*taxonomy.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*taxonomy.Template
	for id, e := range m.templates {
		tpl, err := decodeTemplate(e.doc, e.rules)
		if err != nil {
			return nil, wrap("list templates", id, err)
		}
		if industry == "" || tpl.Industry == industry {
			out = append(out, tpl)
		}
	}
	newestFirst(out)
	return out, nil
}

func (m *Memory) AddPerformance(ctx context.Context, p *taxonomy.Performance) error {
	doc, err := encodePerformance(p)
	if err != nil {
		return wrap("add performance", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[p.TemplateID]; !ok {
		return wrap("add performance", p.TemplateID, ErrNotFound)
	}
	m.performance[p.TemplateID] = append(m.performance[p.TemplateID], doc)
	return nil
}

func (m *Memory) ListPerformance(ctx context.Context, templateID string, limit int) ([]taxonomy.Performance, error) {
	m.mu.RLock()
	docs := m.performance[templateID]
	m.mu.RUnlock()

	var out []taxonomy.Performance
	for i := len(docs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		p, err := decodePerformance(docs[i])
		if err != nil {
			return nil, wrap("list performance", templateID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) GetSchema(ctx context.Context, fingerprint string) (*schema.Schema, error) {
	m.mu.RLock()
	doc, ok := m.schemas[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return nil, wrap("get schema", fingerprint, ErrNotFound)
	}
	sch, err := decodeSchema(doc)
	return sch, wrap("get schema", fingerprint, err)
}

func (m *Memory) PutSchema(ctx context.Context, sch *schema.Schema) error {
	doc, err := encodeSchema(sch)
	if err != nil {
		return wrap("put schema", "", err)
	}
	m.mu.Lock()
	m.schemas[sch.Fingerprint] = doc
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
