package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

// ruleRow is one entry of a template's rules sub-collection.
type ruleRow struct {
	Index    int
	Family   string
	Priority int
	Weight   float64
	Enabled  bool
	Payload  []byte
}

// encodeTemplate splits tpl into its document (without rules) and rule rows.
func encodeTemplate(tpl *taxonomy.Template) ([]byte, []ruleRow, error) {
	if tpl == nil || tpl.ID == "" {
		return nil, nil, fmt.Errorf("template without id")
	}
	doc := *tpl
	doc.Version = taxonomy.Version
	doc.Rules = nil

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal template: %w", err)
	}

	rows := make([]ruleRow, len(tpl.Rules))
	for i, r := range tpl.Rules {
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal rule %s: %w", r.ID, err)
		}
		rows[i] = ruleRow{
			Index:    i,
			Family:   string(r.Family),
			Priority: r.Priority,
			Weight:   r.Weight,
			Enabled:  r.Enabled,
			Payload:  payload,
		}
	}
	return data, rows, nil
}

// decodeTemplate reassembles a template. rows must be ordered by Index.
func decodeTemplate(data []byte, rows []ruleRow) (*taxonomy.Template, error) {
	var tpl taxonomy.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	if tpl.Version > taxonomy.Version {
		return nil, fmt.Errorf("unsupported template schema_version %d", tpl.Version)
	}

	tpl.Rules = make([]taxonomy.Rule, len(rows))
	for i, row := range rows {
		if err := json.Unmarshal(row.Payload, &tpl.Rules[i]); err != nil {
			return nil, fmt.Errorf("unmarshal rule %d: %w", row.Index, err)
		}
		// Columns are authoritative for the fields they mirror.
		tpl.Rules[i].Priority = row.Priority
		tpl.Rules[i].Weight = row.Weight
		tpl.Rules[i].Enabled = row.Enabled
	}
	return &tpl, nil
}

func encodeSchema(sch *schema.Schema) ([]byte, error) {
	if sch == nil || sch.Fingerprint == "" {
		return nil, fmt.Errorf("schema without fingerprint")
	}
	doc := *sch
	doc.Version = schema.Version
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

func decodeSchema(data []byte) (*schema.Schema, error) {
	var sch schema.Schema
	if err := json.Unmarshal(data, &sch); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if sch.Version > schema.Version {
		return nil, fmt.Errorf("unsupported schema schema_version %d", sch.Version)
	}
	return &sch, nil
}

func encodePerformance(p *taxonomy.Performance) ([]byte, error) {
	if p == nil || p.TemplateID == "" {
		return nil, fmt.Errorf("performance without template id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal performance: %w", err)
	}
	return data, nil
}

func decodePerformance(data []byte) (taxonomy.Performance, error) {
	var p taxonomy.Performance
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal performance: %w", err)
	}
	return p, nil
}

// newestFirst orders templates by update time, then id.
func newestFirst(tpls []*taxonomy.Template) {
	sort.SliceStable(tpls, func(i, j int) bool {
		if !tpls[i].UpdatedAt.Equal(tpls[j].UpdatedAt) {
			return tpls[i].UpdatedAt.After(tpls[j].UpdatedAt)
		}
		return tpls[i].ID < tpls[j].ID
	})
}
