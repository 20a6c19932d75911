package adapter

import (
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// Generic only folds text; it serves industries without a dedicated adapter.
type Generic struct{ base }

// NewGeneric creates the fallback adapter.
func NewGeneric(ind *vocab.Industry) *Generic {
	return &Generic{base{industry: ind}}
}

// Normalize implements Normalizer.
func (g *Generic) Normalize(rec record.Record, mapping map[string]string) (Features, error) {
	f, err := g.features(rec, mapping)
	if err != nil {
		return f, err
	}
	f.Keywords = Keywords(f.Roles[vocab.RoleName])
	return f, nil
}
