package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVocabulary(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"manufacturing", "medical", Generic}, v.Names())

	mfg, err := v.Industry("manufacturing")
	require.NoError(t, err)
	assert.Len(t, mfg.CompiledPatterns(), len(mfg.Patterns))
	assert.Len(t, mfg.UnitPatterns(), len(mfg.Units))
	assert.True(t, mfg.Scored())
	assert.InDelta(t, 0.75, mfg.Threshold, 1e-9)

	gen := v.IndustryOrGeneric("aerospace")
	assert.Equal(t, Generic, gen.Name)
	assert.False(t, gen.Scored())

	_, err = v.Industry("aerospace")
	assert.ErrorIs(t, err, ErrUnknownIndustry)
}

func TestLeavesExpandToNodes(t *testing.T) {
	mfg, err := MustDefault().Industry("manufacturing")
	require.NoError(t, err)

	valves := mfg.Hierarchy.Nodes[0]
	require.Equal(t, "管道阀门", valves.Name)
	control := valves.Children[0]
	require.Equal(t, "控制阀门", control.Name)
	require.NotEmpty(t, control.Children)
	assert.Equal(t, "球阀", control.Children[0].Name)
	assert.Equal(t, []string{"球阀"}, control.Children[0].Terms)
	assert.Empty(t, control.Leaves)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "industries: [::"},
		{"missing generic", "industries:\n  - name: x\n"},
		{"bad pattern", "industries:\n  - name: generic\n    patterns: ['(']\n"},
		{"extract without group", "industries:\n  - name: generic\n    pattern_rules:\n      - name: f\n        extract:\n          - {param: p, pattern: 'DN\\d+'}\n"},
		{"duplicate", "industries:\n  - name: generic\n  - name: generic\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestCompositeWeightFallsBack(t *testing.T) {
	v := MustDefault()
	assert.InDelta(t, 0.4, v.CompositeWeight(RoleName), 1e-9)
	assert.InDelta(t, 0.1, v.CompositeWeight("colour"), 1e-9)
}
