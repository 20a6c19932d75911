package taxonomy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

var valveSample = []record.Record{
	{"物料名称": "球阀", "规格型号": "DN50 PN25", "制造商": "天津泵业"},
	{"物料名称": "闸阀", "规格型号": "DN80 PN16", "制造商": "上海阀门厂"},
	{"物料名称": "离心泵", "规格型号": "", "制造商": "天津泵业"},
}

func recognize(t *testing.T, sample []record.Record) *schema.Schema {
	t.Helper()
	sch, err := schema.NewRecognizer(vocab.MustDefault(), nil).Infer(sample, nil)
	require.NoError(t, err)
	return sch
}

func newTestGenerator() *Generator {
	g := NewGenerator(vocab.MustDefault(), nil)
	g.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g
}

func TestGenerateManufacturing(t *testing.T) {
	sch := recognize(t, valveSample)
	require.Equal(t, "manufacturing", sch.Industry)

	tpl, err := newTestGenerator().Generate(sch, nil, valveSample)
	require.NoError(t, err)

	assert.Equal(t, "manufacturing_"+sch.SourceID, tpl.ID)
	assert.Equal(t, []string{"一级分类", "二级分类", "三级分类"}, tpl.Levels)
	assert.Contains(t, Terms(tpl.Tree), "球阀")
	assert.Equal(t, Path{"管道阀门", "控制阀门", "球阀"}, TermPaths(tpl.Tree)["球阀"])

	assert.Equal(t, "物料名称", tpl.FieldMapping[vocab.RoleName])
	assert.Equal(t, "规格型号", tpl.FieldMapping[vocab.RoleSpec])
	assert.Equal(t, "压力等级", tpl.FieldMapping["pressure_rating"])

	assert.InDelta(t, 1.0, tpl.QualityWeights.Sum(), 1e-9)

	families := map[Family]int{}
	for i, r := range tpl.Rules {
		require.NoError(t, r.Validate())
		assert.Equal(t, RuleID(tpl.ID, i), r.ID)
		assert.True(t, r.Enabled)
		families[r.Family]++
	}
	assert.Equal(t, len(Leaves(tpl.Tree)), families[FamilyKeyword])
	assert.Equal(t, 1, families[FamilyPattern])
	assert.Equal(t, 2, families[FamilySimilarity])
	assert.Positive(t, families[FamilyComposite])
}

func TestGenerateKeywordRulePerLeaf(t *testing.T) {
	sch := recognize(t, valveSample)
	tpl, err := newTestGenerator().Generate(sch, nil, nil)
	require.NoError(t, err)

	var found bool
	for _, r := range tpl.Rules {
		if r.Family != FamilyKeyword {
			continue
		}
		assert.Equal(t, keywordPriority, r.Priority)
		assert.InDelta(t, keywordThreshold, r.Keyword.MatchThreshold, 1e-9)
		if r.Keyword.Terms[0] == "球阀" {
			found = true
			assert.Equal(t, Path{"管道阀门", "控制阀门", "球阀"}, r.Keyword.Assign.Path)
			assert.InDelta(t, keywordBoost, r.Boost(), 1e-9)
		}
	}
	assert.True(t, found, "expected a keyword rule for 球阀")
}

func TestGenerateIsDeterministic(t *testing.T) {
	sch := recognize(t, valveSample)
	g := newTestGenerator()

	a, err := g.Generate(sch, nil, valveSample)
	require.NoError(t, err)
	b, err := g.Generate(sch, nil, valveSample)
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestGenerateRejectsNilSchema(t *testing.T) {
	_, err := newTestGenerator().Generate(nil, nil, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidInput)
}

func TestGenerateWithoutSampleHasNoCompositeRules(t *testing.T) {
	sch := recognize(t, valveSample)
	tpl, err := newTestGenerator().Generate(sch, nil, nil)
	require.NoError(t, err)
	for _, r := range tpl.Rules {
		assert.NotEqual(t, FamilyComposite, r.Family)
	}
}

func TestGenerateMergesExistingCategories(t *testing.T) {
	sch := recognize(t, valveSample)
	existing := TreeFromPaths([][]string{
		{"管道阀门", "新子类", "新阀"},
		{"电气设备", "电缆", "电力电缆"},
	})

	tpl, err := newTestGenerator().Generate(sch, existing, nil)
	require.NoError(t, err)

	names := make([]string, len(tpl.Tree))
	for i, n := range tpl.Tree {
		names[i] = n.Name
	}
	assert.Equal(t, []string{"管道阀门", "管道连接件", "流体输送设备", "通用机械配件", "电气设备"}, names)

	// Present top-level categories are not merged into.
	assert.NotContains(t, Terms(tpl.Tree), "新阀")
	assert.Contains(t, Terms(tpl.Tree), "电力电缆")
	assert.Equal(t, "电气设备相关产品", tpl.Tree[4].Description)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       float64
	}{
		{"confident", 0.9, 0.70},
		{"neutral", 0.7, 0.75},
		{"uncertain", 0.2, 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, threshold(0.75, tt.confidence), 1e-9)
		})
	}
}

func TestQualityWeights(t *testing.T) {
	g := newTestGenerator()

	base := g.qualityWeights(0.6)
	assert.InDelta(t, 0.35, base.Name, 1e-9)

	exact := g.qualityWeights(0.9)
	assert.Greater(t, exact.Name, base.Name)
	assert.InDelta(t, 1.0, exact.Sum(), 1e-9)

	tolerant := g.qualityWeights(0.3)
	assert.Greater(t, tolerant.Category, base.Category)
	assert.InDelta(t, 1.0, tolerant.Sum(), 1e-9)
}

func TestCompositeRules(t *testing.T) {
	sample := []record.Record{
		{"名称": "a", "规格": "1", "厂家": "x"},
		{"名称": "b", "规格": "2", "厂家": ""},
		{"名称": "c", "规格": "", "厂家": ""},
	}
	sch := recognize(t, sample)
	rules := newTestGenerator().compositeRules(sch, sample)

	// {名称,规格} appears in 2/3 records; {名称,厂家}, {规格,厂家} and the
	// triple appear in 1/3, which is above the 0.3 cut.
	require.Len(t, rules, 4)
	assert.Equal(t, []string{"厂家", "名称"}, rules[0].Composite.Fields)
	assert.Len(t, rules[3].Composite.Fields, 3)

	var pair *CompositeRule
	for _, r := range rules {
		if len(r.Composite.Fields) == 2 && r.Composite.Fields[0] == "名称" {
			pair = r.Composite
		}
	}
	require.NotNil(t, pair)
	assert.InDelta(t, 2.0/3.0, pair.MinPresence, 1e-9)
	// material_name 0.4 vs specification 0.3
	assert.InDelta(t, 0.4/0.7, pair.FieldWeights["名称"], 1e-9)
	assert.InDelta(t, 0.3/0.7, pair.FieldWeights["规格"], 1e-9)
}

func TestCombinations(t *testing.T) {
	got := combinations([]string{"a", "b", "c"})
	assert.Equal(t, [][]string{
		{"a", "b"}, {"a", "b", "c"}, {"a", "c"}, {"b", "c"},
	}, got)
	assert.Empty(t, combinations([]string{"a"}))
}
