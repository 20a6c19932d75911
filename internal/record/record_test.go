package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"lowercase id", Record{"id": " 42 "}, "42"},
		{"uppercase id", Record{"ID": "A-1"}, "A-1"},
		{"chinese id", Record{"编号": "M001"}, "M001"},
		{"missing", Record{"名称": "球阀"}, ""},
		{"blank id", Record{"id": "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.ID())
		})
	}
}

func TestRecordMalformed(t *testing.T) {
	assert.True(t, Record(nil).Malformed())
	assert.True(t, Record{}.Malformed())
	assert.True(t, Record{"a": " ", "b": ""}.Malformed())
	assert.False(t, Record{"a": "x"}.Malformed())
}

func TestFingerprint(t *testing.T) {
	a := []Record{{"名称": "球阀", "规格": "DN50"}}
	b := []Record{{"规格": "DN80", "名称": "闸阀"}}
	c := []Record{{"名称": "球阀", "厂家": "x"}}

	t.Run("same structure same fingerprint", func(t *testing.T) {
		assert.Equal(t, Fingerprint(a, nil), Fingerprint(b, nil))
	})
	t.Run("different fields differ", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint(a, nil), Fingerprint(c, nil))
	})
	t.Run("metadata participates", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint(a, map[string]string{"source_id": "s1"}),
			Fingerprint(a, map[string]string{"source_id": "s2"}))
	})
	t.Run("only leading records count", func(t *testing.T) {
		head := []Record{{"a": "1"}, {"a": "2"}, {"a": "3"}, {"a": "4"}, {"a": "5"}}
		withTail := append(append([]Record{}, head...), Record{"zzz": "1"})
		assert.Equal(t, Fingerprint(head, nil), Fingerprint(withTail, nil))
	})
	t.Run("hex sha256", func(t *testing.T) {
		assert.Len(t, Fingerprint(a, nil), 64)
	})
}

func TestFromJSON(t *testing.T) {
	recs, err := FromJSON([]byte(`[{"id": 7, "名称": "球阀", "ok": true, "n": null}, "junk", {"规格": 1.5}]`))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "7", recs[0].ID())
	assert.Equal(t, "true", recs[0]["ok"])
	assert.Equal(t, "", recs[0]["n"])
	assert.True(t, recs[1].Malformed())
	assert.Equal(t, "1.5", recs[2]["规格"])

	_, err = FromJSON([]byte(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestFieldUnion(t *testing.T) {
	got := FieldUnion([]Record{{"b": "1"}, {"a": "2", "b": "3"}, nil})
	assert.Equal(t, []string{"a", "b"}, got)
}
