// Package record defines the flat field/value record that flows through
// recognition, template generation and classification.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FingerprintSampleSize is how many leading records contribute field names to
// a structural fingerprint.
const FingerprintSampleSize = 5

// ErrMalformed is returned when a payload cannot be read as a record.
var ErrMalformed = errors.New("malformed record")

// idKeys are the field names accepted as a record identifier, in lookup order.
var idKeys = []string{"id", "ID", "Id", "编号"}

// Record maps a source field name to its cell text.
type Record map[string]string

// ID returns the record's identifier field, or "" when it has none.
func (r Record) ID() string {
	for _, k := range idKeys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// Get returns the trimmed value of field.
func (r Record) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Malformed reports whether the record has no usable content.
func (r Record) Malformed() bool {
	if r == nil {
		return true
	}
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FieldUnion returns the sorted union of field names over records.
func FieldUnion(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fingerprint hashes the field structure of the leading records together with
// the caller's metadata. Records with the same field set and metadata map to
// the same fingerprint regardless of their values.
func Fingerprint(sample []Record, metadata map[string]string) string {
	head := sample
	if len(head) > FingerprintSampleSize {
		head = head[:FingerprintSampleSize]
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(FieldUnion(head), "\x1f")))
	h.Write([]byte{0})

	// json.Marshal sorts map keys, so the encoding is canonical.
	meta, _ := json.Marshal(metadata)
	h.Write(meta)

	return hex.EncodeToString(h.Sum(nil))
}

// FromAny converts a decoded JSON object into a Record, stringifying scalars.
// Nested arrays and objects are kept as their compact JSON text.
func FromAny(v any) (Record, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, v)
	}
	out := make(Record, len(obj))
	for k, val := range obj {
		out[k] = stringify(val)
	}
	return out, nil
}

// FromJSON decodes a JSON array into records. Entries that are not objects
// keep their position as nil records so that downstream processing reports
// them as malformed instead of shifting later rows.
func FromJSON(data []byte) ([]Record, error) {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		rec, err := FromAny(item)
		if err != nil {
			rec = nil
		}
		out = append(out, rec)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
