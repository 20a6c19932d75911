package schema

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

const (
	// typingSampleSize bounds how many records and values field typing looks at.
	typingSampleSize = 100

	numericRatio     = 0.7
	categoricalRatio = 0.1
	topK             = 5

	// industryFloor is the score below which a sample is labelled generic.
	industryFloor = 0.1

	keywordWeight = 0.4
	patternWeight = 0.3
	unitWeight    = 0.2
	markerWeight  = 0.1
)

var (
	digitsRe  = regexp.MustCompile(`\d`)
	unitRe    = regexp.MustCompile(`(?i)\d+\s*(mm|cm|m|kg|g|ml|l)`)
	specialRe = regexp.MustCompile(`[/\-*+()]`)
	digitRun  = regexp.MustCompile(`\d+`)
)

// Recognizer infers Schemas using an industry vocabulary.
type Recognizer struct {
	vocab  *vocab.Vocabulary
	logger *slog.Logger
	now    func() time.Time
}

// NewRecognizer creates a Recognizer. A nil logger uses slog.Default.
func NewRecognizer(v *vocab.Vocabulary, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{vocab: v, logger: logger, now: time.Now}
}

// Infer profiles sample and labels its industry. metadata may carry a
// "source_id"; it also takes part in the structural fingerprint.
func (r *Recognizer) Infer(sample []record.Record, metadata map[string]string) (*Schema, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrInvalidInput)
	}
	fields := record.FieldUnion(sample)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: sample has no fields", ErrInvalidInput)
	}

	fp := record.Fingerprint(sample, metadata)
	sch := &Schema{
		Version:     Version,
		SourceID:    metadata["source_id"],
		Fingerprint: fp,
		Fields:      fields,
		FieldTypes:  make(map[string]FieldType, len(fields)),
		Naming:      make(map[string]NamingStats, len(fields)),
		Values:      make(map[string]ValueDistribution, len(fields)),
		SampleSize:  len(sample),
		CreatedAt:   r.now().UTC(),
	}
	if sch.SourceID == "" {
		sch.SourceID = "auto_" + fp[:12]
	}

	for _, f := range fields {
		values := typingValues(sample, f)
		sch.FieldTypes[f] = detectType(values)
		sch.Naming[f] = namingStats(values)
		sch.Values[f] = distribution(sample, f)
	}

	sch.IndustryScores = r.scoreIndustries(industryText(sample))
	sch.Industry, sch.Confidence = r.pickIndustry(sch.IndustryScores)
	sch.Roles = r.mapRoles(sch.Industry, fields)
	sch.Quality = assessQuality(sample, fields)

	r.logger.Info("schema recognized",
		"source_id", sch.SourceID,
		"industry", sch.Industry,
		"confidence", sch.Confidence,
		"fields", len(fields),
		"sample_size", len(sample),
	)
	return sch, nil
}

// typingValues collects up to typingSampleSize non-empty values of field from
// the leading records.
func typingValues(sample []record.Record, field string) []string {
	head := sample
	if len(head) > typingSampleSize {
		head = head[:typingSampleSize]
	}
	var out []string
	for _, rec := range head {
		if v := rec.Get(field); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// detectType checks numeric before categorical.
func detectType(values []string) FieldType {
	if len(values) == 0 {
		return Unknown
	}

	numeric := 0
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		if IsNumeric(v) {
			numeric++
		}
		distinct[v] = struct{}{}
	}

	n := float64(len(values))
	switch {
	case float64(numeric)/n >= numericRatio:
		return Numeric
	case float64(len(distinct))/n < categoricalRatio:
		return Categorical
	default:
		return Text
	}
}

func namingStats(values []string) NamingStats {
	var ns NamingStats
	if len(values) == 0 {
		return ns
	}

	lengths := make([]float64, len(values))
	ns.Length.Min = math.MaxInt
	sum := 0.0
	for i, v := range values {
		l := utf8.RuneCountInString(v)
		lengths[i] = float64(l)
		sum += float64(l)
		ns.Length.Min = min(ns.Length.Min, l)
		ns.Length.Max = max(ns.Length.Max, l)

		ns.HasDigits = ns.HasDigits || digitsRe.MatchString(v)
		ns.HasUnit = ns.HasUnit || unitRe.MatchString(v)
		ns.HasSpecial = ns.HasSpecial || specialRe.MatchString(v)
	}

	mean := sum / float64(len(values))
	variance := 0.0
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	ns.Length.Mean = mean
	ns.Length.StdDev = math.Sqrt(variance / float64(len(values)))
	return ns
}

func distribution(sample []record.Record, field string) ValueDistribution {
	counts := make(map[string]int)
	nonEmpty := 0
	for _, rec := range sample {
		if v := rec.Get(field); v != "" {
			counts[v]++
			nonEmpty++
		}
	}

	top := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		top = append(top, ValueCount{Value: v, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Value < top[j].Value
	})
	if len(top) > topK {
		top = top[:topK]
	}

	return ValueDistribution{
		NonEmpty:    nonEmpty,
		Cardinality: len(counts),
		NullRatio:   1 - float64(nonEmpty)/float64(len(sample)),
		Top:         top,
	}
}

// industryText flattens the sample into "field:value" text for vocabulary scans.
func industryText(sample []record.Record) string {
	var b strings.Builder
	for _, rec := range sample {
		for _, f := range rec.Fields() {
			b.WriteString(f)
			b.WriteByte(':')
			b.WriteString(rec[f])
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// scoreIndustries computes the weighted vocabulary density of text for every
// scored industry.
func (r *Recognizer) scoreIndustries(text string) map[string]float64 {
	scores := make(map[string]float64)
	for _, ind := range r.vocab.Industries {
		if !ind.Scored() {
			continue
		}

		keywords := 0
		for _, k := range ind.Keywords {
			keywords += strings.Count(text, k)
		}
		patterns := 0
		for _, re := range ind.CompiledPatterns() {
			patterns += len(re.FindAllStringIndex(text, -1))
		}
		units := 0
		for _, re := range ind.UnitPatterns() {
			units += len(re.FindAllStringIndex(text, -1))
		}
		markers := 0
		for _, m := range ind.Markers {
			markers += strings.Count(text, m)
		}

		scores[ind.Name] = keywordWeight*density(keywords, len(ind.Keywords)) +
			patternWeight*density(patterns, len(ind.Patterns)) +
			unitWeight*density(units, len(ind.Units)) +
			markerWeight*density(markers, len(ind.Markers))
	}
	return scores
}

func density(hits, size int) float64 {
	if size == 0 {
		return 0
	}
	return math.Min(float64(hits)/float64(size), 1)
}

// pickIndustry returns the highest scoring industry in vocabulary order.
func (r *Recognizer) pickIndustry(scores map[string]float64) (string, float64) {
	best, bestScore := vocab.Generic, 0.0
	for _, name := range r.vocab.Names() {
		s, ok := scores[name]
		if ok && s > bestScore {
			best, bestScore = name, s
		}
	}
	if bestScore < industryFloor {
		return vocab.Generic, 0
	}
	return best, bestScore
}

// mapRoles assigns each field at most one canonical role.
func (r *Recognizer) mapRoles(industry string, fields []string) map[string]string {
	ind := r.vocab.IndustryOrGeneric(industry)
	roles := make(map[string]string)
	for _, f := range fields {
		if role, ok := MatchRole(ind, f); ok {
			roles[f] = role
		}
	}
	return roles
}

// MatchRole tests field against the industry's synonym groups in role
// precedence order.
func MatchRole(ind *vocab.Industry, field string) (string, bool) {
	lower := strings.ToLower(field)
	for _, role := range vocab.RoleOrder {
		for _, syn := range ind.Roles[role] {
			if strings.Contains(lower, strings.ToLower(syn)) {
				return role, true
			}
		}
	}
	return "", false
}

func assessQuality(sample []record.Record, fields []string) Quality {
	q := Quality{FieldCompleteness: make(map[string]float64, len(fields))}
	n := float64(len(sample))

	var completeness, consistency float64
	for _, f := range fields {
		nonEmpty := 0
		shapes := make(map[string]struct{})
		for _, rec := range sample {
			v := rec.Get(f)
			if v != "" {
				nonEmpty++
			}
			shapes[digitRun.ReplaceAllString(v, "N")] = struct{}{}
		}
		c := float64(nonEmpty) / n
		q.FieldCompleteness[f] = c
		completeness += c
		consistency += math.Max(0, 1-float64(len(shapes))/n)
	}

	q.Completeness = completeness / float64(len(fields))
	q.Consistency = consistency / float64(len(fields))
	q.Score = 0.6*q.Completeness + 0.4*q.Consistency
	return q
}
