package adapter

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

var (
	dnRe     = regexp.MustCompile(`(?i)\bDN\s*(\d+)`)
	pnRe     = regexp.MustCompile(`(?i)\bPN\s*(\d+(?:\.\d+)?)`)
	clRe     = regexp.MustCompile(`(?i)\b(?:CL|Class)\s*(\d+)`)
	phiRe    = regexp.MustCompile(`[φΦ]\s*(\d+(?:\.\d+)?)`)
	threadRe = regexp.MustCompile(`\b(M\d+\*\d+|G\d+/\d+)`)
	mpaRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*MPa`)
)

// classToPN converts ASME pressure classes to their nominal PN equivalent.
var classToPN = map[string]string{
	"150":  "20",
	"300":  "50",
	"600":  "100",
	"900":  "150",
	"1500": "250",
	"2500": "420",
}

// Manufacturing normalizes industrial parts: nominal size and pressure tokens,
// material grades and manufacturer names.
type Manufacturing struct{ base }

// NewManufacturing creates the manufacturing adapter.
func NewManufacturing(ind *vocab.Industry) *Manufacturing {
	return &Manufacturing{base{industry: ind}}
}

// Normalize implements Normalizer.
func (m *Manufacturing) Normalize(rec record.Record, mapping map[string]string) (Features, error) {
	f, err := m.features(rec, mapping)
	if err != nil {
		return f, err
	}

	if spec := f.Roles[vocab.RoleSpec]; spec != "" {
		spec = dnRe.ReplaceAllString(spec, "DN$1")
		spec = pnRe.ReplaceAllString(spec, "PN$1")
		spec = clRe.ReplaceAllStringFunc(spec, func(tok string) string {
			class := clRe.FindStringSubmatch(tok)[1]
			if pn, ok := classToPN[class]; ok {
				return "PN" + pn
			}
			return tok
		})
		f.Roles[vocab.RoleSpec] = spec
		m.extract(spec, f.Params)
	}
	if mfr := f.Roles[vocab.RoleManufacturer]; mfr != "" {
		f.Roles[vocab.RoleManufacturer] = m.stripSuffixes(mfr)
	}

	all := strings.Join([]string{f.Roles[vocab.RoleName], f.Roles[vocab.RoleSpec], f.Roles["material_standard"]}, " ")
	if grades := m.markers(all); len(grades) > 0 {
		f.Params["material"] = strings.Join(grades, ",")
	}

	f.Keywords = Keywords(f.Roles[vocab.RoleName])
	return f, nil
}

func (m *Manufacturing) extract(spec string, params map[string]string) {
	if sm := dnRe.FindStringSubmatch(spec); sm != nil {
		params["diameter"] = sm[1]
	} else if sm := phiRe.FindStringSubmatch(spec); sm != nil {
		params["diameter"] = sm[1]
	}
	if sm := pnRe.FindStringSubmatch(spec); sm != nil {
		params["pressure"] = sm[1]
	}
	if sm := mpaRe.FindStringSubmatch(spec); sm != nil {
		params["pressure_mpa"] = sm[1]
	}
	if sm := threadRe.FindStringSubmatch(spec); sm != nil {
		params["thread"] = sm[1]
	}
}
