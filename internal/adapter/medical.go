package adapter

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

var (
	concentrationRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*(?:mg/ml|%))`)
	volumeRe        = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*ml\b`)
	doseRe          = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*(?:mg|μg|g))\b`)
	deviceClassRe   = regexp.MustCompile(`(III|II|I)\s*类`)
	gaugeRe         = regexp.MustCompile(`(\d+)\s*G\b`)
)

// Medical normalizes drugs and medical devices: dosage form, strength,
// device class and manufacturer names.
type Medical struct{ base }

// NewMedical creates the medical adapter.
func NewMedical(ind *vocab.Industry) *Medical {
	return &Medical{base{industry: ind}}
}

// Normalize implements Normalizer.
func (m *Medical) Normalize(rec record.Record, mapping map[string]string) (Features, error) {
	f, err := m.features(rec, mapping)
	if err != nil {
		return f, err
	}

	name := f.Roles[vocab.RoleName]
	for _, form := range m.industry.DosageForms {
		if strings.Contains(name, form) {
			f.Params["dosage_form"] = form
			break
		}
	}

	spec := strings.Join([]string{f.Roles[vocab.RoleSpec], f.Roles["concentration"]}, " ")
	if sm := concentrationRe.FindStringSubmatch(spec); sm != nil {
		f.Params["concentration"] = strings.ReplaceAll(sm[1], " ", "")
	}
	if sm := volumeRe.FindStringSubmatch(spec); sm != nil {
		f.Params["volume"] = sm[1]
	}
	if sm := doseRe.FindStringSubmatch(spec); sm != nil {
		f.Params["dose"] = strings.ReplaceAll(sm[1], " ", "")
	}
	if sm := gaugeRe.FindStringSubmatch(spec); sm != nil {
		f.Params["gauge"] = sm[1]
	}

	classText := strings.Join([]string{f.Roles[vocab.RoleCategory], f.Roles["device_classification"], name}, " ")
	if sm := deviceClassRe.FindStringSubmatch(classText); sm != nil {
		f.Params["device_class"] = sm[1]
	}

	if mfr := f.Roles[vocab.RoleManufacturer]; mfr != "" {
		f.Roles[vocab.RoleManufacturer] = m.stripSuffixes(mfr)
	}

	f.Keywords = Keywords(name)
	return f, nil
}
