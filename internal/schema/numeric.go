package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// cleanNumeric strips thousands separators and whitespace, and turns the
// accounting form "(123.45)" into a negative number.
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = s[1 : len(s)-1]
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '\uff0c', ' ', '\t', '\u00a0', '\u3000':
			return -1
		}
		return r
	}, s)

	if isNegative {
		s = "-" + s
	}
	return s
}

// IsNumeric reports whether s reads as a number once separators are removed.
func IsNumeric(s string) bool {
	s = cleanNumeric(s)
	if !numericRegex.MatchString(s) {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
