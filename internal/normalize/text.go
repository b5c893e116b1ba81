package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// collapse trims s and folds whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText applies NFC and whitespace collapsing.
func cleanText(s string) string {
	return collapse(norm.NFC.String(s))
}

var postcodeRe = regexp.MustCompile(`^(.*?)\s*(\d{4})$`)

// canonicalAddress uppercases the locality after the last comma, keeping any
// trailing postcode: "12 Ocean View Road, Ulladulla nsw 2539" becomes
// "12 Ocean View Road, ULLADULLA NSW 2539".
func canonicalAddress(s string) string {
	s = cleanText(s)
	i := strings.LastIndex(s, ",")
	if i < 0 {
		return s
	}
	upper := cases.Upper(language.English)
	street := strings.TrimSpace(s[:i])
	locality := strings.TrimSpace(s[i+1:])
	if m := postcodeRe.FindStringSubmatch(locality); m != nil {
		locality = collapse(upper.String(m[1]) + " " + m[2])
	} else {
		locality = upper.String(locality)
	}
	if street == "" {
		return locality
	}
	return street + ", " + locality
}

var amountRe = regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?`)

// FeeAmount extracts the first dollar amount in text.
func FeeAmount(text string) decimal.NullDecimal {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "") + m[2])
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// SplitDocuments splits a documents cell on semicolons and newlines.
func SplitDocuments(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = cleanText(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
