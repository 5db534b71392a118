// Package privacy keeps personal data out of the prediction log.
package privacy

import (
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/fractal-lba/healthxai/internal/api"
)

// PIIType names a class of personally identifiable information.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeIPAddress  PIIType = "ip_address"
)

// Detection is one PII match inside a string.
type Detection struct {
	Type     PIIType
	Field    string
	Position int
	Length   int
}

type pattern struct {
	typ PIIType
	re  *regexp.Regexp
}

// Scanner finds and redacts PII in free-text values.
type Scanner struct {
	patterns []pattern // checked in order; earlier patterns win overlaps
}

// NewScanner returns a scanner with the built-in patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: []pattern{
		{PIITypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{PIITypeSSN, regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)},
		{PIITypeCreditCard, regexp.MustCompile(`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`)},
		{PIITypeIPAddress, regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)},
		{PIITypePhone, regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\([0-9]{3}\)|\b[0-9]{3})[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)},
	}}
}

// Scan returns the non-overlapping matches in text, by position.
func (s *Scanner) Scan(text, field string) []Detection {
	var found []Detection
	taken := func(start, end int) bool {
		for _, d := range found {
			if start < d.Position+d.Length && d.Position < end {
				return true
			}
		}
		return false
	}

	for _, p := range s.patterns {
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			if taken(m[0], m[1]) || isFalsePositive(p.typ, text[m[0]:m[1]]) {
				continue
			}
			found = append(found, Detection{Type: p.typ, Field: field, Position: m[0], Length: m[1] - m[0]})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Position < found[j].Position })
	return found
}

// Redact replaces every match in text with a [REDACTED_<TYPE>] marker.
func (s *Scanner) Redact(text string) (string, []Detection) {
	found := s.Scan(text, "")
	if len(found) == 0 {
		return text, nil
	}

	var b strings.Builder
	last := 0
	for _, d := range found {
		b.WriteString(text[last:d.Position])
		b.WriteString("[REDACTED_" + strings.ToUpper(string(d.Type)) + "]")
		last = d.Position + d.Length
	}
	b.WriteString(text[last:])
	return b.String(), found
}

// ScrubRow redacts PII from the categorical values of row. Numeric values
// are left alone.
func (s *Scanner) ScrubRow(row api.InputRow) (api.InputRow, []Detection) {
	var all []Detection
	out := row
	for _, c := range row.Columns() {
		v, _ := row.Get(c)
		if v.Kind != api.KindCategorical {
			continue
		}
		red, found := s.Redact(v.Str)
		if len(found) == 0 {
			continue
		}
		for i := range found {
			found[i].Field = c
		}
		all = append(all, found...)
		out = out.With(c, api.Cat(red))
	}
	return out, all
}

func isFalsePositive(t PIIType, value string) bool {
	switch t {
	case PIITypeEmail:
		lower := strings.ToLower(value)
		return strings.HasSuffix(lower, "@example.com") || strings.HasSuffix(lower, "@localhost")
	case PIITypeIPAddress:
		return strings.HasPrefix(value, "127.") || strings.HasPrefix(value, "0.") || net.ParseIP(value) == nil
	}
	return false
}

// MaskIP truncates an address to its network: /24 for IPv4 and /48 for IPv6.
// Anything that does not parse as an IP is dropped.
func MaskIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
