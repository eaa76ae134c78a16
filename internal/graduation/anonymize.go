package graduation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var (
	companyIdentifying = map[string]bool{
		"company": true, "companies": true, "corp": true, "corporation": true,
		"inc": true, "ltd": true, "llc": true, "internal": true, "proprietary": true,
	}

	camelLower = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	camelUpper = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)

	entitySynonyms = []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)employee|staff|worker`), "Person"},
		{regexp.MustCompile(`(?i)customer|client|vendor|supplier`), "Entity"},
	}

	// fieldTypeTable maps tenant-specific field types to generic ones. No
	// value is also a key, which keeps Anonymize idempotent.
	fieldTypeTable = map[string]string{
		"employee_id":   "identifier",
		"employee_name": "name",
		"staff_id":      "identifier",
		"customer_id":   "identifier",
		"customer_name": "name",
		"client_id":     "identifier",
		"client_name":   "name",
		"vendor_id":     "identifier",
		"vendor_name":   "name",
		"company_id":    "identifier",
		"company_name":  "name",
		"internal_id":   "identifier",
		"internal_code": "code",
		"internal_url":  "url",
	}
)

// Anonymize strips tenant-identifying names from a structure. Section names
// containing a company-identifying word become "Section n"; other names have
// business entity words generalized. Words are split on any non-alphanumeric
// character and on camel-case humps, so "internal_notes" and "AcmeCorp"
// match while "Incoming" does not. Field types are mapped through a fixed table.
// Applying Anonymize twice gives the same result as applying it once.
func Anonymize(s pattern.Structure) pattern.Structure {
	out := s.Clone()
	for i := range out.Sections {
		sec := &out.Sections[i]
		if isCompanyIdentifying(sec.Name) {
			sec.Name = fmt.Sprintf("Section %d", i+1)
		} else {
			for _, syn := range entitySynonyms {
				sec.Name = syn.re.ReplaceAllLiteralString(sec.Name, syn.replacement)
			}
		}
		for j, ft := range sec.FieldTypes {
			if generic, ok := fieldTypeTable[strings.ToLower(ft)]; ok {
				sec.FieldTypes[j] = generic
			}
		}
	}
	return out
}

func isCompanyIdentifying(name string) bool {
	for _, w := range words(name) {
		if companyIdentifying[w] {
			return true
		}
	}
	return false
}

// words splits name into lower-cased words at separators and camel-case
// boundaries.
func words(name string) []string {
	split := camelUpper.ReplaceAllString(camelLower.ReplaceAllString(name, "$1 $2"), "$1 $2")
	fields := strings.FieldsFunc(split, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}
