package graduation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func TestAnonymize(t *testing.T) {
	in := pattern.Structure{Sections: []pattern.Section{
		{Name: "Internal Approvals", FieldTypes: []string{"internal_code", "date"}},
		{Name: "Employee Summary", FieldTypes: []string{"Employee_ID", "employee_name"}},
		{Name: "Vendor and Client Notes", FieldTypes: []string{"vendor_id", "client_name"}},
		{Name: "Incoming Requests", FieldTypes: []string{"text"}},
	}}

	out := Anonymize(in)

	assert.Equal(t, "Section 1", out.Sections[0].Name)
	assert.Equal(t, []string{"code", "date"}, out.Sections[0].FieldTypes)
	assert.Equal(t, "Person Summary", out.Sections[1].Name)
	assert.Equal(t, []string{"identifier", "name"}, out.Sections[1].FieldTypes)
	assert.Equal(t, "Entity and Entity Notes", out.Sections[2].Name)
	assert.Equal(t, []string{"identifier", "name"}, out.Sections[2].FieldTypes)
	// "Inc" inside a word is not a company suffix
	assert.Equal(t, "Incoming Requests", out.Sections[3].Name)

	assert.Equal(t, "Internal Approvals", in.Sections[0].Name, "input must not be mutated")
	assert.Equal(t, "internal_code", in.Sections[0].FieldTypes[0])
}

func TestAnonymize_JoinedWords(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"internal_notes", "Section 1"},
		{"company_settings", "Section 1"},
		{"AcmeCorp Billing", "Section 1"},
		{"Globex LLC-only", "Section 1"},
		{"proprietary-pricing", "Section 1"},
		{"ACMEInc Ledger", "Section 1"},
		{"companyOverview", "Section 1"},
		{"Incoming Requests", "Incoming Requests"},
		{"Incorporation Steps", "Incorporation Steps"},
		{"customer_feedback", "Entity_feedback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Anonymize(pattern.Structure{Sections: []pattern.Section{{Name: tt.name}}})
			assert.Equal(t, tt.want, out.Sections[0].Name)
		})
	}
}

func TestAnonymize_Idempotent(t *testing.T) {
	in := pattern.Structure{Sections: []pattern.Section{
		{Name: "Acme Inc Budget", FieldTypes: []string{"company_id", "amount"}},
		{Name: "Staff Roster", FieldTypes: []string{"staff_id"}, RequiredSteps: []string{"draft"}},
		{Name: "Supplier Contracts", FieldTypes: []string{"internal_url"}},
		{Name: "internal_notes"},
		{Name: "AcmeCorp Billing"},
	}}
	once := Anonymize(in)
	twice := Anonymize(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"draft"}, twice.Sections[1].RequiredSteps)
}

func TestAnonymize_Empty(t *testing.T) {
	out := Anonymize(pattern.Structure{})
	assert.Empty(t, out.Sections)
}
