package importer

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSuggestMapping(t *testing.T) {
	headers := []string{"Debtor Name", "Account Number", "Original Creditor", "Current Balance", "Phone Number", "Email", "SSN", "Address", "City", "State", "ZIP"}
	m := SuggestMapping(headers)

	want := Mapping{
		FieldDebtorName:            "Debtor Name",
		FieldOriginalAccountNumber: "Account Number",
		FieldOriginalCreditor:      "Original Creditor",
		FieldCurrentBalance:        "Current Balance",
		FieldPhoneNumber:           "Phone Number",
		FieldEmail:                 "Email",
		FieldSSN:                   "SSN",
	}
	for f, h := range want {
		if m[f] != h {
			t.Fatalf("field %s: expected %q, got %q", f, h, m[f])
		}
	}
	for _, f := range []Field{FieldAddress, FieldCity, FieldState, FieldZipCode} {
		if _, ok := m[f]; ok {
			t.Fatalf("field %s must only be mapped manually", f)
		}
	}
}

func TestSuggestMapping_LaterHeaderWins(t *testing.T) {
	m := SuggestMapping([]string{"Customer", "Consumer Name"})
	if m[FieldDebtorName] != "Consumer Name" {
		t.Fatalf("expected last matching header, got %q", m[FieldDebtorName])
	}

	m = SuggestMapping([]string{"Original Balance", "#"})
	if _, ok := m[FieldCurrentBalance]; ok {
		t.Fatalf("original balance must not map to current_balance")
	}
	if m[FieldOriginalAccountNumber] != "#" {
		t.Fatalf("expected # to map to account number, got %q", m[FieldOriginalAccountNumber])
	}
}

func TestParseMappingSpec(t *testing.T) {
	m, err := ParseMappingSpec("debtor_name=Full Name, city=Town")
	if err != nil {
		t.Fatalf("ParseMappingSpec returned error: %v", err)
	}
	if m[FieldDebtorName] != "Full Name" || m[FieldCity] != "Town" {
		t.Fatalf("unexpected mapping: %v", m)
	}
	if _, err := ParseMappingSpec("favourite_colour=Colour"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if _, err := ParseMappingSpec("debtor_name"); err == nil {
		t.Fatalf("expected error for missing '='")
	}
}

func TestMappingMerge(t *testing.T) {
	base := Mapping{FieldDebtorName: "Name", FieldEmail: "Mail"}
	got := base.Merge(Mapping{FieldEmail: "none", FieldCity: "City"})
	if _, ok := got[FieldEmail]; ok {
		t.Fatalf("expected email to be unmapped")
	}
	if got[FieldCity] != "City" || got[FieldDebtorName] != "Name" {
		t.Fatalf("unexpected merge result: %v", got)
	}
}

const sampleCSV = `Debtor Name,Account Number,Current Balance,Phone Number,SSN,Email,Town
John Smith,A-100,"$1,630.00",(555) 123-4567,123-45-6789,John@Example.com,Springfield
Jane Doe,A-101,abc,555-1234,6789,,Shelbyville
,A-102,10.00,5551234567,,,
=HYPERLINK(x),A-103,-5,1-555-987-6543,12345,,
`

func TestParse(t *testing.T) {
	mapping := SuggestMapping([]string{"Debtor Name", "Account Number", "Current Balance", "Phone Number", "SSN", "Email", "Town"})
	mapping[FieldCity] = "Town"

	result, err := Parse(strings.NewReader(sampleCSV), mapping)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(result.Records))
	}
	if len(result.Errors) != 1 || result.Errors[0].Row != 4 {
		t.Fatalf("expected one row error on line 4, got %+v", result.Errors)
	}

	john := result.Records[0]
	if john.Account.DebtorName != "John Smith" || john.Account.City != "Springfield" {
		t.Fatalf("unexpected account: %+v", john.Account)
	}
	if john.Account.CurrentBalance == nil || !john.Account.CurrentBalance.Equal(decimal.RequireFromString("1630")) {
		t.Fatalf("expected balance 1630, got %v", john.Account.CurrentBalance)
	}
	if john.Account.SSNLast4 != "6789" || john.Account.Email != "john@example.com" {
		t.Fatalf("unexpected ssn/email: %q %q", john.Account.SSNLast4, john.Account.Email)
	}
	if len(john.Phones) != 1 || john.Phones[0] != "5551234567" {
		t.Fatalf("expected normalized phone, got %v", john.Phones)
	}
	if len(john.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", john.Warnings)
	}

	jane := result.Records[1]
	if jane.Account.CurrentBalance != nil || len(jane.Phones) != 0 {
		t.Fatalf("expected bad balance and phone dropped, got %+v", jane)
	}
	if jane.Account.SSNLast4 != "6789" {
		t.Fatalf("expected 4-digit ssn accepted, got %q", jane.Account.SSNLast4)
	}
	if len(jane.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", jane.Warnings)
	}

	formula := result.Records[2]
	if formula.Account.DebtorName != "HYPERLINK(x)" {
		t.Fatalf("expected formula prefix stripped, got %q", formula.Account.DebtorName)
	}
	if formula.Account.CurrentBalance != nil || formula.Account.SSNLast4 != "" {
		t.Fatalf("expected negative balance and short ssn rejected, got %+v", formula.Account)
	}
	if len(formula.Phones) != 1 || formula.Phones[0] != "5559876543" {
		t.Fatalf("expected 11-digit phone normalized, got %v", formula.Phones)
	}
}

func TestParse_RequiresDebtorName(t *testing.T) {
	_, err := Parse(strings.NewReader(sampleCSV), Mapping{FieldEmail: "Email"})
	if err == nil || !strings.Contains(err.Error(), "debtor_name") {
		t.Fatalf("expected debtor_name error, got %v", err)
	}
	_, err = Parse(strings.NewReader(sampleCSV), Mapping{FieldDebtorName: "Missing"})
	if err == nil || !strings.Contains(err.Error(), "not in file") {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestPreviewFile(t *testing.T) {
	p, err := PreviewFile(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("PreviewFile returned error: %v", err)
	}
	if len(p.Headers) != 7 || len(p.Rows) != 4 {
		t.Fatalf("unexpected preview: %d headers %d rows", len(p.Headers), len(p.Rows))
	}
	if p.Mapping[FieldDebtorName] != "Debtor Name" {
		t.Fatalf("expected suggested mapping in preview, got %v", p.Mapping)
	}

	if _, err := PreviewFile(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{"$1,630.00": "1630", "978": "978", "(12.50)": "-12.5", " 45.1 ": "45.1"}
	for in, want := range tests {
		got, err := ParseAmount(in)
		if err != nil || !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseAmount(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
}
