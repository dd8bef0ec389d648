package util

import "testing"

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"55", "(55"},
		{"55512", "(555) 12"},
		{"5551234567", "(555) 123-4567"},
		{"(555) 123-4567", "(555) 123-4567"},
		{"555-123-4567 ext 89", "(555) 123-4567"},
		{"555123456789", "(555) 123-4567"},
	}
	for _, tt := range tests {
		if got := FormatPhone(tt.in); got != tt.want {
			t.Fatalf("FormatPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPhone_AllTenDigitInputs(t *testing.T) {
	for _, in := range []string{"0000000000", "9999999999", "2125550199", "4155550123"} {
		got := FormatPhone(in)
		want := "(" + in[:3] + ") " + in[3:6] + "-" + in[6:]
		if got != want {
			t.Fatalf("FormatPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(555) 123-4567", "5551234567", true},
		{"+1 555 123 4567", "5551234567", true},
		{"555123456", "555123456", false},
		{"25551234567", "25551234567", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("NormalizePhone(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPaymentFieldFormatting(t *testing.T) {
	if got := FormatCardNumber("4111-1111-1111-1111-999"); got != "4111 1111 1111 1111" {
		t.Fatalf("FormatCardNumber = %q", got)
	}
	if got := FormatCardNumber("41111"); got != "4111 1" {
		t.Fatalf("FormatCardNumber partial = %q", got)
	}
	if got := FormatExpiry("1/2027"); got != "12/02" {
		t.Fatalf("FormatExpiry = %q", got)
	}
	if got := FormatExpiry("0"); got != "0" {
		t.Fatalf("FormatExpiry short = %q", got)
	}
	if got := FormatCVV("12a345"); got != "1234" {
		t.Fatalf("FormatCVV = %q", got)
	}
	if got := FormatRoutingNumber("0210-0002-1999"); got != "021000021" {
		t.Fatalf("FormatRoutingNumber = %q", got)
	}
	if got := FormatBankAccount("00 12-34"); got != "001234" {
		t.Fatalf("FormatBankAccount = %q", got)
	}
	if got := FormatZIP("94107-1234"); got != "94107" {
		t.Fatalf("FormatZIP = %q", got)
	}
}

func TestLastDigits(t *testing.T) {
	if got := LastDigits("123-45-6789", 4); got != "6789" {
		t.Fatalf("LastDigits = %q", got)
	}
	if got := LastDigits("12", 4); got != "" {
		t.Fatalf("LastDigits short = %q", got)
	}
	if got := MaskDigits("4111111111111111", 4); got != "************1111" {
		t.Fatalf("MaskDigits = %q", got)
	}
}

func TestContainsFormulaPrefix(t *testing.T) {
	for in, want := range map[string]bool{"=SUM(A1)": true, "-42": false, "-cmd": true, "Jane": false, "": false} {
		if got := ContainsFormulaPrefix(in); got != want {
			t.Fatalf("ContainsFormulaPrefix(%q) = %v", in, got)
		}
	}
}
