package importer

import (
	"fmt"
	"sort"
	"strings"
)

// Field is an account attribute a CSV column can be mapped to.
type Field string

const (
	FieldDebtorName            Field = "debtor_name"
	FieldOriginalAccountNumber Field = "original_account_number"
	FieldOriginalCreditor      Field = "original_creditor"
	FieldCurrentBalance        Field = "current_balance"
	FieldPhoneNumber           Field = "phone_number"
	FieldSSN                   Field = "ssn"
	FieldEmail                 Field = "email"
	FieldAddress               Field = "address"
	FieldCity                  Field = "city"
	FieldState                 Field = "state"
	FieldZipCode               Field = "zip_code"
	FieldDateOfBirth           Field = "date_of_birth"
	FieldNone                  Field = "none"
)

var allFields = []Field{
	FieldDebtorName, FieldOriginalAccountNumber, FieldOriginalCreditor, FieldCurrentBalance,
	FieldPhoneNumber, FieldSSN, FieldEmail, FieldAddress, FieldCity, FieldState, FieldZipCode,
	FieldDateOfBirth,
}

func (f Field) Valid() bool {
	for _, known := range allFields {
		if f == known {
			return true
		}
	}
	return f == FieldNone
}

// Mapping assigns each field the CSV header it is read from.
type Mapping map[Field]string

type suggestionRule struct {
	field   Field
	matches func(header string) bool
}

func containsAny(s string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// Rules run in this order for every header; address fields are never
// suggested.
var suggestionRules = []suggestionRule{
	{FieldDebtorName, func(h string) bool {
		return containsAny(h, "debtor", "name", "customer", "consumer")
	}},
	{FieldOriginalAccountNumber, func(h string) bool {
		return containsAny(h, "account", "acct", "reference") || h == "number" || h == "#"
	}},
	{FieldOriginalCreditor, func(h string) bool {
		return containsAny(h, "creditor", "client", "company", "vendor")
	}},
	{FieldCurrentBalance, func(h string) bool {
		return (strings.Contains(h, "balance") && !strings.Contains(h, "original")) ||
			containsAny(h, "amount", "due", "current")
	}},
	{FieldPhoneNumber, func(h string) bool {
		return containsAny(h, "phone", "tel", "mobile", "cell", "contact")
	}},
	{FieldSSN, func(h string) bool {
		return containsAny(h, "ssn", "social", "security", "tax id")
	}},
	{FieldEmail, func(h string) bool {
		return containsAny(h, "email", "e-mail", "mail", "@")
	}},
}

// SuggestMapping guesses a mapping from header names. When several headers
// match one field the last of them wins.
func SuggestMapping(headers []string) Mapping {
	m := Mapping{}
	for _, header := range headers {
		lower := strings.ToLower(strings.TrimSpace(header))
		for _, rule := range suggestionRules {
			if rule.matches(lower) {
				m[rule.field] = header
			}
		}
	}
	return m
}

// ParseMappingSpec reads "field=Header,field=Header" overrides.
func ParseMappingSpec(spec string) (Mapping, error) {
	m := Mapping{}
	if strings.TrimSpace(spec) == "" {
		return m, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		field, header, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("mapping %q: expected field=header", pair)
		}
		f := Field(strings.TrimSpace(field))
		if !f.Valid() {
			return nil, fmt.Errorf("mapping %q: unknown field %q", pair, f)
		}
		m[f] = strings.TrimSpace(header)
	}
	return m, nil
}

// Merge returns m with overrides applied. A FieldNone-valued header or an
// empty header unmaps the field.
func (m Mapping) Merge(overrides Mapping) Mapping {
	out := Mapping{}
	for f, h := range m {
		out[f] = h
	}
	for f, h := range overrides {
		if h == "" || Field(h) == FieldNone {
			delete(out, f)
			continue
		}
		out[f] = h
	}
	return out
}

// Validate checks that the required debtor name is mapped and that every
// mapped header exists.
func (m Mapping) Validate(headers []string) error {
	if m[FieldDebtorName] == "" {
		return fmt.Errorf("debtor_name must be mapped")
	}
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for f, h := range m {
		if f != FieldNone && !present[h] {
			missing = append(missing, fmt.Sprintf("%s=%s", f, h))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("mapped headers not in file: %s", strings.Join(missing, ", "))
	}
	return nil
}
