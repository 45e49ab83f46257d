package petsync

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FieldStatus classifies one compared field.
type FieldStatus string

const (
	// StatusMatch means both values are equal after normalization, including both empty.
	StatusMatch FieldStatus = "match"
	// StatusNew means only the incoming side has a value.
	StatusNew FieldStatus = "new"
	// StatusMissing means only the local side has a value. Never applied automatically.
	StatusMissing FieldStatus = "missing"
	// StatusDifferent means both sides have unequal values.
	StatusDifferent FieldStatus = "different"
)

// FieldKind selects the normalization applied before comparison.
type FieldKind int

const (
	TextField FieldKind = iota
	PhoneField
	SexField
)

// FieldComparison is the result of comparing one logical field.
type FieldComparison struct {
	Field         string      `json:"field"`
	Label         string      `json:"label"`
	CurrentValue  string      `json:"current_value"`
	IncomingValue string      `json:"incoming_value"`
	Status        FieldStatus `json:"status"`
	// Informational fields have no stored counterpart and are never applied.
	Informational bool `json:"informational,omitempty"`
}

// Actionable reports whether applying the incoming value would change data.
func (f FieldComparison) Actionable() bool {
	return !f.Informational && (f.Status == StatusNew || f.Status == StatusDifferent)
}

// Normalize prepares a value of the given kind for comparison.
func Normalize(kind FieldKind, v string) string {
	switch kind {
	case PhoneField:
		return NormalizePhone(v)
	case SexField:
		if s, ok := NormalizeSex(v); ok {
			return strings.ToLower(string(s))
		}
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// Compare classifies current against incoming. It is total and never fails.
func Compare(kind FieldKind, current, incoming string) FieldStatus {
	c, in := Normalize(kind, current), Normalize(kind, incoming)
	switch {
	case c == in:
		return StatusMatch
	case c == "":
		return StatusNew
	case in == "":
		return StatusMissing
	default:
		return StatusDifferent
	}
}

// NormalizePhone keeps only the digits of v.
func NormalizePhone(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sexSynonyms is checked in order; "female" must precede "male".
var sexSynonyms = []struct {
	substr string
	sex    Sex
}{
	{"neutered", SexNeutered},
	{"spayed", SexSpayed},
	{"female", SexFemale},
	{"male", SexMale},
}

// NormalizeSex maps a free-form sex/neuter description onto the stored
// vocabulary by substring. ok is false when nothing matches.
func NormalizeSex(v string) (Sex, bool) {
	lower := strings.ToLower(v)
	for _, syn := range sexSynonyms {
		if strings.Contains(lower, syn.substr) {
			return syn.sex, true
		}
	}
	return "", false
}

// Address is a postal address split into stored components.
type Address struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
}

// ParseAddress splits a free-form "street, city, state, postcode" string by
// commas. Fewer parts leave trailing fields empty; more than four parts are
// folded into the street.
func ParseAddress(s string) Address {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 4 {
		n := len(parts) - 3
		parts = append([]string{strings.Join(parts[:n], ", ")}, parts[n:]...)
	}
	var a Address
	fields := []*string{&a.Street, &a.City, &a.State, &a.Postcode}
	for i, p := range parts {
		*fields[i] = p
	}
	return a
}

// String joins the non-empty components with ", ".
func (a Address) String() string {
	var parts []string
	for _, p := range []string{a.Street, a.City, a.State, a.Postcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// IsZero reports whether every component is empty.
func (a Address) IsZero() bool { return a == Address{} }

var titleCaser = cases.Title(language.English)

// tidyName title-cases names typed entirely in one case ("jane", "SMITH")
// and leaves mixed-case input such as "McDonald" alone.
func tidyName(s string) string {
	s = strings.TrimSpace(s)
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return s
	}
	if s == strings.ToLower(s) || s == strings.ToUpper(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

type fieldSpec struct {
	name          string
	label         string
	kind          FieldKind
	informational bool
}

// Client field names accepted by reconciliation.
var clientFieldSpecs = []fieldSpec{
	{name: "firstName", label: "First Name"},
	{name: "lastName", label: "Last Name"},
	{name: "email", label: "Email"},
	{name: "mobile", label: "Mobile", kind: PhoneField},
	{name: "streetAddress", label: "Street Address"},
	{name: "city", label: "City"},
	{name: "state", label: "State"},
	{name: "postcode", label: "Postcode"},
}

// Pet field names accepted by reconciliation. Age and weight are reference only.
var petFieldSpecs = []fieldSpec{
	{name: "name", label: "Pet Name"},
	{name: "species", label: "Species"},
	{name: "breed", label: "Breed"},
	{name: "sex", label: "Sex", kind: SexField},
	{name: "age", label: "Age", informational: true},
	{name: "weight", label: "Weight", informational: true},
}

func clientValue(c *Client, field string) string {
	if c == nil {
		return ""
	}
	switch field {
	case "firstName":
		return c.FirstName
	case "lastName":
		return c.LastName
	case "email":
		return c.Email
	case "mobile":
		return c.Mobile
	case "streetAddress":
		return c.StreetAddress
	case "city":
		return c.City
	case "state":
		return c.State
	case "postcode":
		return c.Postcode
	}
	return ""
}

func contactValue(in ContactFields, field string) string {
	addr := in.ResolvedAddress()
	switch field {
	case "firstName":
		return in.FirstName
	case "lastName":
		return in.LastName
	case "email":
		return in.Email
	case "mobile":
		return in.Mobile
	case "streetAddress":
		return addr.Street
	case "city":
		return addr.City
	case "state":
		return addr.State
	case "postcode":
		return addr.Postcode
	}
	return ""
}

func petValue(p *Pet, field string) string {
	if p == nil {
		return ""
	}
	switch field {
	case "name":
		return p.Name
	case "species":
		return p.Species
	case "breed":
		return p.Breed
	case "sex":
		return string(p.Sex)
	}
	return ""
}

func petFieldValue(in PetFields, field string) string {
	switch field {
	case "name":
		return in.Name
	case "species":
		return in.Species
	case "breed":
		return in.Breed
	case "sex":
		return in.Sex
	case "age":
		return in.Age
	case "weight":
		return in.Weight
	}
	return ""
}

// CompareClient compares every client field of in against c. A nil c
// compares against an empty client.
func CompareClient(c *Client, in ContactFields) []FieldComparison {
	out := make([]FieldComparison, 0, len(clientFieldSpecs))
	for _, f := range clientFieldSpecs {
		cur, inc := clientValue(c, f.name), contactValue(in, f.name)
		out = append(out, FieldComparison{
			Field:         f.name,
			Label:         f.label,
			CurrentValue:  cur,
			IncomingValue: inc,
			Status:        Compare(f.kind, cur, inc),
		})
	}
	return out
}

// ComparePet compares every pet field of in against p. A nil p compares
// against an empty pet.
func ComparePet(p *Pet, in PetFields) []FieldComparison {
	out := make([]FieldComparison, 0, len(petFieldSpecs))
	for _, f := range petFieldSpecs {
		cur, inc := petValue(p, f.name), petFieldValue(in, f.name)
		out = append(out, FieldComparison{
			Field:         f.name,
			Label:         f.label,
			CurrentValue:  cur,
			IncomingValue: inc,
			Status:        Compare(f.kind, cur, inc),
			Informational: f.informational,
		})
	}
	return out
}

// HasChanges reports whether any comparison is actionable.
func HasChanges(cmps []FieldComparison) bool {
	for _, c := range cmps {
		if c.Actionable() {
			return true
		}
	}
	return false
}
