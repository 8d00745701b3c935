package ids

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"11111111-1111-4111-8111-111111111111", true},
		{"22222222-2222-4222-8222-222222222222", true},
		{"A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11", true},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"11111111-1111-1111-1111-111111111111", false},
		{"11111111-1111-6111-8111-111111111111", false},
		{"11111111-1111-4111-c111-111111111111", false},
		{"{11111111-1111-4111-8111-111111111111}", false},
		{"urn:uuid:11111111-1111-4111-8111-111111111111", false},
		{" 11111111-1111-4111-8111-111111111111 ", false},
		{"11111111-1111-4111-8111-111111111111\n", false},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Valid(tc.in); got != tc.want {
			t.Fatalf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewIsValid(t *testing.T) {
	for i := 0; i < 20; i++ {
		if id := New(); !Valid(id) {
			t.Fatalf("generated id %q is not valid", id)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	v := validator.New()
	if err := RegisterValidation(v); err != nil {
		t.Fatalf("register: %v", err)
	}
	type req struct {
		ID string `validate:"required,entityid"`
	}
	if err := v.Struct(req{ID: "11111111-1111-4111-8111-111111111111"}); err != nil {
		t.Fatalf("expected valid id, got %v", err)
	}
	if err := v.Struct(req{ID: "bogus"}); err == nil {
		t.Fatalf("expected validation error for malformed id")
	}
}

func TestNormalizeDoesNotTrim(t *testing.T) {
	if got := Normalize("A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11"); got != "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11" {
		t.Fatalf("Normalize = %q", got)
	}
	if got := Normalize(" ab "); got != " ab " {
		t.Fatalf("Normalize trimmed input: %q", got)
	}
}
