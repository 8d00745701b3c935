// Package ids generates and validates entity identifiers.
package ids

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is a canonical RFC 4122 UUID of version 1 to 5.
// Hex digits may be upper or lower case; braces and urn prefixes are rejected.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if u.Variant() != uuid.RFC4122 {
		return false
	}
	v := u.Version()
	return v >= 1 && v <= 5
}

// Normalize lowercases a valid id so lookups are case-insensitive. It does
// not trim; padded ids are invalid.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// RegisterValidation adds the "entityid" tag to v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation("entityid", func(fl validator.FieldLevel) bool {
		return Valid(fl.Field().String())
	})
}
