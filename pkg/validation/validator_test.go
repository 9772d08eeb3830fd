package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "resident@example.com", NormalizeEmail("  Resident@Example.COM \n"))
}

func TestValidateEmail(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEmail("resident@example.com"))
	assert.Error(t, v.ValidateEmail(""))
	assert.Error(t, v.ValidateEmail("not-an-email"))
	assert.Error(t, v.ValidateEmail("Name <resident@example.com>"))
	assert.Error(t, v.ValidateEmail(strings.Repeat("a", 250)+"@example.com"))
}

func TestValidateTenantCode(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		code  string
		valid bool
	}{
		{"cp_abcdefghijklmnopqrstuvwxyz", true},
		{"lmr_x7k9p2q4w8e1r5t3y6u0i2o4", true},
		{"", false},
		{"lmr", false},
		{"lmr_short", false},
		{"LMR_ABCDEFGHIJKLMNOPQRSTUVWXYZ", false},
		{"_abcdefghijklmnopqrstuvwxyz", false},
		{"cp_abcdefghijklmnopqrstuvwx yz", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := v.ValidateTenantCode(tt.code)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateEnum(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEnum("active", []string{"active", "maintenance"}, "status"))
	assert.Error(t, v.ValidateEnum("", []string{"active"}, "status"))
	assert.Error(t, v.ValidateEnum("broken", []string{"active"}, "status"))
}

func TestValidateStringLength(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateStringLength("Место 12", "label", 1, 8))
	assert.Error(t, v.ValidateStringLength("", "label", 1, 8))
	assert.Error(t, v.ValidateStringLength("слишком длинное", "label", 1, 8))
}
