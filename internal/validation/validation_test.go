package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Required(t *testing.T) {
	v := NewValidator()

	v.Required("field", "")
	assert.True(t, v.HasErrors())
	assert.Equal(t, "field", v.Errors()[0].Field)
	assert.Contains(t, v.Errors()[0].Message, "required")

	v = NewValidator()
	v.Required("field", "  ")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Required("field", "value")
	assert.False(t, v.HasErrors())
}

func TestValidator_MinLength(t *testing.T) {
	v := NewValidator()

	v.MinLength("field", "ab", 3)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MinLength("field", "abc", 3)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MinLength("field", "abcd", 3)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxLength(t *testing.T) {
	v := NewValidator()

	v.MaxLength("field", "abcd", 3)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MaxLength("field", "abc", 3)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MaxLength("field", "ab", 3)
	assert.False(t, v.HasErrors())
}

func TestValidator_MinValue(t *testing.T) {
	v := NewValidator()

	v.MinValue("field", 5.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 15.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxValue(t *testing.T) {
	v := NewValidator()

	v.MaxValue("field", 15.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 5.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_OneOf(t *testing.T) {
	v := NewValidator()

	v.OneOf("field", "invalid", []string{"a", "b", "c"})
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.OneOf("field", "b", []string{"a", "b", "c"})
	assert.False(t, v.HasErrors())
}

func TestValidator_UUID(t *testing.T) {
	v := NewValidator()

	v.UUID("field", "invalid")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.UUID("field", "550e8400-e29b-41d4-a716-446655440000")
	assert.False(t, v.HasErrors())
}

func TestValidator_Pair(t *testing.T) {
	v := NewValidator()

	v.Pair("field", "invalid")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Pair("field", "btc-usdt") // lowercase should fail
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Pair("field", "BTC-USDT")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.Pair("field", "ETH-BTC")
	assert.False(t, v.HasErrors())
}

func TestSanitizeInput(t *testing.T) {
	input := "test\x00value"
	sanitized := SanitizeInput(input)
	assert.Equal(t, "testvalue", sanitized)

	input = "  test  "
	sanitized = SanitizeInput(input)
	assert.Equal(t, "test", sanitized)

	longInput := make([]byte, 15000)
	for i := range longInput {
		longInput[i] = 'a'
	}
	input = string(longInput)
	sanitized = SanitizeInput(input)
	assert.Equal(t, 10000, len(sanitized))
}

func TestValidationErrors(t *testing.T) {
	errors := ValidationErrors{}
	assert.False(t, errors.HasErrors())
	assert.Equal(t, "", errors.Error())

	errors = ValidationErrors{
		ValidationError{Field: "field1", Message: "error1"},
	}
	assert.True(t, errors.HasErrors())
	assert.Contains(t, errors.Error(), "field1")

	errors = ValidationErrors{
		ValidationError{Field: "field1", Message: "error1"},
		ValidationError{Field: "field2", Message: "error2"},
	}
	assert.True(t, errors.HasErrors())
	assert.Contains(t, errors.Error(), "field1")
	assert.Contains(t, errors.Error(), "field2")
}
