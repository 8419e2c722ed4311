package answerkey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omrkey/internal/template"
)

func TestIsValidAnswerValue(t *testing.T) {
	tests := []struct {
		ft    template.FieldType
		value string
		want  bool
	}{
		{ft: template.FieldTypeMCQ2, value: "t", want: true},
		{ft: template.FieldTypeMCQ2, value: "F", want: true},
		{ft: template.FieldTypeMCQ2, value: "X", want: false},
		{ft: template.FieldTypeMCQ2, value: "", want: false},
		{ft: template.FieldTypeInt10Symbol, value: "-", want: true},
		{ft: template.FieldTypeInt10Symbol, value: ",", want: true},
		{ft: template.FieldTypeInt10Symbol, value: "7", want: true},
		{ft: template.FieldTypeInt10Symbol, value: "A", want: false},
		{ft: template.FieldTypeInt10Symbol, value: "12", want: false},
		{ft: template.FieldTypeMCQ4, value: "Z", want: true},
		{ft: template.FieldTypeMCQ5, value: "E", want: true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsValidAnswerValue(tc.ft, tc.value), "%s %q", tc.ft, tc.value)
	}
}

func TestStrictAlphabet(t *testing.T) {
	v := ValueValidator{StrictAlphabet: true}

	assert.True(t, v.Valid(template.FieldTypeMCQ4, "d"))
	assert.False(t, v.Valid(template.FieldTypeMCQ4, "E"))
	assert.True(t, v.Valid(template.FieldTypeMCQ5, "E"))
	assert.True(t, v.Valid(template.FieldTypeInt, "0"))
	assert.False(t, v.Valid(template.FieldTypeIntFrom1, "x"))
	assert.False(t, v.Valid(template.FieldType("QTYPE_UNKNOWN"), "A"))
}

func TestCheckReturnsTypedError(t *testing.T) {
	err := ValueValidator{}.Check(template.FieldTypeMCQ2, "X")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAnswerValue))

	var ive *InvalidAnswerValueError
	require.True(t, errors.As(err, &ive))
	assert.Equal(t, []string{"T", "F"}, ive.Allowed)
	assert.Contains(t, err.Error(), `"X"`)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "T", NormalizeValue(" t "))
	assert.Equal(t, "-", NormalizeValue("-"))
}

func TestNormalizeValueFoldsWidth(t *testing.T) {
	assert.Equal(t, "A", NormalizeValue("Ａ"))
	assert.Equal(t, "17", NormalizeValue("１７"))
	assert.Equal(t, NormalizeValue(CleanCell(" ｔ ")), NormalizeValue(" ｔ "))
}
