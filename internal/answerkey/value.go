package answerkey

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"omrkey/internal/template"
)

var (
	trueFalseValues = []string{"T", "F"}
	symbolValues    = []string{"-", ",", "0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
)

// ValueValidator gates every answer written into a store. Only QTYPE_MCQ2 and
// QTYPE_INT10_SYMBOL are checked unless StrictAlphabet is set, in which case
// the remaining types are checked against their catalog bubble values.
type ValueValidator struct {
	StrictAlphabet bool
}

// Check returns an *InvalidAnswerValueError when raw is not acceptable for ft.
func (v ValueValidator) Check(ft template.FieldType, raw string) error {
	switch ft {
	case template.FieldTypeMCQ2:
		if !slices.Contains(trueFalseValues, strings.ToUpper(raw)) {
			return &InvalidAnswerValueError{FieldType: ft, Value: raw, Allowed: trueFalseValues}
		}
	case template.FieldTypeInt10Symbol:
		if !slices.Contains(symbolValues, strings.ToLower(raw)) {
			return &InvalidAnswerValueError{FieldType: ft, Value: raw, Allowed: symbolValues}
		}
	default:
		if !v.StrictAlphabet {
			return nil
		}
		spec, ok := template.LookupFieldType(ft)
		if !ok {
			return &InvalidAnswerValueError{FieldType: ft, Value: raw}
		}
		if !slices.Contains(spec.BubbleValues, strings.ToUpper(raw)) {
			return &InvalidAnswerValueError{FieldType: ft, Value: raw, Allowed: spec.BubbleValues}
		}
	}
	return nil
}

func (v ValueValidator) Valid(ft template.FieldType, raw string) bool {
	return v.Check(ft, raw) == nil
}

// IsValidAnswerValue applies the default, non-strict rules.
func IsValidAnswerValue(ft template.FieldType, raw string) bool {
	return ValueValidator{}.Valid(ft, raw)
}

// NormalizeValue is the stored form of an answer: cleaned as a spreadsheet
// cell and upper-cased, so "ｔ" and " t " both store as "T".
func NormalizeValue(raw string) string {
	return strings.ToUpper(CleanCell(raw))
}

// CleanCell trims a cell and folds full-width characters, so "１７" typed on
// an East Asian keyboard layout reads as "17".
func CleanCell(s string) string {
	return norm.NFC.String(width.Fold.String(strings.TrimSpace(s)))
}
