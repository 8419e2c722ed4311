package answerkey

import (
	"errors"
	"fmt"
	"strings"

	"omrkey/internal/template"
)

var (
	ErrUnknownLabel       = errors.New("unknown label")
	ErrInvalidAnswerValue = errors.New("invalid answer value")
	ErrScoreTotalMismatch = errors.New("score total mismatch")
	ErrInvalidVariantCode = errors.New("invalid exam variant code")
	ErrAnswerKeyNotFound  = errors.New("answer key not found")
	ErrMalformedAnswerKey = errors.New("malformed answer key")
	ErrInvalidScore       = errors.New("invalid score")
	ErrInvalidExamCode    = errors.New("invalid exam code")
	ErrTemplateRequired   = errors.New("template is required")
)

type UnknownLabelError struct {
	Label string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("label %q does not exist in the template", e.Label)
}

func (e *UnknownLabelError) Unwrap() error { return ErrUnknownLabel }

type InvalidAnswerValueError struct {
	Label     string
	FieldType template.FieldType
	Value     string
	Allowed   []string
}

func (e *InvalidAnswerValueError) Error() string {
	msg := fmt.Sprintf("value %q is not allowed for %s", e.Value, e.FieldType)
	if e.Label != "" {
		msg = fmt.Sprintf("label %q: %s", e.Label, msg)
	}
	if len(e.Allowed) > 0 {
		msg += " (allowed: " + strings.Join(e.Allowed, ", ") + ")"
	}
	return msg
}

func (e *InvalidAnswerValueError) Unwrap() error { return ErrInvalidAnswerValue }

type ScoreTotalMismatchError struct {
	Actual   float64
	Expected float64
}

func (e *ScoreTotalMismatchError) Error() string {
	return fmt.Sprintf("total score %s does not match exam total %s", FormatScore(e.Actual), FormatScore(e.Expected))
}

func (e *ScoreTotalMismatchError) Unwrap() error { return ErrScoreTotalMismatch }

// SubmissionError lists every label-level problem found at submission.
type SubmissionError struct {
	Problems []error
}

func (e *SubmissionError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Error())
	}
	return "answer key rejected: " + strings.Join(parts, "; ")
}

func (e *SubmissionError) Unwrap() []error { return e.Problems }

// Error codes sent to API clients in the error envelope and used as metric
// labels.
const (
	CodeAnswerKeyNotFound  = "answer_key_not_found"
	CodeTemplateInvalid    = "template_invalid"
	CodeMalformedTemplate  = "malformed_template"
	CodeTemplateRequired   = "template_required"
	CodeScoreTotalMismatch = "score_total_mismatch"
	CodeUnknownLabel       = "unknown_label"
	CodeInvalidAnswerValue = "invalid_answer_value"
	CodeInvalidVariantCode = "invalid_variant_code"
	CodeInvalidExamCode    = "invalid_exam_code"
	CodeInvalidScore       = "invalid_score"
	CodeMalformedAnswerKey = "malformed_answer_key"
	CodeEmptyWorkbook      = "empty_workbook"
	CodeUnreadableWorkbook = "unreadable_workbook"
)

// ErrorCode names err by the first sentinel it matches, or returns "" for
// errors that are not part of the answer-key taxonomy. A SubmissionError
// carrying several kinds of problem is named after the first kind listed.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAnswerKeyNotFound):
		return CodeAnswerKeyNotFound
	case errors.Is(err, template.ErrTemplateInvalid):
		return CodeTemplateInvalid
	case errors.Is(err, template.ErrMalformedTemplate):
		return CodeMalformedTemplate
	case errors.Is(err, ErrTemplateRequired):
		return CodeTemplateRequired
	case errors.Is(err, ErrScoreTotalMismatch):
		return CodeScoreTotalMismatch
	case errors.Is(err, ErrUnknownLabel):
		return CodeUnknownLabel
	case errors.Is(err, ErrInvalidAnswerValue):
		return CodeInvalidAnswerValue
	case errors.Is(err, ErrInvalidVariantCode):
		return CodeInvalidVariantCode
	case errors.Is(err, ErrInvalidExamCode):
		return CodeInvalidExamCode
	case errors.Is(err, ErrInvalidScore):
		return CodeInvalidScore
	case errors.Is(err, ErrMalformedAnswerKey):
		return CodeMalformedAnswerKey
	case errors.Is(err, ErrEmptyWorkbook):
		return CodeEmptyWorkbook
	case errors.Is(err, ErrUnreadableWorkbook):
		return CodeUnreadableWorkbook
	default:
		return ""
	}
}
