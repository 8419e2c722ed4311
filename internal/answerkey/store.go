package answerkey

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"omrkey/internal/template"
)

// DefaultVariantCode is used for answer keys that carry no variant.
const DefaultVariantCode = "000"

// AnswerSet maps label to answer for one exam variant.
type AnswerSet map[string]string

// AllAnswers maps exam variant code to its answers.
type AllAnswers map[string]AnswerSet

// ScoreMap holds one score per individual label. Group scores are derived.
type ScoreMap map[string]float64

func (a AllAnswers) Clone() AllAnswers {
	out := make(AllAnswers, len(a))
	for code, set := range a {
		cp := make(AnswerSet, len(set))
		for k, v := range set {
			cp[k] = v
		}
		out[code] = cp
	}
	return out
}

// Variants returns variant codes in ascending order.
func (a AllAnswers) Variants() []string {
	out := make([]string, 0, len(a))
	for code := range a {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (s ScoreMap) Clone() ScoreMap {
	out := make(ScoreMap, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Total sums the map in label order so the result does not depend on map
// iteration.
func (s ScoreMap) Total() float64 {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += s[k]
	}
	return total
}

// ValidateVariantCode accepts codes usable as worksheet names.
func ValidateVariantCode(code string) error {
	if strings.TrimSpace(code) == "" || code != strings.TrimSpace(code) {
		return fmt.Errorf("%w: %q", ErrInvalidVariantCode, code)
	}
	if len([]rune(code)) > 31 || strings.ContainsAny(code, `[]:*?/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidVariantCode, code)
	}
	return nil
}

// ValidateVariantCodes checks every code and rejects codes that differ only
// in case. Worksheet names are case-insensitive in xlsx, so "a1" and "A1"
// would land on the same sheet.
func ValidateVariantCodes(codes []string) error {
	seen := make(map[string]string, len(codes))
	for _, code := range codes {
		if err := ValidateVariantCode(code); err != nil {
			return err
		}
		folded := strings.ToLower(code)
		if prev, ok := seen[folded]; ok {
			return fmt.Errorf("%w: %q and %q name the same worksheet", ErrInvalidVariantCode, prev, code)
		}
		seen[folded] = code
	}
	return nil
}

// Store is the answer key being edited in one session. Every write is
// checked against the question index and the value validator; a rejected
// write leaves the store unchanged.
type Store struct {
	index     *template.QuestionIndex
	validator ValueValidator
	answers   AllAnswers
	scores    ScoreMap
}

func NewStore(index *template.QuestionIndex, validator ValueValidator) *Store {
	return &Store{
		index:     index,
		validator: validator,
		answers:   make(AllAnswers),
		scores:    make(ScoreMap),
	}
}

func (s *Store) entry(label string) (template.QuestionEntry, error) {
	e, ok := s.index.Lookup(label)
	if !ok {
		return template.QuestionEntry{}, &UnknownLabelError{Label: label}
	}
	return e, nil
}

// CheckAnswer validates a value for label without storing it.
func (s *Store) CheckAnswer(label, value string) error {
	e, err := s.entry(label)
	if err != nil {
		return err
	}
	if err := s.validator.Check(e.FieldType, CleanCell(value)); err != nil {
		var ive *InvalidAnswerValueError
		if errors.As(err, &ive) {
			ive.Label = label
		}
		return err
	}
	return nil
}

// SetAnswer stores value for label in variant. An empty value clears it.
func (s *Store) SetAnswer(variant, label, value string) error {
	if err := s.checkVariant(variant); err != nil {
		return err
	}
	if CleanCell(value) == "" {
		if _, err := s.entry(label); err != nil {
			return err
		}
		s.ClearAnswer(variant, label)
		return nil
	}
	if err := s.CheckAnswer(label, value); err != nil {
		return err
	}
	set, ok := s.answers[variant]
	if !ok {
		set = make(AnswerSet)
		s.answers[variant] = set
	}
	set[label] = NormalizeValue(value)
	return nil
}

func (s *Store) ClearAnswer(variant, label string) {
	if set, ok := s.answers[variant]; ok {
		delete(set, label)
	}
}

func (s *Store) Answer(variant, label string) (string, bool) {
	v, ok := s.answers[variant][label]
	return v, ok
}

// AddVariant registers an empty variant. Existing answers are kept. A code
// equal to an existing one except for case is rejected.
func (s *Store) AddVariant(code string) error {
	if err := s.checkVariant(code); err != nil {
		return err
	}
	if _, ok := s.answers[code]; !ok {
		s.answers[code] = make(AnswerSet)
	}
	return nil
}

func (s *Store) checkVariant(code string) error {
	if err := ValidateVariantCode(code); err != nil {
		return err
	}
	for existing := range s.answers {
		if existing != code && strings.EqualFold(existing, code) {
			return fmt.Errorf("%w: %q and %q name the same worksheet", ErrInvalidVariantCode, existing, code)
		}
	}
	return nil
}

func (s *Store) RemoveVariant(code string) {
	delete(s.answers, code)
}

func (s *Store) Variants() []string {
	return s.answers.Variants()
}

func (s *Store) SetScore(label string, score float64) error {
	if _, err := s.entry(label); err != nil {
		return err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return fmt.Errorf("%w: %v for label %q", ErrInvalidScore, score, label)
	}
	s.scores[label] = score
	return nil
}

func (s *Store) Score(label string) float64 {
	return s.scores[label]
}

// SetGroupScore spreads total evenly over the members of grp.
func (s *Store) SetGroupScore(grp QuestionGroup, total float64) error {
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return fmt.Errorf("%w: %v for %q", ErrInvalidScore, total, grp.BaseKey)
	}
	for _, label := range grp.Members {
		if _, err := s.entry(label); err != nil {
			return err
		}
	}
	s.scores = Distribute(grp, total, s.scores)
	return nil
}

// ApplyDefaults replaces every score with the default split of total.
func (s *Store) ApplyDefaults(total float64) {
	s.scores = ApplyDefaultScores(s.index, total)
}

// Replace swaps in a whole answer key after validating all of it. Nothing is
// changed if any label or value is rejected.
func (s *Store) Replace(answers AllAnswers, scores ScoreMap) error {
	next := NewStore(s.index, s.validator)
	if err := next.load(answers, scores); err != nil {
		return err
	}
	s.answers, s.scores = next.answers, next.scores
	return nil
}

func (s *Store) load(answers AllAnswers, scores ScoreMap) error {
	var problems []error
	for _, code := range answers.Variants() {
		if err := s.AddVariant(code); err != nil {
			problems = append(problems, err)
			continue
		}
		set := answers[code]
		for _, label := range sortedKeys(set) {
			if err := s.SetAnswer(code, label, set[label]); err != nil {
				problems = append(problems, fmt.Errorf("variant %s: %w", code, err))
			}
		}
	}
	for _, label := range sortedKeys(scores) {
		if err := s.SetScore(label, scores[label]); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) > 0 {
		return &SubmissionError{Problems: problems}
	}
	return nil
}

// Answers returns a deep copy of all answers.
func (s *Store) Answers() AllAnswers {
	return s.answers.Clone()
}

func (s *Store) Scores() ScoreMap {
	return s.scores.Clone()
}

func (s *Store) Index() *template.QuestionIndex {
	return s.index
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
