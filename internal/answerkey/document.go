package answerkey

import (
	"bytes"
	"encoding/json"
	"fmt"

	"omrkey/internal/template"
)

// Document is the persisted answer-key JSON.
type Document struct {
	Answers AllAnswers `json:"answers"`
	Scores  ScoreMap   `json:"scores"`
}

// DecodeAnswerKey reads either the nested form
// {"answers":{code:{label:value}},"scores":{label:n}} or the legacy flat form
// {label:value}, which becomes variant DefaultVariantCode.
func DecodeAnswerKey(data []byte) (AllAnswers, ScoreMap, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedAnswerKey, err)
	}

	if rawAnswers, ok := top["answers"]; ok && isObject(rawAnswers) {
		answers, err := decodeNested(rawAnswers)
		if err == nil {
			scores := make(ScoreMap)
			if rawScores, ok := top["scores"]; ok && !isNull(rawScores) {
				if err := json.Unmarshal(rawScores, &scores); err != nil {
					return nil, nil, fmt.Errorf("%w: scores: %v", ErrMalformedAnswerKey, err)
				}
			}
			return answers, scores, nil
		}
	}

	flat := make(AnswerSet, len(top))
	for label, raw := range top {
		v, err := answerString(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: label %q: %v", ErrMalformedAnswerKey, label, err)
		}
		flat[label] = v
	}
	return AllAnswers{DefaultVariantCode: flat}, make(ScoreMap), nil
}

func decodeNested(raw json.RawMessage) (AllAnswers, error) {
	var variants map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &variants); err != nil {
		return nil, err
	}
	out := make(AllAnswers, len(variants))
	for code, set := range variants {
		as := make(AnswerSet, len(set))
		for label, v := range set {
			s, err := answerString(v)
			if err != nil {
				return nil, err
			}
			as[label] = s
		}
		out[code] = as
	}
	return out, nil
}

// answerString accepts JSON strings, numbers (a digit typed as a number) and null.
func answerString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	if isNull(raw) {
		return "", nil
	}
	return "", fmt.Errorf("answer must be a string, got %s", raw)
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// EncodeAnswerKey writes the nested form.
func EncodeAnswerKey(answers AllAnswers, scores ScoreMap) ([]byte, error) {
	if answers == nil {
		answers = AllAnswers{}
	}
	if scores == nil {
		scores = ScoreMap{}
	}
	return json.Marshal(Document{Answers: answers, Scores: scores})
}

// LoadAnswerKey decodes persisted JSON and keeps only what the index knows.
// Each dropped label or value becomes a warning.
func LoadAnswerKey(data []byte, idx *template.QuestionIndex, validator ValueValidator) (AllAnswers, ScoreMap, []ImportWarning, error) {
	answers, scores, err := DecodeAnswerKey(data)
	if err != nil {
		return nil, nil, nil, err
	}
	answers, scores, warnings := FilterToIndex(answers, scores, idx, validator)
	return answers, scores, warnings, nil
}

// FilterToIndex drops unknown labels and invalid values.
func FilterToIndex(answers AllAnswers, scores ScoreMap, idx *template.QuestionIndex, validator ValueValidator) (AllAnswers, ScoreMap, []ImportWarning) {
	store := NewStore(idx, validator)
	var warnings []ImportWarning

	for _, code := range answers.Variants() {
		if err := store.AddVariant(code); err != nil {
			warnings = append(warnings, newWarning(code, 0, "", err))
			continue
		}
		set := answers[code]
		for _, label := range sortedKeys(set) {
			if err := store.SetAnswer(code, label, set[label]); err != nil {
				warnings = append(warnings, newWarning(code, 0, label, err))
			}
		}
	}
	for _, label := range sortedKeys(scores) {
		if err := store.SetScore(label, scores[label]); err != nil {
			warnings = append(warnings, newWarning("", 0, label, err))
		}
	}
	return store.Answers(), store.Scores(), warnings
}
