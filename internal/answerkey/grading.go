package answerkey

import (
	"strings"

	"omrkey/internal/template"
)

// LabelScore is the outcome for one bubble slot.
type LabelScore struct {
	Label       string  `json:"label"`
	Selected    string  `json:"selected,omitempty"`
	Correct     string  `json:"correct,omitempty"`
	Answered    bool    `json:"answered"`
	IsCorrect   *bool   `json:"is_correct,omitempty"`
	EarnedScore float64 `json:"earned_score"`
	Reason      string  `json:"reason"`
}

// GroupScore is the outcome for one question group.
type GroupScore struct {
	BaseKey      string       `json:"base_key"`
	DisplayLabel string       `json:"display_label"`
	Answered     bool         `json:"answered"`
	IsCorrect    *bool        `json:"is_correct,omitempty"`
	EarnedScore  float64      `json:"earned_score"`
	MaxScore     float64      `json:"max_score"`
	Reason       string       `json:"reason"`
	Breakdown    []LabelScore `json:"breakdown,omitempty"`
}

type GradeResult struct {
	Variant     string       `json:"variant"`
	TotalEarned float64      `json:"total_earned"`
	TotalMax    float64      `json:"total_max"`
	Correct     int          `json:"correct"`
	Wrong       int          `json:"wrong"`
	Partial     int          `json:"partial"`
	Unanswered  int          `json:"unanswered"`
	Groups      []GroupScore `json:"groups"`
}

const (
	reasonCorrect       = "correct"
	reasonWrong         = "wrong"
	reasonPartial       = "partial"
	reasonUnanswered    = "unanswered"
	reasonMissingKey    = "missing_answer_key"
	reasonMultipleMarks = "multiple_marks"
)

// GradeSheet scores the marks read from one answer sheet against the key of
// its variant. True/false groups earn per-part credit, short-answer groups
// are all-or-nothing, and single questions need an exact match.
func GradeSheet(groups *Groups, variant string, key AnswerSet, scores ScoreMap, marks map[string]string) GradeResult {
	res := GradeResult{Variant: variant, Groups: make([]GroupScore, 0, groups.Len())}
	for _, grp := range groups.List() {
		var gs GroupScore
		switch grp.Kind {
		case template.LabelTrueFalsePart:
			gs = gradeTrueFalse(grp, key, scores, marks)
		case template.LabelSymbolColumn:
			gs = gradeColumns(grp, key, scores, marks)
		default:
			gs = gradeSingle(grp, key, scores, marks)
		}
		gs.BaseKey = grp.BaseKey
		gs.DisplayLabel = grp.DisplayLabel
		gs.MaxScore = RollUp(grp, scores)

		res.TotalEarned += gs.EarnedScore
		res.TotalMax += gs.MaxScore
		switch gs.Reason {
		case reasonCorrect:
			res.Correct++
		case reasonPartial:
			res.Partial++
		case reasonUnanswered:
			res.Unanswered++
		case reasonWrong, reasonMultipleMarks:
			res.Wrong++
		}
		res.Groups = append(res.Groups, gs)
	}
	return res
}

func gradeLabel(label string, ft template.FieldType, key AnswerSet, scores ScoreMap, marks map[string]string) LabelScore {
	correct := NormalizeValue(key[label])
	selected := NormalizeValue(marks[label])
	out := LabelScore{Label: label, Selected: selected, Correct: correct}

	if correct == "" {
		out.Answered = selected != ""
		out.Reason = reasonMissingKey
		return out
	}
	if selected == "" {
		out.Reason = reasonUnanswered
		return out
	}
	out.Answered = true
	if len([]rune(selected)) > 1 && len([]rune(correct)) == 1 && singleMark(ft) {
		out.IsCorrect = boolPtr(false)
		out.Reason = reasonMultipleMarks
		return out
	}
	if strings.EqualFold(selected, correct) {
		out.IsCorrect = boolPtr(true)
		out.EarnedScore = scores[label]
		out.Reason = reasonCorrect
		return out
	}
	out.IsCorrect = boolPtr(false)
	out.Reason = reasonWrong
	return out
}

// singleMark reports whether every bubble of ft is one character, so a
// label of that type takes exactly one mark.
func singleMark(ft template.FieldType) bool {
	spec, ok := template.LookupFieldType(ft)
	if !ok || len(spec.BubbleValues) == 0 {
		return false
	}
	for _, v := range spec.BubbleValues {
		if len([]rune(v)) != 1 {
			return false
		}
	}
	return true
}

func gradeSingle(grp QuestionGroup, key AnswerSet, scores ScoreMap, marks map[string]string) GroupScore {
	ls := gradeLabel(grp.Members[0], grp.FieldType, key, scores, marks)
	return GroupScore{
		Answered:    ls.Answered,
		IsCorrect:   ls.IsCorrect,
		EarnedScore: ls.EarnedScore,
		Reason:      ls.Reason,
	}
}

func gradeTrueFalse(grp QuestionGroup, key AnswerSet, scores ScoreMap, marks map[string]string) GroupScore {
	out := GroupScore{Breakdown: make([]LabelScore, 0, len(grp.Members))}
	keyed, answered, correct := 0, 0, 0
	for _, label := range grp.Members {
		ls := gradeLabel(label, grp.FieldType, key, scores, marks)
		out.Breakdown = append(out.Breakdown, ls)
		if ls.Reason == reasonMissingKey {
			continue
		}
		keyed++
		if ls.Answered {
			answered++
		}
		if ls.Reason == reasonCorrect {
			correct++
			out.EarnedScore += ls.EarnedScore
		}
	}

	switch {
	case keyed == 0:
		out.Reason = reasonMissingKey
	case answered == 0:
		out.Reason = reasonUnanswered
	case correct == keyed:
		out.Answered = true
		out.IsCorrect = boolPtr(true)
		out.Reason = reasonCorrect
	case correct == 0:
		out.Answered = true
		out.IsCorrect = boolPtr(false)
		out.Reason = reasonWrong
	default:
		out.Answered = true
		out.IsCorrect = boolPtr(false)
		out.Reason = reasonPartial
	}
	return out
}

func gradeColumns(grp QuestionGroup, key AnswerSet, scores ScoreMap, marks map[string]string) GroupScore {
	out := GroupScore{Breakdown: make([]LabelScore, 0, len(grp.Members))}
	keyed, answered, correct := 0, 0, 0
	for _, label := range grp.Members {
		ls := gradeLabel(label, grp.FieldType, key, scores, marks)
		out.Breakdown = append(out.Breakdown, ls)
		if ls.Answered {
			answered++
		}
		if ls.Reason == reasonMissingKey {
			// A column with no key must stay blank on the sheet.
			if ls.Answered {
				keyed++
			}
			continue
		}
		keyed++
		if ls.Reason == reasonCorrect {
			correct++
		}
	}

	switch {
	case keyed == 0:
		out.Reason = reasonMissingKey
	case answered == 0:
		out.Reason = reasonUnanswered
	case correct == keyed:
		out.Answered = true
		out.IsCorrect = boolPtr(true)
		out.EarnedScore = RollUp(grp, scores)
		out.Reason = reasonCorrect
	default:
		out.Answered = true
		out.IsCorrect = boolPtr(false)
		out.Reason = reasonWrong
	}
	return out
}

func boolPtr(v bool) *bool {
	return &v
}
