package answerkey

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"omrkey/internal/template"
)

// SheetHeader is written to row 1 of every worksheet and skipped on import.
var SheetHeader = []string{"Câu", "Đáp án", "Điểm", "Hướng dẫn"}

// emptyColumn marks an unanswered column inside a short-answer cell.
const emptyColumn = "_"

// SheetRow is one spreadsheet row below the header: column A key, B answer,
// C score, D hint. Line is the 1-based spreadsheet row, used in warnings.
type SheetRow struct {
	Line   int    `json:"line,omitempty"`
	Key    string `json:"key"`
	Answer string `json:"answer"`
	Score  string `json:"score"`
	Hint   string `json:"hint,omitempty"`
}

// Sheet is the answer key of one exam variant; Name is the variant code.
type Sheet struct {
	Name string     `json:"name"`
	Rows []SheetRow `json:"rows"`
}

type WarningCode string

const (
	WarningUnknownLabel   WarningCode = "unknown_label"
	WarningInvalidValue   WarningCode = "invalid_value"
	WarningInvalidScore   WarningCode = "invalid_score"
	WarningInvalidVariant WarningCode = "invalid_variant"
	WarningMalformedRow   WarningCode = "malformed_row"
	WarningScoreConflict  WarningCode = "score_conflict"
	WarningTemplateDrift  WarningCode = "template_changed"
)

// ImportWarning describes one skipped row or cell.
type ImportWarning struct {
	Sheet   string      `json:"sheet,omitempty"`
	Row     int         `json:"row,omitempty"`
	Key     string      `json:"key,omitempty"`
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w ImportWarning) String() string {
	var loc []string
	if w.Sheet != "" {
		loc = append(loc, "sheet "+w.Sheet)
	}
	if w.Row > 0 {
		loc = append(loc, fmt.Sprintf("row %d", w.Row))
	}
	if len(loc) == 0 {
		return w.Message
	}
	return strings.Join(loc, ", ") + ": " + w.Message
}

func newWarning(sheet string, row int, key string, err error) ImportWarning {
	code := WarningMalformedRow
	switch {
	case errors.Is(err, ErrUnknownLabel):
		code = WarningUnknownLabel
	case errors.Is(err, ErrInvalidAnswerValue):
		code = WarningInvalidValue
	case errors.Is(err, ErrInvalidScore):
		code = WarningInvalidScore
	case errors.Is(err, ErrInvalidVariantCode):
		code = WarningInvalidVariant
	}
	return ImportWarning{Sheet: sheet, Row: row, Key: key, Code: code, Message: err.Error()}
}

// Codec converts between the flat store and the grouped sheet layout.
type Codec struct {
	Index     *template.QuestionIndex
	Groups    *Groups
	Validator ValueValidator
}

func NewCodec(idx *template.QuestionIndex, validator ValueValidator) *Codec {
	return &Codec{Index: idx, Groups: GroupForScoring(idx), Validator: validator}
}

// ExportSheets is the non-strict Codec.Export.
func ExportSheets(answers AllAnswers, scores ScoreMap, idx *template.QuestionIndex, groups *Groups) []Sheet {
	return (&Codec{Index: idx, Groups: groups}).Export(answers, scores)
}

// ImportSheets is the non-strict Codec.Import.
func ImportSheets(sheets []Sheet, idx *template.QuestionIndex, groups *Groups) ImportResult {
	return (&Codec{Index: idx, Groups: groups}).Import(sheets)
}

// BlankSheets is the fill-in workbook layout for groups.
func BlankSheets(groups *Groups, variants []string) []Sheet {
	return (&Codec{Groups: groups}).Blank(variants)
}

// Export writes one sheet per variant, in variant order, with one row per
// group. A group whose members are not all scored alike gets its score on
// one extra row per scored member instead of on the group row. With no
// variants a single DefaultVariantCode sheet carries the scores.
func (c *Codec) Export(answers AllAnswers, scores ScoreMap) []Sheet {
	variants := answers.Variants()
	if len(variants) == 0 {
		variants = []string{DefaultVariantCode}
	}

	out := make([]Sheet, 0, len(variants))
	for _, code := range variants {
		set := answers[code]
		sheet := Sheet{Name: code, Rows: make([]SheetRow, 0, c.Groups.Len())}
		for _, grp := range c.Groups.List() {
			row := SheetRow{Key: grp.BaseKey, Answer: formatGroupAnswer(grp, set)}
			split := evenlySplit(grp, scores)
			if split {
				row.Score = formatGroupScore(grp, scores)
			}
			sheet.Rows = append(sheet.Rows, row)
			if !split {
				sheet.Rows = append(sheet.Rows, memberScoreRows(grp, scores)...)
			}
		}
		for i := range sheet.Rows {
			sheet.Rows[i].Line = i + 2
		}
		out = append(out, sheet)
	}
	return out
}

// Blank produces the fill-in layout: keys only, with an input hint per row.
func (c *Codec) Blank(variants []string) []Sheet {
	if len(variants) == 0 {
		variants = []string{DefaultVariantCode}
	}
	out := make([]Sheet, 0, len(variants))
	for _, code := range variants {
		sheet := Sheet{Name: code, Rows: make([]SheetRow, 0, c.Groups.Len())}
		for i, grp := range c.Groups.List() {
			sheet.Rows = append(sheet.Rows, SheetRow{Line: i + 2, Key: grp.BaseKey, Hint: groupHint(grp)})
		}
		out = append(out, sheet)
	}
	return out
}

func formatGroupAnswer(grp QuestionGroup, set AnswerSet) string {
	switch grp.Kind {
	case template.LabelSymbolColumn:
		var b strings.Builder
		pending := 0
		for _, label := range grp.Members {
			v, ok := set[label]
			if !ok || v == "" {
				pending++
				continue
			}
			b.WriteString(strings.Repeat(emptyColumn, pending))
			pending = 0
			b.WriteString(v)
		}
		return b.String()
	case template.LabelTrueFalsePart:
		parts := make([]string, 0, len(grp.Members))
		for i, label := range grp.Members {
			if v, ok := set[label]; ok && v != "" {
				parts = append(parts, strings.ToUpper(grp.part(i))+": "+v)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return set[grp.Members[0]]
	}
}

func formatGroupScore(grp QuestionGroup, scores ScoreMap) string {
	for _, label := range grp.Members {
		if _, ok := scores[label]; ok {
			return strconv.FormatFloat(RollUp(grp, scores), 'f', -1, 64)
		}
	}
	return ""
}

// evenlySplit reports whether the group row alone can carry grp's scores:
// either no member is scored or every member has the same score.
func evenlySplit(grp QuestionGroup, scores ScoreMap) bool {
	if len(grp.Members) < 2 {
		return true
	}
	first, firstOK := scores[grp.Members[0]]
	for _, label := range grp.Members[1:] {
		v, ok := scores[label]
		if ok != firstOK || (ok && v != first) {
			return false
		}
	}
	return true
}

func memberScoreRows(grp QuestionGroup, scores ScoreMap) []SheetRow {
	rows := make([]SheetRow, 0, len(grp.Members))
	for _, label := range grp.Members {
		if v, ok := scores[label]; ok {
			rows = append(rows, SheetRow{Key: label, Score: strconv.FormatFloat(v, 'f', -1, 64)})
		}
	}
	return rows
}

func groupHint(grp QuestionGroup) string {
	switch grp.Kind {
	case template.LabelSymbolColumn:
		return fmt.Sprintf("Nhập tối đa %d ký tự: 0-9, dấu - hoặc dấu , (dùng _ cho cột bỏ trống)", len(grp.Members))
	case template.LabelTrueFalsePart:
		parts := make([]string, 0, len(grp.Members))
		for i := range grp.Members {
			parts = append(parts, strings.ToUpper(grp.part(i))+": T")
		}
		return "Dạng: " + strings.Join(parts, "; ") + " (T = Đúng, F = Sai)"
	default:
		if spec, ok := template.LookupFieldType(grp.FieldType); ok {
			return "Một trong: " + strings.Join(spec.BubbleValues, ", ")
		}
		return ""
	}
}

// ImportResult is what an import produced. The caller decides whether to
// replace its store with it.
type ImportResult struct {
	Answers  AllAnswers      `json:"answers"`
	Scores   ScoreMap        `json:"scores"`
	Warnings []ImportWarning `json:"warnings"`
}

type importState struct {
	c         *Codec
	res       ImportResult
	scoreSeen map[string]float64
}

// Import reads sheets in the given order and rows in file order. Rows with
// unknown keys and cells with invalid values are skipped with a warning;
// everything else is applied.
func (c *Codec) Import(sheets []Sheet) ImportResult {
	st := &importState{
		c: c,
		res: ImportResult{
			Answers:  make(AllAnswers),
			Scores:   make(ScoreMap),
			Warnings: make([]ImportWarning, 0),
		},
		scoreSeen: make(map[string]float64),
	}

	for _, sheet := range sheets {
		code := CleanCell(sheet.Name)
		if err := st.checkVariant(code); err != nil {
			st.warn(sheet.Name, 0, "", err)
			continue
		}
		set, ok := st.res.Answers[code]
		if !ok {
			set = make(AnswerSet)
			st.res.Answers[code] = set
		}
		for i, row := range sheet.Rows {
			line := row.Line
			if line == 0 {
				line = i + 2
			}
			st.importRow(code, line, row, set)
		}
	}
	return st.res
}

func (st *importState) checkVariant(code string) error {
	if err := ValidateVariantCode(code); err != nil {
		return err
	}
	for existing := range st.res.Answers {
		if existing != code && strings.EqualFold(existing, code) {
			return fmt.Errorf("%w: %q and %q name the same worksheet", ErrInvalidVariantCode, existing, code)
		}
	}
	return nil
}

func (st *importState) warn(sheet string, row int, key string, err error) {
	st.res.Warnings = append(st.res.Warnings, newWarning(sheet, row, key, err))
}

func (st *importState) importRow(code string, line int, row SheetRow, set AnswerSet) {
	key := CleanCell(row.Key)
	answer := CleanCell(row.Answer)
	score := CleanCell(row.Score)
	if key == "" {
		if answer != "" || score != "" {
			st.warn(code, line, "", errors.New("row has no question key"))
		}
		return
	}

	grp, ok := st.resolve(key)
	if !ok {
		st.warn(code, line, key, &UnknownLabelError{Label: key})
		return
	}

	if answer != "" {
		switch grp.Kind {
		case template.LabelSymbolColumn:
			st.applyColumns(code, line, grp, answer, set)
		case template.LabelTrueFalsePart:
			st.applyParts(code, line, grp, answer, set)
		default:
			st.applyValue(code, line, grp.Members[0], answer, set)
		}
	}
	if score != "" {
		st.applyScore(code, line, key, grp, score)
	}
}

// resolve finds the group for a base key, or wraps a single indexed label.
func (st *importState) resolve(key string) (QuestionGroup, bool) {
	if grp, ok := st.c.Groups.Get(key); ok {
		return grp, true
	}
	e, ok := st.c.Index.Lookup(key)
	if !ok {
		return QuestionGroup{}, false
	}
	return QuestionGroup{
		BaseKey:   key,
		Kind:      template.LabelPlain,
		FieldType: e.FieldType,
		Number:    e.Number,
		Members:   []string{key},
	}, true
}

func (st *importState) applyValue(code string, line int, label, value string, set AnswerSet) {
	e, ok := st.c.Index.Lookup(label)
	if !ok {
		st.warn(code, line, label, &UnknownLabelError{Label: label})
		return
	}
	if err := st.c.Validator.Check(e.FieldType, value); err != nil {
		var ive *InvalidAnswerValueError
		if errors.As(err, &ive) {
			ive.Label = label
		}
		st.warn(code, line, label, err)
		return
	}
	set[label] = NormalizeValue(value)
}

func (st *importState) applyColumns(code string, line int, grp QuestionGroup, answer string, set AnswerSet) {
	chars := []rune(answer)
	if len(chars) > len(grp.Members) {
		st.warn(code, line, grp.BaseKey, &InvalidAnswerValueError{
			Label:     grp.BaseKey,
			FieldType: grp.FieldType,
			Value:     answer,
			Allowed:   []string{fmt.Sprintf("at most %d characters", len(grp.Members))},
		})
		return
	}
	for i, r := range chars {
		ch := string(r)
		if ch == emptyColumn {
			continue
		}
		st.applyValue(code, line, grp.Members[i], ch, set)
	}
}

func (st *importState) applyParts(code string, line int, grp QuestionGroup, answer string, set AnswerSet) {
	if !strings.Contains(answer, ":") {
		chars := []rune(answer)
		if len(chars) != len(grp.Members) {
			st.warn(code, line, grp.BaseKey, fmt.Errorf("expected %q: T; ... or %d letters, got %q", "A", len(grp.Members), answer))
			return
		}
		for i, r := range chars {
			st.applyValue(code, line, grp.Members[i], string(r), set)
		}
		return
	}

	for _, piece := range strings.Split(answer, ";") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		sub, value, ok := strings.Cut(piece, ":")
		sub = strings.ToLower(strings.TrimSpace(sub))
		value = strings.TrimSpace(value)
		if !ok || sub == "" {
			st.warn(code, line, grp.BaseKey, fmt.Errorf("cannot read %q, expected SUB: T|F", piece))
			continue
		}
		member := ""
		for i, label := range grp.Members {
			if grp.part(i) == sub {
				member = label
				break
			}
		}
		if member == "" {
			st.warn(code, line, grp.BaseKey+"_"+sub, &UnknownLabelError{Label: grp.BaseKey + "_" + sub})
			continue
		}
		if value == "" {
			continue
		}
		st.applyValue(code, line, member, value, set)
	}
}

func (st *importState) applyScore(code string, line int, key string, grp QuestionGroup, raw string) {
	v, err := ParseScoreCell(raw)
	if err != nil {
		st.warn(code, line, key, err)
		return
	}
	if prev, ok := st.scoreSeen[key]; ok {
		if math.Abs(prev-v) > 1e-9 {
			st.res.Warnings = append(st.res.Warnings, ImportWarning{
				Sheet:   code,
				Row:     line,
				Key:     key,
				Code:    WarningScoreConflict,
				Message: fmt.Sprintf("score %s differs from %s given on an earlier sheet, keeping %s", FormatScore(v), FormatScore(prev), FormatScore(prev)),
			})
		}
		return
	}
	st.scoreSeen[key] = v
	st.res.Scores = Distribute(grp, v, st.res.Scores)
}

// ParseScoreCell accepts "1.5" and the comma-decimal "1,5".
func ParseScoreCell(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScore, raw)
	}
	return v, nil
}
