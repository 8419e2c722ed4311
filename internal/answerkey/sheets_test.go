package answerkey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAnswers() (AllAnswers, ScoreMap) {
	answers := AllAnswers{
		"101": {
			"q1": "A", "q2": "B", "q3": "D",
			"13_a": "T", "13_b": "F", "13_c": "T", "13_d": "F",
			"17_col1": "1", "17_col2": ",", "17_col3": "5",
		},
		"102": {
			"q1": "C",
			"13_b": "T",
			"17_col1": "-", "17_col3": "2",
		},
	}
	scores := ScoreMap{
		"q1": 0.25, "q2": 0.25, "q3": 0.25,
		"13_a": 0.25, "13_b": 0.25, "13_c": 0.25, "13_d": 0.25,
		"17_col1": 0.125, "17_col2": 0.125, "17_col3": 0.125, "17_col4": 0.125,
	}
	return answers, scores
}

func TestExportSheetsLayout(t *testing.T) {
	idx := sampleIndex(t)
	answers, scores := sampleAnswers()

	sheets := ExportSheets(answers, scores, idx, GroupForScoring(idx))
	require.Len(t, sheets, 2)
	assert.Equal(t, "101", sheets[0].Name)
	assert.Equal(t, "102", sheets[1].Name)

	rows := sheets[0].Rows
	require.Len(t, rows, 5)
	assert.Equal(t, SheetRow{Line: 2, Key: "q1", Answer: "A", Score: "0.25"}, rows[0])
	assert.Equal(t, "13", rows[3].Key)
	assert.Equal(t, "A: T; B: F; C: T; D: F", rows[3].Answer)
	assert.Equal(t, "1", rows[3].Score)
	assert.Equal(t, "17", rows[4].Key)
	assert.Equal(t, "1,5", rows[4].Answer)
	assert.Equal(t, "0.5", rows[4].Score)

	rows = sheets[1].Rows
	assert.Equal(t, "", rows[1].Answer)
	assert.Equal(t, "B: T", rows[3].Answer)
	assert.Equal(t, "-_2", rows[4].Answer)
}

func TestExportWithoutVariants(t *testing.T) {
	idx := sampleIndex(t)
	sheets := ExportSheets(AllAnswers{}, ScoreMap{"q1": 1}, idx, GroupForScoring(idx))
	require.Len(t, sheets, 1)
	assert.Equal(t, DefaultVariantCode, sheets[0].Name)
	assert.Equal(t, "1", sheets[0].Rows[0].Score)
	assert.Equal(t, "", sheets[0].Rows[1].Score)
}

func TestSheetsRoundTrip(t *testing.T) {
	idx := sampleIndex(t)
	groups := GroupForScoring(idx)
	answers, scores := sampleAnswers()

	res := ImportSheets(ExportSheets(answers, scores, idx, groups), idx, groups)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, answers, res.Answers)
	require.Len(t, res.Scores, len(scores))
	for label, want := range scores {
		assert.InDelta(t, want, res.Scores[label], 0.01, label)
	}
}

func TestImportUnknownKeyWarnsWithoutMutation(t *testing.T) {
	idx := sampleIndex(t)
	sheets := []Sheet{{Name: "101", Rows: []SheetRow{{Line: 2, Key: "99", Answer: "A", Score: "1"}}}}

	res := ImportSheets(sheets, idx, GroupForScoring(idx))
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarningUnknownLabel, w.Code)
	assert.Equal(t, "101", w.Sheet)
	assert.Equal(t, 2, w.Row)
	assert.Equal(t, "99", w.Key)
	assert.Empty(t, res.Answers["101"])
	assert.Empty(t, res.Scores)
}

func TestImportSkipsInvalidCellOnly(t *testing.T) {
	idx := sampleIndex(t)
	sheets := []Sheet{{Name: "101", Rows: []SheetRow{
		{Line: 2, Key: "13", Answer: "A: T; B: X; C: F"},
		{Line: 3, Key: "17", Answer: "1A3"},
		{Line: 4, Key: "q1", Answer: "b"},
	}}}

	res := ImportSheets(sheets, idx, GroupForScoring(idx))
	assert.Equal(t, AnswerSet{"13_a": "T", "13_c": "F", "17_col1": "1", "17_col3": "3", "q1": "B"}, res.Answers["101"])
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, WarningInvalidValue, res.Warnings[0].Code)
	assert.Equal(t, "13_b", res.Warnings[0].Key)
	assert.Equal(t, "17_col2", res.Warnings[1].Key)
	assert.Equal(t, 3, res.Warnings[1].Row)
}

func TestImportCellForms(t *testing.T) {
	idx := sampleIndex(t)
	groups := GroupForScoring(idx)

	tests := []struct {
		name   string
		row    SheetRow
		want   AnswerSet
		scores ScoreMap
		warns  int
	}{
		{name: "compact true/false", row: SheetRow{Key: "13", Answer: "TFFT"}, want: AnswerSet{"13_a": "T", "13_b": "F", "13_c": "F", "13_d": "T"}},
		{name: "compact wrong length", row: SheetRow{Key: "13", Answer: "TF"}, want: AnswerSet{}, warns: 1},
		{name: "lower-case parts", row: SheetRow{Key: "13", Answer: "a: t; d: f"}, want: AnswerSet{"13_a": "T", "13_d": "F"}},
		{name: "unknown part", row: SheetRow{Key: "13", Answer: "E: T"}, want: AnswerSet{}, warns: 1},
		{name: "too many digits", row: SheetRow{Key: "17", Answer: "12345"}, want: AnswerSet{}, warns: 1},
		{name: "full-width digits", row: SheetRow{Key: "１７", Answer: "０１"}, want: AnswerSet{"17_col1": "0", "17_col2": "1"}},
		{name: "individual member label", row: SheetRow{Key: "17_col4", Answer: "9"}, want: AnswerSet{"17_col4": "9"}},
		{name: "comma decimal score", row: SheetRow{Key: "13", Score: "1,5"}, want: AnswerSet{}, scores: ScoreMap{"13_a": 0.375, "13_b": 0.375, "13_c": 0.375, "13_d": 0.375}},
		{name: "negative score", row: SheetRow{Key: "q1", Score: "-1"}, want: AnswerSet{}, warns: 1},
		{name: "answer without key", row: SheetRow{Answer: "A"}, want: AnswerSet{}, warns: 1},
		{name: "empty row", row: SheetRow{}, want: AnswerSet{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := ImportSheets([]Sheet{{Name: "101", Rows: []SheetRow{tc.row}}}, idx, groups)
			assert.Equal(t, tc.want, res.Answers["101"])
			assert.Len(t, res.Warnings, tc.warns)
			if tc.scores != nil {
				assert.Equal(t, tc.scores, res.Scores)
			}
		})
	}
}

func TestImportScoreConflictKeepsFirst(t *testing.T) {
	idx := sampleIndex(t)
	sheets := []Sheet{
		{Name: "101", Rows: []SheetRow{{Key: "q1", Score: "1"}}},
		{Name: "102", Rows: []SheetRow{{Key: "q1", Score: "2"}}},
		{Name: "103", Rows: []SheetRow{{Key: "q1", Score: "1"}}},
	}

	res := ImportSheets(sheets, idx, GroupForScoring(idx))
	assert.Equal(t, ScoreMap{"q1": 1}, res.Scores)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningScoreConflict, res.Warnings[0].Code)
	assert.Equal(t, "102", res.Warnings[0].Sheet)
}

func TestImportInvalidSheetName(t *testing.T) {
	idx := sampleIndex(t)
	res := ImportSheets([]Sheet{{Name: "a/b", Rows: []SheetRow{{Key: "q1", Answer: "A"}}}}, idx, GroupForScoring(idx))
	assert.Empty(t, res.Answers)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningInvalidVariant, res.Warnings[0].Code)
}

func TestBlankSheetsHints(t *testing.T) {
	groups := GroupForScoring(sampleIndex(t))
	sheets := BlankSheets(groups, nil)

	require.Len(t, sheets, 1)
	assert.Equal(t, DefaultVariantCode, sheets[0].Name)
	rows := sheets[0].Rows
	require.Len(t, rows, 5)
	for _, r := range rows {
		assert.Empty(t, r.Answer)
		assert.Empty(t, r.Score)
		assert.NotEmpty(t, r.Hint, r.Key)
	}
	assert.Contains(t, rows[0].Hint, "A, B, C, D")
	assert.Contains(t, rows[3].Hint, "A: T; B: T; C: T; D: T")
	assert.Contains(t, rows[4].Hint, "4")
}

func TestParseScoreCell(t *testing.T) {
	v, err := ParseScoreCell(" 0,25 ")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	v, err = ParseScoreCell("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	for _, raw := range []string{"abc", "-0.5", "1,000.5", "NaN"} {
		_, err := ParseScoreCell(raw)
		assert.True(t, errors.Is(err, ErrInvalidScore), raw)
	}
}

func TestImportWarningString(t *testing.T) {
	w := ImportWarning{Sheet: "101", Row: 4, Message: "bad"}
	assert.Equal(t, "sheet 101, row 4: bad", w.String())
	assert.Equal(t, "bad", ImportWarning{Message: "bad"}.String())
}

func TestSheetsRoundTripUnevenGroupScores(t *testing.T) {
	idx := sampleIndex(t)
	groups := GroupForScoring(idx)

	tests := []struct {
		name   string
		scores ScoreMap
	}{
		{name: "unequal parts", scores: ScoreMap{"13_a": 1, "13_b": 0.5, "13_c": 0.25, "13_d": 0.25}},
		{name: "one part scored", scores: ScoreMap{"13_a": 1}},
		{name: "columns partly scored", scores: ScoreMap{"17_col1": 0.2, "17_col3": 0.3, "q1": 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answers := AllAnswers{"101": {"13_a": "T", "17_col1": "4"}}
			res := ImportSheets(ExportSheets(answers, tc.scores, idx, groups), idx, groups)

			assert.Empty(t, res.Warnings)
			assert.Equal(t, answers, res.Answers)
			require.Len(t, res.Scores, len(tc.scores))
			for label, want := range tc.scores {
				assert.InDelta(t, want, res.Scores[label], 1e-9, label)
			}
		})
	}
}

func TestExportUnevenGroupWritesMemberRows(t *testing.T) {
	idx := sampleIndex(t)
	answers := AllAnswers{"101": {"13_a": "T"}}
	sheets := ExportSheets(answers, ScoreMap{"13_a": 1, "13_b": 0.5}, idx, GroupForScoring(idx))

	rows := sheets[0].Rows
	require.Len(t, rows, 7)
	assert.Equal(t, SheetRow{Line: 5, Key: "13", Answer: "A: T"}, rows[3])
	assert.Equal(t, SheetRow{Line: 6, Key: "13_a", Score: "1"}, rows[4])
	assert.Equal(t, SheetRow{Line: 7, Key: "13_b", Score: "0.5"}, rows[5])
	assert.Equal(t, "17", rows[6].Key)
	assert.Equal(t, 8, rows[6].Line)
}

func TestImportRejectsVariantsDifferingInCase(t *testing.T) {
	idx := sampleIndex(t)
	sheets := []Sheet{
		{Name: "a1", Rows: []SheetRow{{Key: "q1", Answer: "A"}}},
		{Name: "A1", Rows: []SheetRow{{Key: "q1", Answer: "B"}}},
	}
	res := ImportSheets(sheets, idx, GroupForScoring(idx))

	assert.Equal(t, AllAnswers{"a1": {"q1": "A"}}, res.Answers)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningInvalidVariant, res.Warnings[0].Code)
	assert.Equal(t, "A1", res.Warnings[0].Sheet)
}

func TestSheetsRoundTripFullWidthValue(t *testing.T) {
	idx := sampleIndex(t)
	groups := GroupForScoring(idx)
	s := NewStore(idx, ValueValidator{})
	require.NoError(t, s.SetAnswer("101", "q1", "Ａ"))
	require.NoError(t, s.SetAnswer("101", "13_a", "ｔ"))

	res := ImportSheets(ExportSheets(s.Answers(), s.Scores(), idx, groups), idx, groups)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, s.Answers(), res.Answers)
	assert.Equal(t, AllAnswers{"101": {"q1": "A", "13_a": "T"}}, res.Answers)
}
