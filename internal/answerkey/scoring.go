package answerkey

import (
	"math"
	"strconv"

	"omrkey/internal/template"
)

// ScoreTolerance is the allowed gap between the score total and the exam
// total at submission.
const ScoreTolerance = 0.01

// RollUp sums the member scores of grp. Missing labels count as zero.
func RollUp(grp QuestionGroup, scores ScoreMap) float64 {
	total := 0.0
	for _, label := range grp.Members {
		total += scores[label]
	}
	return total
}

// Distribute returns a copy of scores where every member of grp holds an
// equal share of total.
func Distribute(grp QuestionGroup, total float64, scores ScoreMap) ScoreMap {
	out := scores.Clone()
	if len(grp.Members) == 0 {
		return out
	}
	share := total / float64(len(grp.Members))
	for _, label := range grp.Members {
		out[label] = share
	}
	return out
}

// ApplyDefaultScores gives every label in the index the same share of
// total. The split is per label, not per group, so groups of different sizes
// roll up to different totals.
func ApplyDefaultScores(idx *template.QuestionIndex, total float64) ScoreMap {
	out := make(ScoreMap, idx.Len())
	if idx.Len() == 0 {
		return out
	}
	share := total / float64(idx.Len())
	for _, label := range idx.Labels() {
		out[label] = share
	}
	return out
}

// CheckScoreTotal is the submission gate.
func CheckScoreTotal(scores ScoreMap, expected float64) error {
	actual := scores.Total()
	if math.Abs(actual-expected) > ScoreTolerance {
		return &ScoreTotalMismatchError{Actual: actual, Expected: expected}
	}
	return nil
}

// RoundScore rounds for display only; stored scores keep full precision.
func RoundScore(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FormatScore renders a score with at most four decimals and no trailing zeros.
func FormatScore(v float64) string {
	return strconv.FormatFloat(RoundScore(v, 4), 'f', -1, 64)
}
