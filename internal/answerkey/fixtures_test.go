package answerkey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"omrkey/internal/template"
)

// sampleTemplateJSON has three question blocks: MCQ4 q1..q3, true/false
// parts 13_a..13_d and short-answer columns 17_col1..17_col4. The exam-code
// block is not question-bearing.
const sampleTemplateJSON = `{"pageDimensions":[1846,1500],"bubbleDimensions":[40,40],"fieldBlocks":{"ma_de":{"fieldType":"QTYPE_INT","origin":[100,100],"fieldLabels":["md1","md2","md3"],"bubblesGap":45,"labelsGap":50,"rows":10,"cols":3},"phan1":{"fieldType":"QTYPE_MCQ4","origin":[100,600],"fieldLabels":["q1","q2","q3"],"bubblesGap":50,"labelsGap":55,"rows":3,"cols":4},"phan2":{"fieldType":"QTYPE_MCQ2","origin":[700,600],"fieldLabels":["13_a","13_b","13_c","13_d"],"bubblesGap":50,"labelsGap":55,"rows":4,"cols":2},"phan3":{"fieldType":"QTYPE_INT10_SYMBOL","origin":[1100,600],"fieldLabels":["17_col1","17_col2","17_col3","17_col4"],"bubblesGap":42,"labelsGap":48,"rows":12,"cols":4}}}`

func sampleTemplate(t *testing.T) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(sampleTemplateJSON))
	require.NoError(t, err)
	return tpl
}

func sampleIndex(t *testing.T) *template.QuestionIndex {
	t.Helper()
	return template.BuildIndex(sampleTemplate(t))
}

// indexOf builds an index from blocks given as field type and labels, in order.
func indexOf(t *testing.T, blocks ...blockSpec) *template.QuestionIndex {
	t.Helper()
	tpl := &template.Template{PageDimensions: [2]float64{100, 100}, BubbleDimensions: [2]float64{10, 10}}
	for _, b := range blocks {
		tpl.AddBlock(template.FieldBlock{
			Name:        b.name,
			FieldType:   b.ft,
			FieldLabels: b.labels,
			BubblesGap:  1,
			LabelsGap:   1,
			Rows:        1,
			Cols:        1,
		})
	}
	return template.BuildIndex(tpl)
}

type blockSpec struct {
	name   string
	ft     template.FieldType
	labels []string
}
