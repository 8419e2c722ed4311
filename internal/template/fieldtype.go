package template

// FieldType is the answer shape of a field block.
type FieldType string

const (
	FieldTypeMCQ4        FieldType = "QTYPE_MCQ4"
	FieldTypeMCQ5        FieldType = "QTYPE_MCQ5"
	FieldTypeMCQ2        FieldType = "QTYPE_MCQ2"
	FieldTypeInt         FieldType = "QTYPE_INT"
	FieldTypeIntFrom1    FieldType = "QTYPE_INT_FROM_1"
	FieldTypeInt10Symbol FieldType = "QTYPE_INT10_SYMBOL"
)

type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
)

// FieldTypeSpec describes one catalog entry. BubbleValues is ordered the way
// the bubbles are printed on the sheet.
type FieldTypeSpec struct {
	Type         FieldType `json:"type"`
	Label        string    `json:"label"`
	BubbleValues []string  `json:"bubble_values"`
	Direction    Direction `json:"direction"`
	Question     bool      `json:"question"`
}

var digits = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

var fieldTypeCatalog = []FieldTypeSpec{
	{Type: FieldTypeMCQ4, Label: "Trắc nghiệm 4 đáp án (A-D)", BubbleValues: []string{"A", "B", "C", "D"}, Direction: DirectionHorizontal, Question: true},
	{Type: FieldTypeMCQ5, Label: "Trắc nghiệm 5 đáp án (A-E)", BubbleValues: []string{"A", "B", "C", "D", "E"}, Direction: DirectionHorizontal, Question: true},
	{Type: FieldTypeMCQ2, Label: "Đúng/Sai (T/F)", BubbleValues: []string{"T", "F"}, Direction: DirectionHorizontal, Question: true},
	{Type: FieldTypeInt, Label: "Số nguyên (0-9)", BubbleValues: digits, Direction: DirectionVertical},
	{Type: FieldTypeIntFrom1, Label: "Số nguyên (1-9, 0)", BubbleValues: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "0"}, Direction: DirectionVertical},
	{Type: FieldTypeInt10Symbol, Label: "Trả lời ngắn (0-9, -, ,)", BubbleValues: append([]string{"-", ","}, digits...), Direction: DirectionVertical, Question: true},
}

var fieldTypeByName = func() map[FieldType]FieldTypeSpec {
	out := make(map[FieldType]FieldTypeSpec, len(fieldTypeCatalog))
	for _, s := range fieldTypeCatalog {
		out[s.Type] = s
	}
	return out
}()

// LookupFieldType returns a copy of the catalog entry for ft.
func LookupFieldType(ft FieldType) (FieldTypeSpec, bool) {
	s, ok := fieldTypeByName[ft]
	if !ok {
		return FieldTypeSpec{}, false
	}
	s.BubbleValues = append([]string(nil), s.BubbleValues...)
	return s, true
}

// FieldTypes lists the catalog in declaration order.
func FieldTypes() []FieldTypeSpec {
	out := make([]FieldTypeSpec, 0, len(fieldTypeCatalog))
	for _, s := range fieldTypeCatalog {
		s.BubbleValues = append([]string(nil), s.BubbleValues...)
		out = append(out, s)
	}
	return out
}

// IsQuestion reports whether blocks of this type carry numbered questions.
// Student id and exam-code grids (QTYPE_INT, QTYPE_INT_FROM_1) do not.
func (ft FieldType) IsQuestion() bool {
	return fieldTypeByName[ft].Question
}

func (ft FieldType) Valid() bool {
	_, ok := fieldTypeByName[ft]
	return ok
}
