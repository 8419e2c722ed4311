package template

import (
	"regexp"
	"strconv"
)

type LabelKind int

const (
	LabelPlain LabelKind = iota
	// LabelSymbolColumn is one column of a multi-digit short answer, e.g. "17_col2".
	LabelSymbolColumn
	// LabelTrueFalsePart is one statement of a multi-part true/false question, e.g. "13_b".
	LabelTrueFalsePart
)

func (k LabelKind) String() string {
	switch k {
	case LabelSymbolColumn:
		return "symbol_column"
	case LabelTrueFalsePart:
		return "true_false_part"
	default:
		return "plain"
	}
}

func (k LabelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParsedLabel is the shape of a raw field label. Base is the shared question
// key for compound labels and the raw label itself for plain ones.
type ParsedLabel struct {
	Raw    string    `json:"raw"`
	Kind   LabelKind `json:"kind"`
	Base   string    `json:"base"`
	Column int       `json:"column,omitempty"`
	Part   string    `json:"part,omitempty"`
}

var (
	symbolColumnPattern  = regexp.MustCompile(`^(\d+)_col(\d+)$`)
	trueFalsePartPattern = regexp.MustCompile(`^(\d+)_([a-d])$`)
)

// ParseLabel classifies a label. The column shape is tried first, so a label
// can never be both a column and a true/false part.
func ParseLabel(label string) ParsedLabel {
	if m := symbolColumnPattern.FindStringSubmatch(label); m != nil {
		if col, err := strconv.Atoi(m[2]); err == nil {
			return ParsedLabel{Raw: label, Kind: LabelSymbolColumn, Base: m[1], Column: col}
		}
	}
	if m := trueFalsePartPattern.FindStringSubmatch(label); m != nil {
		return ParsedLabel{Raw: label, Kind: LabelTrueFalsePart, Base: m[1], Part: m[2]}
	}
	return ParsedLabel{Raw: label, Kind: LabelPlain, Base: label}
}

func (p ParsedLabel) Compound() bool {
	return p.Kind != LabelPlain
}
