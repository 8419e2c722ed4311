package answerkey

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"omrkey/internal/template"
)

// QuestionGroup is the unit used for score editing and spreadsheet rows.
// Members must be treated as read-only.
type QuestionGroup struct {
	BaseKey      string             `json:"base_key"`
	Kind         template.LabelKind `json:"kind"`
	FieldType    template.FieldType `json:"field_type"`
	Number       int                `json:"number"`
	Members      []string           `json:"members"`
	IsGroup      bool               `json:"is_group"`
	DisplayLabel string             `json:"display_label"`

	parsed []template.ParsedLabel
}

// Groups is the result of GroupForScoring, ordered by the first member's
// question number.
type Groups struct {
	list      []*QuestionGroup
	byKey     map[string]*QuestionGroup
	byLabel   map[string]*QuestionGroup
	conflicts []string
}

// GroupForScoring folds column labels ("17_col1") and true/false parts
// ("13_a") into one group per base key. Every other label is its own group.
//
// A plain label always owns its own key. If a compound base collides with a
// plain label, or with a compound group of the other kind, the later labels
// stay ungrouped under their raw label and the base is reported by Conflicts.
func GroupForScoring(idx *template.QuestionIndex) *Groups {
	g := &Groups{
		byKey:   make(map[string]*QuestionGroup),
		byLabel: make(map[string]*QuestionGroup),
	}
	entries := idx.Entries()

	plain := make(map[string]bool)
	for _, e := range entries {
		if !e.Parsed.Compound() {
			plain[e.Label] = true
		}
	}

	conflicted := make(map[string]bool)
	for _, e := range entries {
		p := e.Parsed
		key := p.Base
		if p.Compound() {
			if existing, ok := g.byKey[key]; plain[key] || (ok && existing.Kind != p.Kind) {
				if !conflicted[key] {
					conflicted[key] = true
					g.conflicts = append(g.conflicts, key)
				}
				key = e.Label
			}
		}

		grp, ok := g.byKey[key]
		if !ok {
			grp = &QuestionGroup{BaseKey: key, Kind: p.Kind, FieldType: e.FieldType, Number: e.Number}
			if key == e.Label {
				grp.Kind = template.LabelPlain
			}
			g.byKey[key] = grp
			g.list = append(g.list, grp)
		}
		grp.Members = append(grp.Members, e.Label)
		grp.parsed = append(grp.parsed, p)
		g.byLabel[e.Label] = grp
	}

	for _, grp := range g.list {
		sortMembers(grp)
		grp.IsGroup = len(grp.Members) > 1
		grp.DisplayLabel = groupDisplayLabel(grp)
	}
	return g
}

func sortMembers(grp *QuestionGroup) {
	if grp.Kind == template.LabelPlain {
		return
	}
	idx := make([]int, len(grp.Members))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := grp.parsed[idx[a]], grp.parsed[idx[b]]
		if grp.Kind == template.LabelSymbolColumn {
			return pa.Column < pb.Column
		}
		return pa.Part < pb.Part
	})
	members := make([]string, len(idx))
	parsed := make([]template.ParsedLabel, len(idx))
	for i, j := range idx {
		members[i] = grp.Members[j]
		parsed[i] = grp.parsed[j]
	}
	grp.Members, grp.parsed = members, parsed
}

func groupDisplayLabel(grp *QuestionGroup) string {
	if grp.Kind != template.LabelPlain {
		return "Câu " + grp.BaseKey
	}
	return EntryDisplayLabel(template.QuestionEntry{Label: grp.Members[0], Number: grp.Number, Parsed: grp.parsed[0]})
}

// EntryDisplayLabel is the label shown for a single slot when groups are not
// collapsed: "Câu 5", "Câu 13B", "Câu 17 (cột 2)".
func EntryDisplayLabel(e template.QuestionEntry) string {
	switch e.Parsed.Kind {
	case template.LabelTrueFalsePart:
		return "Câu " + e.Parsed.Base + strings.ToUpper(e.Parsed.Part)
	case template.LabelSymbolColumn:
		return fmt.Sprintf("Câu %s (cột %d)", e.Parsed.Base, e.Parsed.Column)
	default:
		return fmt.Sprintf("Câu %d", e.Number)
	}
}

func (g *Groups) Len() int {
	return len(g.list)
}

// List returns the groups in order.
func (g *Groups) List() []QuestionGroup {
	out := make([]QuestionGroup, 0, len(g.list))
	for _, grp := range g.list {
		out = append(out, *grp)
	}
	return out
}

// Get finds a group by base key (or by label for ungrouped slots).
func (g *Groups) Get(key string) (QuestionGroup, bool) {
	grp, ok := g.byKey[key]
	if !ok {
		return QuestionGroup{}, false
	}
	return *grp, true
}

// ForLabel finds the group a label belongs to.
func (g *Groups) ForLabel(label string) (QuestionGroup, bool) {
	grp, ok := g.byLabel[label]
	if !ok {
		return QuestionGroup{}, false
	}
	return *grp, true
}

// Conflicts lists base keys that could not be grouped.
func (g *Groups) Conflicts() []string {
	return append([]string(nil), g.conflicts...)
}

func (g *Groups) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.List())
}

// part returns the true/false letter of member i, or "" for other kinds.
func (grp QuestionGroup) part(i int) string {
	if i < len(grp.parsed) {
		return grp.parsed[i].Part
	}
	return template.ParseLabel(grp.Members[i]).Part
}
