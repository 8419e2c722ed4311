package template

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// QuestionEntry is one numbered bubble slot.
type QuestionEntry struct {
	Label     string      `json:"label"`
	Number    int         `json:"number"`
	FieldType FieldType   `json:"field_type"`
	BlockName string      `json:"block_name"`
	Parsed    ParsedLabel `json:"parsed"`
}

// QuestionIndex numbers every question-bearing label of a template. It is
// read-only once built.
type QuestionIndex struct {
	entries    []QuestionEntry
	byLabel    map[string]int
	blockTypes map[string]FieldType
}

// BuildIndex numbers labels of question-bearing blocks from 1, in block
// order then label order. Undecodable blocks are skipped, and a label that
// already appeared in an earlier block keeps its first number.
func BuildIndex(t *Template) *QuestionIndex {
	idx := &QuestionIndex{
		byLabel:    make(map[string]int),
		blockTypes: make(map[string]FieldType),
	}
	if t == nil {
		return idx
	}

	for _, block := range t.FieldBlocks.Sorted() {
		if block.DecodeErr != nil {
			continue
		}
		idx.blockTypes[block.Name] = block.FieldType
		if !block.FieldType.IsQuestion() {
			continue
		}
		for _, label := range block.FieldLabels {
			if _, ok := idx.byLabel[label]; ok {
				continue
			}
			idx.byLabel[label] = len(idx.entries)
			idx.entries = append(idx.entries, QuestionEntry{
				Label:     label,
				Number:    len(idx.entries) + 1,
				FieldType: block.FieldType,
				BlockName: block.Name,
				Parsed:    ParseLabel(label),
			})
		}
	}
	return idx
}

func (q *QuestionIndex) Len() int {
	return len(q.entries)
}

// Entries returns the entries in number order.
func (q *QuestionIndex) Entries() []QuestionEntry {
	return append([]QuestionEntry(nil), q.entries...)
}

func (q *QuestionIndex) Lookup(label string) (QuestionEntry, bool) {
	i, ok := q.byLabel[label]
	if !ok {
		return QuestionEntry{}, false
	}
	return q.entries[i], true
}

func (q *QuestionIndex) Has(label string) bool {
	_, ok := q.byLabel[label]
	return ok
}

func (q *QuestionIndex) Labels() []string {
	out := make([]string, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.Label)
	}
	return out
}

// BlockType reports the field type of any decoded block, question-bearing or not.
func (q *QuestionIndex) BlockType(name string) (FieldType, bool) {
	ft, ok := q.blockTypes[name]
	return ft, ok
}

// Numbers maps label to display number.
func (q *QuestionIndex) Numbers() map[string]int {
	out := make(map[string]int, len(q.entries))
	for _, e := range q.entries {
		out[e.Label] = e.Number
	}
	return out
}

func (q *QuestionIndex) MarshalJSON() ([]byte, error) {
	if len(q.entries) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(q.entries)
}

// Fingerprint is a stable digest of the canonical template JSON.
func Fingerprint(t *Template) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal template: %w", err)
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:16]), nil
}
