package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Template is the page layout consumed by the OMR recognition service.
// Sections this package does not interpret are carried as raw JSON so that a
// parse/marshal cycle does not lose them.
type Template struct {
	PageDimensions   [2]float64      `json:"pageDimensions"`
	BubbleDimensions [2]float64      `json:"bubbleDimensions"`
	FieldBlocks      FieldBlocks     `json:"fieldBlocks"`
	CustomLabels     json.RawMessage `json:"customLabels,omitempty"`
	PreProcessors    []PreProcessor  `json:"preProcessors,omitempty"`

	// Extra holds top-level keys this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

type PreProcessor struct {
	Name    string          `json:"name"`
	Options json.RawMessage `json:"options,omitempty"`
}

// FieldBlock is one bubble grid. Name and Order come from the enclosing
// fieldBlocks object; they are not part of the block's own JSON.
type FieldBlock struct {
	Name        string     `json:"-"`
	Order       int        `json:"-"`
	FieldType   FieldType  `json:"fieldType"`
	Origin      [2]float64 `json:"origin"`
	FieldLabels []string   `json:"fieldLabels"`
	BubblesGap  float64    `json:"bubblesGap"`
	LabelsGap   float64    `json:"labelsGap"`
	Rows        int        `json:"rows"`
	Cols        int        `json:"cols"`

	// DecodeErr is set when the block's JSON could not be decoded. Raw then
	// holds the original bytes and the typed fields are zero.
	DecodeErr error           `json:"-"`
	Raw       json.RawMessage `json:"-"`

	Extra map[string]json.RawMessage `json:"-"`
}

// FieldBlocks keeps blocks in declaration order.
type FieldBlocks []FieldBlock

var ErrMalformedTemplate = errors.New("malformed template")

var (
	knownTemplateKeys = map[string]bool{
		"pageDimensions": true, "bubbleDimensions": true, "fieldBlocks": true,
		"customLabels": true, "preProcessors": true,
	}
	knownBlockKeys = map[string]bool{
		"fieldType": true, "origin": true, "fieldLabels": true, "bubblesGap": true,
		"labelsGap": true, "rows": true, "cols": true,
	}
)

// Parse decodes template JSON. Top-level syntax errors fail the whole parse;
// a block with the wrong shape only marks that block.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	return &t, nil
}

type templateJSON Template

func (t *Template) UnmarshalJSON(data []byte) error {
	var aux templateJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	extra, err := extraKeys(data, knownTemplateKeys)
	if err != nil {
		return err
	}
	aux.Extra = extra
	*t = Template(aux)
	return nil
}

func (t Template) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(templateJSON(t))
	if err != nil {
		return nil, err
	}
	return appendExtra(body, t.Extra)
}

type fieldBlockJSON FieldBlock

func (b FieldBlock) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(fieldBlockJSON(b))
	if err != nil {
		return nil, err
	}
	return appendExtra(body, b.Extra)
}

func (b *FieldBlocks) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("fieldBlocks must be an object")
	}

	out := make(FieldBlocks, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		block := FieldBlock{Name: name, Order: len(out)}
		if err := json.Unmarshal(raw, &block); err == nil {
			block.Extra, err = extraKeys(raw, knownBlockKeys)
			if err != nil {
				block = FieldBlock{Name: name, Order: len(out), DecodeErr: err, Raw: raw}
			}
		} else {
			block = FieldBlock{Name: name, Order: len(out), DecodeErr: err, Raw: raw}
		}
		out = append(out, block)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*b = out
	return nil
}

func (b FieldBlocks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, block := range b.Sorted() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(block.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		if block.DecodeErr != nil && len(block.Raw) > 0 {
			buf.Write(block.Raw)
			continue
		}
		body, err := json.Marshal(block)
		if err != nil {
			return nil, fmt.Errorf("marshal block %s: %w", block.Name, err)
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Sorted returns a copy ordered by Order, ties kept in slice order.
func (b FieldBlocks) Sorted() FieldBlocks {
	out := append(FieldBlocks(nil), b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Block finds a block by name.
func (t *Template) Block(name string) (FieldBlock, bool) {
	for _, b := range t.FieldBlocks {
		if b.Name == name {
			return b, true
		}
	}
	return FieldBlock{}, false
}

// AddBlock appends a block after every existing one.
func (t *Template) AddBlock(b FieldBlock) {
	next := 0
	for _, existing := range t.FieldBlocks {
		if existing.Order >= next {
			next = existing.Order + 1
		}
	}
	b.Order = next
	t.FieldBlocks = append(t.FieldBlocks, b)
}

func extraKeys(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	for k, v := range all {
		if known[k] {
			continue
		}
		if out == nil {
			out = make(map[string]json.RawMessage)
		}
		out[k] = v
	}
	return out, nil
}

// appendExtra splices extra keys, sorted, into an encoded JSON object.
func appendExtra(body []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(body[:len(body)-1])
	for i, k := range keys {
		if i > 0 || len(body) > 2 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
