package template

import (
	"errors"
	"fmt"
	"strings"
)

var ErrTemplateInvalid = errors.New("template invalid")

// StructureError is one problem found in a template. Block is empty for
// template-level problems.
type StructureError struct {
	Block   string `json:"block,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e StructureError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("block %q: %s: %s", e.Block, e.Field, e.Message)
}

func (e StructureError) Unwrap() error { return ErrTemplateInvalid }

type issueCollector struct {
	block  string
	issues []StructureError
}

func (c *issueCollector) add(field, format string, args ...any) {
	c.issues = append(c.issues, StructureError{Block: c.block, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a template against the field type catalog and basic
// geometry. It never stops at the first problem.
func Validate(t *Template) []StructureError {
	if t == nil {
		return []StructureError{{Field: "template", Message: "is required"}}
	}

	top := &issueCollector{}
	if t.PageDimensions[0] <= 0 || t.PageDimensions[1] <= 0 {
		top.add("pageDimensions", "must be positive, got %v", t.PageDimensions)
	}
	if t.BubbleDimensions[0] <= 0 || t.BubbleDimensions[1] <= 0 {
		top.add("bubbleDimensions", "must be positive, got %v", t.BubbleDimensions)
	}
	if len(t.FieldBlocks) == 0 {
		top.add("fieldBlocks", "must contain at least one block")
	}
	out := top.issues

	blocks := t.FieldBlocks.Sorted()
	names := make(map[string]bool, len(blocks))
	owners := make(map[string]int)
	for i, block := range blocks {
		out = append(out, validateBlock(block)...)

		c := &issueCollector{block: block.Name}
		if names[block.Name] {
			c.add("name", "block %q is declared more than once", block.Name)
		}
		names[block.Name] = true
		for _, label := range block.FieldLabels {
			if owner, ok := owners[label]; ok && owner != i {
				c.add("fieldLabels", "label %q is already used by block %q", label, blocks[owner].Name)
				continue
			}
			owners[label] = i
		}
		out = append(out, c.issues...)
	}
	return out
}

// ValidationErr folds Validate's result into a single error, nil if valid.
func ValidationErr(t *Template) error {
	issues := Validate(t)
	if len(issues) == 0 {
		return nil
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, is.Error())
	}
	return fmt.Errorf("%w: %s", ErrTemplateInvalid, strings.Join(parts, "; "))
}

func validateBlock(block FieldBlock) (issues []StructureError) {
	c := &issueCollector{block: block.Name}
	defer func() {
		if r := recover(); r != nil {
			c.add("block", "unexpected failure: %v", r)
			issues = c.issues
		}
	}()

	if block.DecodeErr != nil {
		c.add("block", "cannot be decoded: %v", block.DecodeErr)
		return c.issues
	}
	if strings.TrimSpace(block.Name) == "" {
		c.add("name", "must not be empty")
	}
	if block.Origin[0] < 0 || block.Origin[1] < 0 {
		c.add("origin", "coordinates must be >= 0, got %v", block.Origin)
	}
	if block.Rows <= 0 {
		c.add("rows", "must be > 0, got %d", block.Rows)
	}
	if block.Cols <= 0 {
		c.add("cols", "must be > 0, got %d", block.Cols)
	}
	if block.BubblesGap <= 0 {
		c.add("bubblesGap", "must be > 0, got %v", block.BubblesGap)
	}
	if block.LabelsGap <= 0 {
		c.add("labelsGap", "must be > 0, got %v", block.LabelsGap)
	}

	if len(block.FieldLabels) == 0 {
		c.add("fieldLabels", "must not be empty")
	}
	dup := make(map[string]bool, len(block.FieldLabels))
	for i, label := range block.FieldLabels {
		if strings.TrimSpace(label) == "" {
			c.add("fieldLabels", "label #%d is blank", i+1)
			continue
		}
		if dup[label] {
			c.add("fieldLabels", "duplicate label %q", label)
		}
		dup[label] = true
	}

	if !block.FieldType.Valid() {
		c.add("fieldType", "unknown field type %q", block.FieldType)
		return c.issues
	}

	switch block.FieldType {
	case FieldTypeMCQ4:
		if block.Cols != 4 {
			c.add("cols", "%s requires cols = 4, got %d", block.FieldType, block.Cols)
		}
	case FieldTypeMCQ2:
		if block.Cols != 2 {
			c.add("cols", "%s requires cols = 2, got %d", block.FieldType, block.Cols)
		}
	case FieldTypeInt:
		if block.Rows != 10 {
			c.add("rows", "%s requires rows = 10, got %d", block.FieldType, block.Rows)
		}
	}
	return c.issues
}
