package patch

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// FieldType is the editor type of an operation field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldEnum
	FieldFragment
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldEnum:
		return "enum"
	case FieldFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Value holds one field value. Str carries both string and enum values.
type Value struct {
	Type     FieldType
	Str      string
	Int      int
	Float    float64
	Fragment *xmldoc.Container
}

// String returns a string value.
func String(s string) Value { return Value{Type: FieldString, Str: s} }

// Int returns an int value.
func Int(i int) Value { return Value{Type: FieldInt, Int: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{Type: FieldFloat, Float: f} }

// Enum returns an enum value.
func Enum(s string) Value { return Value{Type: FieldEnum, Str: s} }

// Fragment returns a fragment value. A nil container is an empty fragment.
func Fragment(c *xmldoc.Container) Value {
	if c == nil {
		c = xmldoc.NewContainer()
	}
	return Value{Type: FieldFragment, Fragment: c}
}

// Equal reports whether two values hold the same data.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case FieldInt:
		return v.Int == o.Int
	case FieldFloat:
		return v.Float == o.Float
	case FieldFragment:
		return v.Fragment.Equal(o.Fragment)
	default:
		return v.Str == o.Str
	}
}

// Text renders scalar values as they appear in patch XML. Fragments render as inner XML.
func (v Value) Text() string {
	switch v.Type {
	case FieldInt:
		return strconv.Itoa(v.Int)
	case FieldFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case FieldFragment:
		return v.Fragment.InnerXML()
	default:
		return v.Str
	}
}

// Field describes one editable field of an operation kind.
type Field struct {
	Name    string
	Type    FieldType
	Options []string
	Default Value
	// Nested marks a fragment that holds operations as <li Class="..."> elements.
	Nested bool
}

// ParseValue converts text into a value of the field's type.
func ParseValue(f Field, text string) (Value, error) {
	switch f.Type {
	case FieldString:
		return String(text), nil
	case FieldInt:
		i, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return Value{}, &FieldError{Field: f.Name, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
		return Int(i), nil
	case FieldFloat:
		fl, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, &FieldError{Field: f.Name, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
		return Float(fl), nil
	case FieldEnum:
		for _, opt := range f.Options {
			if strings.EqualFold(opt, strings.TrimSpace(text)) {
				return Enum(opt), nil
			}
		}
		return Value{}, &FieldError{Field: f.Name, Err: fmt.Errorf("%w: %q not one of %s", ErrInvalidValue, text, strings.Join(f.Options, "|"))}
	case FieldFragment:
		c, err := xmldoc.ParseContainer(text)
		if err != nil {
			return Value{}, &FieldError{Field: f.Name, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
		return Fragment(c), nil
	}
	return Value{}, &FieldError{Field: f.Name, Err: ErrTypeMismatch}
}

func (f Field) check(v Value) error {
	if v.Type != f.Type {
		return &FieldError{Field: f.Name, Err: fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, f.Type, v.Type)}
	}
	if f.Type == FieldEnum && !slices.Contains(f.Options, v.Str) {
		return &FieldError{Field: f.Name, Err: fmt.Errorf("%w: %q not one of %s", ErrInvalidValue, v.Str, strings.Join(f.Options, "|"))}
	}
	return nil
}
