package patch

import (
	"errors"
	"fmt"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrTypeMismatch = errors.New("field type mismatch")
	ErrInvalidValue = errors.New("invalid field value")
)

// FieldError reports a failed Get or Set on a named field.
type FieldError struct {
	Kind  string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Operation is one patch operation kind with its editable fields.
type Operation interface {
	Kind() string
	Fields() []Field
	Get(name string) (Value, error)
	Set(name string, v Value) error
	// Target is the query whose matches define the simulation scope.
	Target() string
	Apply(doc *xmldoc.Document) (bool, error)
}

// Binding ties a field description to accessors on an operation's struct.
type Binding struct {
	field Field
	get   func() Value
	set   func(Value)
}

// Schema maps field names to typed accessors on an operation's own struct fields.
type Schema struct {
	kind     string
	bindings []Binding
}

// NewSchema returns an empty schema for kind. Custom kinds embed it and Bind their fields.
func NewSchema(kind string) Schema { return Schema{kind: kind} }

func (s *Schema) Kind() string { return s.kind }

// Fields lists fields in declaration order with fragments last.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.bindings))
	for _, b := range s.bindings {
		if b.field.Type != FieldFragment {
			out = append(out, b.field)
		}
	}
	for _, b := range s.bindings {
		if b.field.Type == FieldFragment {
			out = append(out, b.field)
		}
	}
	return out
}

func (s *Schema) lookup(name string) (*Binding, error) {
	for i := range s.bindings {
		if s.bindings[i].field.Name == name {
			return &s.bindings[i], nil
		}
	}
	return nil, &FieldError{Kind: s.kind, Field: name, Err: ErrUnknownField}
}

func (s *Schema) Get(name string) (Value, error) {
	b, err := s.lookup(name)
	if err != nil {
		return Value{}, err
	}
	return b.get(), nil
}

func (s *Schema) Set(name string, v Value) error {
	b, err := s.lookup(name)
	if err != nil {
		return err
	}
	if v.Type == FieldFragment && v.Fragment == nil {
		v = Fragment(nil)
	}
	if err := b.field.check(v); err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			fe.Kind = s.kind
		}
		return err
	}
	b.set(v)
	return nil
}

// Bind registers fields; each default is the target's value at bind time.
func (s *Schema) Bind(bs ...Binding) {
	s.bindings = append(s.bindings, bs...)
}

// StringField binds a free-text field.
func StringField(name string, dst *string) Binding {
	return Binding{
		field: Field{Name: name, Type: FieldString, Default: String(*dst)},
		get:   func() Value { return String(*dst) },
		set:   func(v Value) { *dst = v.Str },
	}
}

// EnumField binds a field restricted to options.
func EnumField(name string, dst *string, options ...string) Binding {
	return Binding{
		field: Field{Name: name, Type: FieldEnum, Options: options, Default: Enum(*dst)},
		get:   func() Value { return Enum(*dst) },
		set:   func(v Value) { *dst = v.Str },
	}
}

func IntField(name string, dst *int) Binding {
	return Binding{
		field: Field{Name: name, Type: FieldInt, Default: Int(*dst)},
		get:   func() Value { return Int(*dst) },
		set:   func(v Value) { *dst = v.Int },
	}
}

func FloatField(name string, dst *float64) Binding {
	return Binding{
		field: Field{Name: name, Type: FieldFloat, Default: Float(*dst)},
		get:   func() Value { return Float(*dst) },
		set:   func(v Value) { *dst = v.Float },
	}
}

// FragmentField binds a staged XML fragment. Nested fragments hold operations.
func FragmentField(name string, dst **xmldoc.Container, nested bool) Binding {
	if *dst == nil {
		*dst = xmldoc.NewContainer()
	}
	return Binding{
		field: Field{Name: name, Type: FieldFragment, Default: Fragment(xmldoc.NewContainer()), Nested: nested},
		get:   func() Value { return Fragment(*dst) },
		set:   func(v Value) { *dst = v.Fragment },
	}
}

// NonDefault returns the fields whose current value differs from the default, in field order.
func NonDefault(op Operation) ([]Field, []Value) {
	var (
		fields []Field
		values []Value
	)
	for _, f := range op.Fields() {
		v, err := op.Get(f.Name)
		if err != nil || v.Equal(f.Default) {
			continue
		}
		fields = append(fields, f)
		values = append(values, v)
	}
	return fields, values
}

// Reset restores every field to its default.
func Reset(op Operation) {
	for _, f := range op.Fields() {
		def := f.Default
		if def.Type == FieldFragment {
			def = Fragment(xmldoc.NewContainer())
		}
		_ = op.Set(f.Name, def)
	}
}
