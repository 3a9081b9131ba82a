package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const defs = `<Defs>
  <ThingDef Name="BaseGun" Abstract="True"><label>gun</label></ThingDef>
  <ThingDef ParentName="BaseGun">
    <defName>Gun_Revolver</defName>
    <label>revolver</label>
  </ThingDef>
</Defs>`

const revolver = `/Defs/ThingDef[defName="Gun_Revolver"]`

func load(t *testing.T) *xmldoc.Document {
	t.Helper()
	doc, err := xmldoc.ParseString(defs)
	require.NoError(t, err)
	return doc
}

func fragment(t *testing.T, body string) Value {
	t.Helper()
	c, err := xmldoc.ParseContainer(body)
	require.NoError(t, err)
	return Fragment(c)
}

func childNames(t *testing.T, doc *xmldoc.Document, query string) []string {
	t.Helper()
	n, err := doc.SelectOne(query)
	require.NoError(t, err)
	require.NotNil(t, n, query)
	var out []string
	for _, c := range n.ElementChildren() {
		out = append(out, c.Name)
	}
	return out
}

func fieldNames(op Operation) []string {
	var out []string
	for _, f := range op.Fields() {
		out = append(out, f.Name)
	}
	return out
}

func TestFieldLayout(t *testing.T) {
	assert.Equal(t, []string{"xpath", "success", "order", "value"}, fieldNames(NewAdd()))
	assert.Equal(t, []string{"xpath", "success", "attribute", "value"}, fieldNames(NewAttributeSet()))
	assert.Equal(t, []string{"xpath", "success", "match", "nomatch"}, fieldNames(NewConditional(nil)))
	assert.Equal(t, []string{"xpath", "success", "operations"}, fieldNames(NewSequence(nil)))

	insert := NewInsert()
	order, err := insert.Get("order")
	require.NoError(t, err)
	assert.Equal(t, Enum(OrderPrepend), order)
	for _, f := range insert.Fields() {
		if f.Name == "success" {
			assert.Equal(t, SuccessModes, f.Options)
			assert.Equal(t, Enum(SuccessNormal), f.Default)
		}
	}
}

func TestSetChecksTypes(t *testing.T) {
	op := NewAdd()

	err := op.Set("order", Enum("Sideways"))
	require.ErrorIs(t, err, ErrInvalidValue)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindAdd, fe.Kind)
	assert.Equal(t, "order", fe.Field)

	require.ErrorIs(t, op.Set("xpath", Int(3)), ErrTypeMismatch)
	require.ErrorIs(t, op.Set("missing", String("x")), ErrUnknownField)
	_, err = op.Get("missing")
	require.ErrorIs(t, err, ErrUnknownField)

	require.NoError(t, op.Set("xpath", String("/Defs")))
	require.NoError(t, op.Set("order", Enum(OrderPrepend)))
	require.NoError(t, op.Set("value", Value{Type: FieldFragment}))
	assert.Equal(t, "/Defs", op.XPath)
	assert.Equal(t, OrderPrepend, op.Order)
	assert.Equal(t, 0, op.Value.Len())
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(Field{Name: "success", Type: FieldEnum, Options: SuccessModes}, " invert ")
	require.NoError(t, err)
	assert.Equal(t, Enum(SuccessInvert), v)

	v, err = ParseValue(Field{Name: "n", Type: FieldInt}, "42")
	require.NoError(t, err)
	assert.Equal(t, 42, v.Int)

	v, err = ParseValue(Field{Name: "f", Type: FieldFloat}, "0.25")
	require.NoError(t, err)
	assert.Equal(t, "0.25", v.Text())

	_, err = ParseValue(Field{Name: "n", Type: FieldInt}, "many")
	require.ErrorIs(t, err, ErrInvalidValue)

	v, err = ParseValue(Field{Name: "value", Type: FieldFragment}, "<a/><b>x</b>")
	require.NoError(t, err)
	assert.Equal(t, "<a /><b>x</b>", v.Text())

	_, err = ParseValue(Field{Name: "value", Type: FieldFragment}, "<a>")
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestAddOrders(t *testing.T) {
	doc := load(t)
	op := NewAdd()
	op.XPath = revolver
	require.NoError(t, op.Set("value", fragment(t, "<a/><b/>")))

	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"defName", "label", "a", "b"}, childNames(t, doc, revolver))

	op.Order = OrderPrepend
	ok, err = op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "defName", "label", "a", "b"}, childNames(t, doc, revolver))
}

func TestAddNoMatchAndAttributeTarget(t *testing.T) {
	doc := load(t)
	op := NewAdd()
	op.XPath = "/Defs/ThingDef[defName=\"Missing\"]"
	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.False(t, ok)

	op.XPath = "/Defs/ThingDef/@Name"
	_, err = op.Apply(doc)
	require.ErrorIs(t, err, ErrNotElement)
	var ae *ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindAdd, ae.Kind)
}

func TestInsert(t *testing.T) {
	doc := load(t)
	op := NewInsert()
	op.XPath = revolver + "/label"
	require.NoError(t, op.Set("value", fragment(t, "<a/><b/>")))

	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"defName", "a", "b", "label"}, childNames(t, doc, revolver))

	doc = load(t)
	op.Order = OrderAppend
	_, err = op.Apply(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"defName", "label", "a", "b"}, childNames(t, doc, revolver))

	op.XPath = "/Defs"
	_, err = op.Apply(doc)
	require.ErrorIs(t, err, ErrRootSibling)
}

func TestRemove(t *testing.T) {
	doc := load(t)
	op := NewRemove()
	op.XPath = "//label"
	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	nodes, err := doc.Select("//label")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	op.XPath = "/Defs/ThingDef/@Abstract"
	ok, err = op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	_, has := doc.DocumentElement().ElementChildren()[0].Attr("Abstract")
	assert.False(t, has)

	ok, err = op.Apply(doc)
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to remove")
}

func TestReplace(t *testing.T) {
	doc := load(t)
	op := NewReplace()
	op.XPath = revolver + "/label"
	require.NoError(t, op.Set("value", fragment(t, "<label>pistol</label><description>d</description>")))
	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"defName", "label", "description"}, childNames(t, doc, revolver))
	label, err := doc.SelectOne(revolver + "/label")
	require.NoError(t, err)
	assert.Equal(t, "pistol", label.InnerText())

	op.XPath = "/Defs"
	_, err = op.Apply(doc)
	require.ErrorIs(t, err, ErrRootSibling)

	require.NoError(t, op.Set("value", fragment(t, "<Patch/>")))
	ok, err = op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Patch", doc.DocumentElement().Name)
}

func TestAttributeOperations(t *testing.T) {
	doc := load(t)
	base := "/Defs/ThingDef[@Name=\"BaseGun\"]"

	add := NewAttributeAdd()
	add.XPath, add.Attribute, add.Value = base, "Abstract", "False"
	ok, err := add.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok, "present attribute still counts as a match")
	n, _ := doc.SelectOne(base)
	v, _ := n.Attr("Abstract")
	assert.Equal(t, "True", v)

	set := NewAttributeSet()
	set.XPath, set.Attribute, set.Value = base, "Abstract", "False"
	ok, err = set.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = n.Attr("Abstract")
	assert.Equal(t, "False", v)

	rm := NewAttributeRemove()
	rm.XPath, rm.Attribute = revolver, "Abstract"
	ok, err = rm.Apply(doc)
	require.NoError(t, err)
	assert.False(t, ok)

	rm.XPath = base
	ok, err = rm.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	_, has := n.Attr("Abstract")
	assert.False(t, has)

	set.XPath = "//label/text()"
	_, err = set.Apply(doc)
	require.ErrorIs(t, err, ErrNotElement)
}

func TestSetName(t *testing.T) {
	doc := load(t)
	op := NewSetName()
	op.XPath, op.Name = "//label", "title"
	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	titles, err := doc.Select("//title")
	require.NoError(t, err)
	assert.Len(t, titles, 2)
}

func TestSuccessModes(t *testing.T) {
	cases := []struct {
		mode    string
		query   string
		success bool
	}{
		{SuccessNormal, revolver, true},
		{SuccessNormal, "/Defs/Missing", false},
		{SuccessInvert, revolver, false},
		{SuccessInvert, "/Defs/Missing", true},
		{SuccessAlways, "/Defs/Missing", true},
		{SuccessNever, revolver, false},
	}
	doc := load(t)
	for _, tc := range cases {
		op := NewTest()
		op.XPath = tc.query
		require.NoError(t, op.Set("success", Enum(tc.mode)))
		ok, err := op.Apply(doc)
		require.NoError(t, err)
		assert.Equal(t, tc.success, ok, "%s %s", tc.mode, tc.query)
	}
}

func TestConditional(t *testing.T) {
	ops, err := DefaultRegistry.DecodeString(`<Operation Class="PatchOperationConditional">
  <xpath>/Defs/ThingDef[defName="Gun_Revolver"]/tradeable</xpath>
  <nomatch Class="PatchOperationAdd">
    <xpath>/Defs/ThingDef[defName="Gun_Revolver"]</xpath>
    <value><tradeable>false</tradeable></value>
  </nomatch>
</Operation>`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	op := ops[0]

	doc := load(t)
	ok, err := op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"defName", "label", "tradeable"}, childNames(t, doc, revolver))

	ok, err = op.Apply(doc)
	require.NoError(t, err)
	assert.True(t, ok, "empty match branch succeeds")
	assert.Equal(t, []string{"defName", "label", "tradeable"}, childNames(t, doc, revolver))

	empty := NewConditional(nil)
	empty.XPath = revolver
	ok, err = empty.Apply(doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	ops, err := DefaultRegistry.DecodeString(`<Patch>
  <Operation Class="PatchOperationSequence">
    <operations>
      <li Class="PatchOperationAttributeSet">
        <xpath>/Defs/ThingDef[defName="Gun_Revolver"]</xpath>
        <attribute>Abstract</attribute>
        <value>False</value>
      </li>
      <li Class="PatchOperationTest">
        <xpath>/Defs/Missing</xpath>
      </li>
      <li Class="PatchOperationRemove">
        <xpath>//label</xpath>
      </li>
    </operations>
  </Operation>
</Patch>`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	seq := ops[0]
	assert.Equal(t, revolver, seq.Target())

	doc := load(t)
	ok, err := seq.Apply(doc)
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := doc.SelectOne(revolver)
	v, _ := n.Attr("Abstract")
	assert.Equal(t, "False", v, "operations before the failure ran")
	labels, _ := doc.Select("//label")
	assert.Len(t, labels, 2, "operations after the failure did not run")
}

func TestResetRestoresDefaults(t *testing.T) {
	op := NewAdd()
	op.XPath = "/Defs"
	op.Order = OrderPrepend
	require.NoError(t, op.Set("value", fragment(t, "<a/>")))
	fields, _ := NonDefault(op)
	assert.Len(t, fields, 3)

	Reset(op)
	fields, _ = NonDefault(op)
	assert.Empty(t, fields)
	assert.Equal(t, OrderAppend, op.Order)
}
