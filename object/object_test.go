package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

func TestNewObjectIsCurrent(t *testing.T) {
	o := object.New(7)
	assert.True(t, o.IsNew())
	assert.True(t, o.IsCurrent())
	assert.Equal(t, schema.TypeID(7), o.Type)
	assert.True(t, schema.IsNull(o.Get("missing")))
}

func TestCloneIsDeep(t *testing.T) {
	o := object.New(1).
		Set("tags", schema.MultiText{"a", "b"}).
		Set("data", schema.Blob{1, 2, 3})
	cp := o.Clone()

	cp.Values["tags"].(schema.MultiText)[0] = "x"
	cp.Values["data"].(schema.Blob)[0] = 9
	cp.Set("extra", schema.Text("y"))

	assert.Equal(t, "a", o.Values["tags"].(schema.MultiText)[0])
	assert.Equal(t, byte(1), o.Values["data"].(schema.Blob)[0])
	assert.NotContains(t, o.Values, "extra")
	assert.Equal(t, []string{"data", "tags"}, o.Fields())
}

func TestTypedKeyRoundTrip(t *testing.T) {
	k := object.TypedKey{Type: 12, Key: object.UniqueKey("name", schema.Text("a b:c"))}
	got, ok := object.ParseTypedKey(k.String())
	require.True(t, ok)
	assert.Equal(t, k, got)

	_, ok = object.ParseTypedKey("acl:42")
	assert.False(t, ok)
	_, ok = object.ParseTypedKey("obj:x:id:1")
	assert.False(t, ok)
}

func TestKeysFor(t *testing.T) {
	td := &schema.TypeDescriptor{
		ID: 2,
		Fields: []schema.FieldDescriptor{
			{Name: "number", Type: schema.FieldText, Unique: true},
			{Name: "line", Type: schema.FieldText, Unique: true, UniqueLevel: schema.UniqueParent},
			{Name: "note", Type: schema.FieldText},
			{Name: "ref", Type: schema.FieldText, Unique: true, Nullable: true},
		},
	}
	o := object.New(2).Set("number", schema.Text("INV-1")).Set("line", schema.Text("1"))
	o.LogicalID = 40

	keys := object.KeysFor(td, o)
	assert.Equal(t, []object.Key{"id:40", "u:number=INV-1"}, keys)
}
