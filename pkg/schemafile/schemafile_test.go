package schemafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrdb/askr/pkg/graph"
)

const factorySchema = `
variant "Factory" {
  groups = ["industrial"]

  data "name" { type = "string" }
  data "capacity" {
    type    = "int"
    default = 100
  }

  link "workers" {
    shape  = "set"
    groups = ["staff"]
  }
  link "owner" { shape = "single" }
}

variant "Worker" {
  groups = ["industrial"]

  data "name" { type = "string" }

  link "factory" { shape = "single" }
}

variant "Product" {
  data "sku" { type = "string" }

  link "made_by" { shape = "single" }
}

bidirectional {
  a = "Factory.workers"
  b = "Worker.factory"
}

link_type {
  field   = "Factory.workers"
  targets = ["Worker"]
}
`

func writeSchema(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, "factory.graph.hcl", factorySchema)

	f, err := DecodeFile(path)
	require.NoError(t, err)
	require.Len(t, f.Variants, 3)
	assert.Equal(t, "Factory", f.Variants[0].Name)
	assert.Equal(t, []string{"industrial"}, f.Variants[0].Groups)
	require.Len(t, f.Variants[0].Data, 2)
	require.Len(t, f.Variants[0].Links, 2)
	require.Len(t, f.Bidirectionals, 1)
	require.Len(t, f.LinkTypes, 1)
}

func TestDecodeFile_BadSyntax(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, "broken.graph.hcl", `variant "X" {`)

	_, err := DecodeFile(path)
	assert.Error(t, err)
}

func TestCompile_RegistryWorksEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, "factory.graph.hcl", factorySchema)

	f, err := DecodeFile(path)
	require.NoError(t, err)
	reg, err := Compile(f)
	require.NoError(t, err)

	assert.Equal(t, []graph.VariantTag{"Factory", "Worker", "Product"}, reg.Variants())

	ctx := graph.NewContext()
	g := graph.New(ctx, reg)

	// Bidirectional auto-fill through the compiled pair.
	tx := graph.NewTransaction(ctx, reg)
	factory := tx.Insert("Factory", mustNew(t, reg, "Factory").Set("name", "north"))
	worker := tx.Insert("Worker", mustNew(t, reg, "Worker").
		Set("name", "drill").
		SetSingle("factory", factory))
	require.NoError(t, g.Commit(tx))

	_, factoryNode, ok := g.Get(factory)
	require.True(t, ok)
	view, ok := reg.ReadLink("Factory", factoryNode, "workers")
	require.True(t, ok)
	assert.Equal(t, []graph.NodeID{worker}, view.Targets)

	// The declared default materialized.
	capacity, ok := reg.ReadData("Factory", factoryNode, "capacity", graph.TypeInt)
	require.True(t, ok)
	assert.Equal(t, int64(100), capacity)

	// The compiled link_type rule holds.
	tx = graph.NewTransaction(ctx, reg)
	product := tx.Insert("Product", mustNew(t, reg, "Product").Set("sku", "p-1"))
	tx.AddLink(factory, "workers", product)
	assert.ErrorIs(t, g.Commit(tx), graph.ErrLinkTypeViolation)
}

func mustNew(t *testing.T, reg *graph.Registry, tag graph.VariantTag) *graph.Record {
	t.Helper()
	spec, ok := reg.Variant(tag)
	require.True(t, ok)
	return spec.New().(*graph.Record)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown_shape", `
variant "A" {
  link "x" { shape = "bag" }
}
`},
		{"unknown_type", `
variant "A" {
  data "x" { type = "decimal" }
}
`},
		{"mismatched_default", `
variant "A" {
  data "x" {
    type    = "int"
    default = "ten"
  }
}
`},
		{"fractional_int_default", `
variant "A" {
  data "x" {
    type    = "int"
    default = 1.5
  }
}
`},
		{"duplicate_variant", `
variant "A" {
}
variant "A" {
}
`},
		{"pair_unknown_field", `
variant "A" {
  link "x" { shape = "single" }
}
bidirectional {
  a = "A.x"
  b = "A.ghost"
}
`},
		{"pair_ordered_side", `
variant "A" {
  link "x" { shape = "ordered" }
}
bidirectional {
  a = "A.x"
  b = "A.x"
}
`},
		{"link_type_unknown_target", `
variant "A" {
  link "x" { shape = "single" }
}
link_type {
  field   = "A.x"
  targets = ["Ghost"]
}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeSchema(t, dir, "bad.graph.hcl", tt.body)
			f, err := DecodeFile(path)
			require.NoError(t, err, "fixture must parse; the failure under test is in Compile")
			_, err = Compile(f)
			assert.Error(t, err)
		})
	}
}

func TestDiscoverAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "core/factory.graph.hcl", factorySchema)
	writeSchema(t, dir, "extra/storage.graph.hcl", `
variant "Silo" {
  groups = ["storage"]
  link "supplier" { shape = "single" }
}

link_type {
  field   = "Silo.supplier"
  targets = ["Factory"]
}
`)
	writeSchema(t, dir, "notes.txt", "not a schema")

	paths, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	reg, err := LoadDir(dir)
	require.NoError(t, err)
	// Compile registers the variants of every file before any link_type,
	// so extra/'s link_type can reference Factory from core/.
	assert.Contains(t, reg.Variants(), graph.VariantTag("Silo"))
	assert.Contains(t, reg.Variants(), graph.VariantTag("Factory"))
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
}

func TestCompile_GroupExpansion(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "machines.graph.hcl", `
variant "Mixer" {
  groups = ["machines"]
  link "feeds" {
    shape  = "set"
    groups = ["flows"]
  }
}

variant "Press" {
  groups = ["machines"]
  link "feeds" {
    shape  = "set"
    groups = ["flows"]
  }
}

link_type {
  field   = "group:machines.group:flows"
  targets = ["group:machines"]
}
`)

	reg, err := LoadDir(dir)
	require.NoError(t, err)

	ctx := graph.NewContext()
	g := graph.New(ctx, reg)

	tx := graph.NewTransaction(ctx, reg)
	mixer := tx.Insert("Mixer", mustNew(t, reg, "Mixer"))
	tx.Insert("Press", mustNew(t, reg, "Press").AddToSet("feeds", mixer))
	require.NoError(t, g.Commit(tx))
}
