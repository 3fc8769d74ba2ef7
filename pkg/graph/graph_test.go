package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test fixture: a small manufacturing schema.
//
//	Factory.workers (set)    <-> Worker.factory (single)
//	Factory.produced (ordered) -> Product
//	Factory.workers : {Worker}
//	Factory.produced : {Product}
type Factory struct {
	Name     string
	Workers  IDSet
	Owner    NodeID
	Produced []NodeID
}

type Worker struct {
	Name    string
	Factory NodeID
}

type Product struct {
	SKU    string
	MadeBy NodeID
}

func cloneFactory(node any) any {
	f := node.(*Factory)
	c := &Factory{
		Name:    f.Name,
		Workers: f.Workers.Clone(),
		Owner:   f.Owner,
	}
	c.Produced = append(c.Produced, f.Produced...)
	return c
}

func cloneWorker(node any) any {
	w := node.(*Worker)
	c := *w
	return &c
}

func cloneProduct(node any) any {
	p := node.(*Product)
	c := *p
	return &c
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	require.NoError(t, reg.Register(VariantSpec{
		Tag:    "Factory",
		Groups: []string{"industrial"},
		New:    func() any { return &Factory{Workers: NewIDSet()} },
		Clone:  cloneFactory,
		Links: []LinkField{
			SetLink("workers", LinkGroups("staff", "refs"),
				func(f *Factory) *IDSet { return &f.Workers }),
			SingleLink("owner", nil,
				func(f *Factory) NodeID { return f.Owner },
				func(f *Factory, id NodeID) { f.Owner = id }),
			OrderedLink("produced", LinkGroups("refs"),
				func(f *Factory) *[]NodeID { return &f.Produced }),
		},
		Data: []DataField{
			StringField("name",
				func(f *Factory) string { return f.Name },
				func(f *Factory, v string) { f.Name = v }),
		},
	}))

	require.NoError(t, reg.Register(VariantSpec{
		Tag:    "Worker",
		Groups: []string{"industrial"},
		New:    func() any { return &Worker{} },
		Clone:  cloneWorker,
		Links: []LinkField{
			SingleLink("factory", nil,
				func(w *Worker) NodeID { return w.Factory },
				func(w *Worker, id NodeID) { w.Factory = id }),
		},
		Data: []DataField{
			StringField("name",
				func(w *Worker) string { return w.Name },
				func(w *Worker, v string) { w.Name = v }),
		},
	}))

	require.NoError(t, reg.Register(VariantSpec{
		Tag:    "Product",
		Groups: []string{"goods"},
		New:    func() any { return &Product{} },
		Clone:  cloneProduct,
		Links: []LinkField{
			SingleLink("made_by", nil,
				func(p *Product) NodeID { return p.MadeBy },
				func(p *Product, id NodeID) { p.MadeBy = id }),
		},
		Data: []DataField{
			StringField("sku",
				func(p *Product) string { return p.SKU },
				func(p *Product, v string) { p.SKU = v }),
		},
	}))

	require.NoError(t, reg.Bidirectional("Factory.workers", "Worker.factory"))
	require.NoError(t, reg.LinkType("Factory.workers", "Worker"))
	require.NoError(t, reg.LinkType("Factory.produced", "Product"))
	return reg
}

func newTestGraph(t *testing.T) (*Context, *Registry, *Graph) {
	t.Helper()
	ctx := NewContext()
	reg := testRegistry(t)
	return ctx, reg, New(ctx, reg)
}

func TestGraph_InsertAndGet(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "drill"})
	require.NoError(t, g.Commit(tx))

	tag, node, ok := g.Get(id)
	require.True(t, ok)
	assert.Equal(t, VariantTag("Worker"), tag)
	assert.Equal(t, "drill", node.(*Worker).Name)
	assert.True(t, g.Contains(id))
	assert.Equal(t, 1, g.Len())
}

func TestGraph_GetAbsent(t *testing.T) {
	ctx, _, g := newTestGraph(t)

	_, _, ok := g.Get(ctx.NewID())
	assert.False(t, ok)
	assert.False(t, g.Contains(EmptyID))
}

func TestGraph_IterVariant(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	first := tx.Insert("Worker", &Worker{Name: "first"})
	second := tx.Insert("Worker", &Worker{Name: "second"})
	tx.Insert("Product", &Product{SKU: "p-1"})
	require.NoError(t, g.Commit(tx))

	entries := g.IterVariant("Worker")
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)
	assert.Equal(t, 2, g.VariantLen("Worker"))
	assert.Equal(t, 1, g.VariantLen("Product"))
}

func TestGraph_IterGroup(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	w := tx.Insert("Worker", &Worker{Name: "drill"})
	tx.Insert("Product", &Product{SKU: "p-1"})
	require.NoError(t, g.Commit(tx))

	industrial := g.IterGroup("industrial")
	require.Len(t, industrial, 2)
	// Variants iterate in registration order: Factory before Worker.
	assert.Equal(t, f, industrial[0].ID)
	assert.Equal(t, w, industrial[1].ID)

	assert.Len(t, g.IterGroup("goods"), 1)
	assert.Empty(t, g.IterGroup("nonexistent"))
}

func TestGraph_RemoveNode(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "drill"})
	require.NoError(t, g.Commit(tx))

	tx = NewTransaction(ctx, reg)
	tx.Remove(id)
	require.NoError(t, g.Commit(tx))

	assert.False(t, g.Contains(id))
	assert.Equal(t, 0, g.Len())
}

func TestGraph_RemovingAbsentFails(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Remove(ctx.NewID())
	err := g.Commit(tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemovingAbsent)
}

func TestGraph_DanglingOnRemoval(t *testing.T) {
	// a.made_by = b (not bidirectional); removing b alone must fail.
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	p := tx.Insert("Product", &Product{SKU: "p-1", MadeBy: f})
	require.NoError(t, g.Commit(tx))

	tx = NewTransaction(ctx, reg)
	tx.Remove(f)
	err := g.Commit(tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingReference)

	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, p, dangling.Source)
	assert.Equal(t, "made_by", dangling.Field)
	assert.Equal(t, f, dangling.Target)

	// Aborted commit leaves the graph untouched.
	assert.True(t, g.Contains(f))
	assert.True(t, g.Contains(p))
}

func TestGraph_DanglingInsertFails(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Insert("Product", &Product{SKU: "p-1", MadeBy: ctx.NewID()})
	err := g.Commit(tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingReference)
	assert.Equal(t, 0, g.Len())
}

func TestGraph_EmptyCommitIsNoOp(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Insert("Worker", &Worker{Name: "drill"})
	require.NoError(t, g.Commit(tx))
	before := g.Len()

	empty := NewTransaction(ctx, reg)
	require.NoError(t, g.Commit(empty))
	assert.Equal(t, before, g.Len())
}

func TestGraph_ContextMismatch(t *testing.T) {
	ctx, reg, g := newTestGraph(t)
	foreign := NewContext()

	t.Run("foreign_transaction", func(t *testing.T) {
		tx := NewTransaction(foreign, reg)
		tx.Insert("Worker", &Worker{Name: "drill"})
		err := g.Commit(tx)
		assert.ErrorIs(t, err, ErrContextMismatch)
	})

	t.Run("foreign_link_target", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		tx.Insert("Product", &Product{SKU: "p-1", MadeBy: foreign.NewID()})
		err := g.Commit(tx)
		assert.ErrorIs(t, err, ErrContextMismatch)
	})

	t.Run("foreign_removal", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		tx.Remove(foreign.NewID())
		err := g.Commit(tx)
		assert.ErrorIs(t, err, ErrContextMismatch)
	})
}

func TestGraph_CommitWithCheck(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	tx.Insert("Worker", &Worker{Name: "drill", Factory: f})
	require.NoError(t, g.CommitWithCheck(tx))
	require.NoError(t, g.Validate())
}

func TestGraph_CommitsSerialize(t *testing.T) {
	// Two transactions committed in order: the later one observes the
	// earlier one's effects.
	ctx, reg, g := newTestGraph(t)

	tx1 := NewTransaction(ctx, reg)
	f := tx1.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	require.NoError(t, g.Commit(tx1))

	tx2 := NewTransaction(ctx, reg)
	w := tx2.Insert("Worker", &Worker{Name: "drill", Factory: f})
	require.NoError(t, g.Commit(tx2))

	_, node, ok := g.Get(f)
	require.True(t, ok)
	assert.True(t, node.(*Factory).Workers.Contains(w))
}

func TestGraph_Restore(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	w := tx.Insert("Worker", &Worker{Name: "drill", Factory: f})
	require.NoError(t, g.Commit(tx))

	_, fNode, _ := g.Get(f)
	_, wNode, _ := g.Get(w)

	restoredCtx, err := NewContextAt(ctx.Tag(), ctx.Sequence())
	require.NoError(t, err)
	restored, err := Restore(restoredCtx, reg, []RestoreEntry{
		{ID: f, Variant: "Factory", Node: cloneFactory(fNode)},
		{ID: w, Variant: "Worker", Node: cloneWorker(wNode)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, restored.Len())
	tag, node, ok := restored.Get(w)
	require.True(t, ok)
	assert.Equal(t, VariantTag("Worker"), tag)
	assert.Equal(t, f, node.(*Worker).Factory)

	// Fresh allocations continue past the restored identifiers.
	assert.NotEqual(t, EmptyID, restoredCtx.NewID())
	assert.False(t, restored.Contains(restoredCtx.NewID()))
}

func TestGraph_RestoreRejectsDangling(t *testing.T) {
	ctx, reg, _ := newTestGraph(t)

	ghost := ctx.NewID()
	_, err := Restore(ctx, reg, []RestoreEntry{
		{ID: ctx.NewID(), Variant: "Product", Node: &Product{SKU: "p-1", MadeBy: ghost}},
	})
	assert.ErrorIs(t, err, ErrDanglingReference)
}
