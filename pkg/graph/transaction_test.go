package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_CycleConstruction(t *testing.T) {
	// Allocate a Worker id, insert a Factory referencing it, fill the
	// Worker back referencing the Factory: mutual references in one commit.
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	w := tx.Allocate("Worker")
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet(w)})
	require.NoError(t, tx.FillBack(w, "Worker", &Worker{Name: "drill", Factory: f}))
	require.NoError(t, g.Commit(tx))

	_, fNode, ok := g.Get(f)
	require.True(t, ok)
	assert.Equal(t, []NodeID{w}, fNode.(*Factory).Workers.All())

	_, wNode, ok := g.Get(w)
	require.True(t, ok)
	assert.Equal(t, f, wNode.(*Worker).Factory)
}

func TestTransaction_UnfilledReservation(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	w := tx.Allocate("Worker")
	err := g.Commit(tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnfilledReservation)

	var unfilled *UnfilledReservationError
	require.ErrorAs(t, err, &unfilled)
	assert.Equal(t, w, unfilled.ID)
	assert.Equal(t, VariantTag("Worker"), unfilled.Variant)
}

func TestTransaction_FillBack(t *testing.T) {
	ctx, reg, _ := newTestGraph(t)

	t.Run("variant_mismatch", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		w := tx.Allocate("Worker")
		err := tx.FillBack(w, "Product", &Product{SKU: "p-1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVariantMismatch)

		var mismatch *VariantMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, VariantTag("Worker"), mismatch.Reserved)
		assert.Equal(t, VariantTag("Product"), mismatch.Filled)
	})

	t.Run("unknown_reservation", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		err := tx.FillBack(ctx.NewID(), "Worker", &Worker{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("double_fill", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		w := tx.Allocate("Worker")
		require.NoError(t, tx.FillBack(w, "Worker", &Worker{Name: "first"}))
		err := tx.FillBack(w, "Worker", &Worker{Name: "second"})
		assert.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestTransaction_InsertThenRemoveIsNoOp(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "drill"})
	tx.Remove(id)
	assert.True(t, tx.Empty())

	require.NoError(t, g.Commit(tx))
	assert.Equal(t, 0, g.Len())
	assert.False(t, g.Contains(id))
}

func TestTransaction_RemoveReleasesReservation(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	w := tx.Allocate("Worker")
	tx.Remove(w)
	// The unfilled reservation was released, so the commit succeeds.
	require.NoError(t, g.Commit(tx))
	assert.Equal(t, 0, g.Len())
}

func TestTransaction_MutationComposition(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "a"})
	require.NoError(t, g.Commit(tx))

	tx = NewTransaction(ctx, reg)
	tx.Mutate(id, func(node any) (any, error) {
		w := node.(*Worker)
		w.Name += "b"
		return w, nil
	})
	tx.Mutate(id, func(node any) (any, error) {
		w := node.(*Worker)
		// The second mutation sees the first one's effect.
		assert.Equal(t, "ab", w.Name)
		w.Name += "c"
		return w, nil
	})
	require.NoError(t, g.Commit(tx))

	_, node, _ := g.Get(id)
	assert.Equal(t, "abc", node.(*Worker).Name)
}

func TestTransaction_MutationErrorAbortsCommit(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "before"})
	require.NoError(t, g.Commit(tx))

	tx = NewTransaction(ctx, reg)
	tx.Mutate(id, func(node any) (any, error) {
		node.(*Worker).Name = "halfway"
		return node, nil
	})
	tx.Mutate(id, func(node any) (any, error) {
		return nil, assert.AnError
	})
	err := g.Commit(tx)
	require.Error(t, err)

	// The earlier mutation of the same batch must not leak through.
	_, node, _ := g.Get(id)
	assert.Equal(t, "before", node.(*Worker).Name)
}

func TestTransaction_MutateStagedNodeAppliesImmediately(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "a"})
	tx.Mutate(id, func(node any) (any, error) {
		node.(*Worker).Name = "b"
		return node, nil
	})
	require.NoError(t, g.Commit(tx))

	_, node, _ := g.Get(id)
	assert.Equal(t, "b", node.(*Worker).Name)
}

func TestTransaction_MutateAbsentFails(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Mutate(ctx.NewID(), func(node any) (any, error) { return node, nil })
	assert.ErrorIs(t, g.Commit(tx), ErrNotFound)
}

func TestTransaction_MutateRemovedFails(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Worker", &Worker{Name: "drill"})
	require.NoError(t, g.Commit(tx))

	tx = NewTransaction(ctx, reg)
	tx.Remove(id)
	tx.Mutate(id, func(node any) (any, error) { return node, nil })
	assert.ErrorIs(t, g.Commit(tx), ErrNotFound)
}

func TestTransaction_LinkUpdates(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	f := tx.Insert("Factory", &Factory{Name: "north", Workers: NewIDSet()})
	p := tx.Insert("Product", &Product{SKU: "p-1", MadeBy: f})
	require.NoError(t, g.Commit(tx))

	t.Run("add_to_ordered", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		tx.AddLink(f, "produced", p)
		tx.AddLink(f, "produced", p) // ordered sequences keep duplicates
		require.NoError(t, g.Commit(tx))

		_, node, _ := g.Get(f)
		assert.Equal(t, []NodeID{p, p}, node.(*Factory).Produced)
	})

	t.Run("remove_from_ordered_drops_all", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		tx.RemoveLink(f, "produced", p)
		require.NoError(t, g.Commit(tx))

		_, node, _ := g.Get(f)
		assert.Empty(t, node.(*Factory).Produced)
	})

	t.Run("unknown_field", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		tx.AddLink(f, "no_such_field", p)
		assert.ErrorIs(t, g.Commit(tx), ErrUnknownField)
	})

	t.Run("staged_node_applies_immediately", func(t *testing.T) {
		tx := NewTransaction(ctx, reg)
		f2 := tx.Insert("Factory", &Factory{Name: "south", Workers: NewIDSet()})
		tx.AddLink(f2, "produced", p)
		require.NoError(t, g.Commit(tx))

		_, node, _ := g.Get(f2)
		assert.Equal(t, []NodeID{p}, node.(*Factory).Produced)
	})
}

func TestTransaction_Drop(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Insert("Worker", &Worker{Name: "drill"})
	tx.Drop()

	assert.ErrorIs(t, g.Commit(tx), ErrTransactionDone)
	assert.Equal(t, 0, g.Len())
}

func TestTransaction_CommitOnlyOnce(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	tx.Insert("Worker", &Worker{Name: "drill"})
	require.NoError(t, g.Commit(tx))
	assert.ErrorIs(t, g.Commit(tx), ErrTransactionDone)
	assert.Equal(t, 1, g.Len())
}

func TestTransaction_UnknownVariant(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	id := tx.Insert("Spaceship", &Worker{})
	assert.Equal(t, EmptyID, id)
	assert.ErrorIs(t, g.Commit(tx), ErrUnknownVariant)
}

func TestTransaction_FailedCommitLeavesTransactionIntact(t *testing.T) {
	ctx, reg, g := newTestGraph(t)

	tx := NewTransaction(ctx, reg)
	w := tx.Allocate("Worker")
	err := g.Commit(tx)
	require.ErrorIs(t, err, ErrUnfilledReservation)

	// Supplying the missing fill-back lets the same transaction commit.
	require.NoError(t, tx.FillBack(w, "Worker", &Worker{Name: "late"}))
	require.NoError(t, g.Commit(tx))
	assert.True(t, g.Contains(w))
}
