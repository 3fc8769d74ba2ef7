// Package graph - Transaction, the staging buffer for graph mutations.
//
// A transaction buffers inserts, reservations, removals, and mutations in
// submission order; nothing touches the graph until Commit. Identifiers are
// valid immediately within the transaction (they come straight from the
// Context), which is what lets cyclic structures build in one batch via the
// reservation / fill-back protocol.
//
// There is deliberately no read-your-writes query API on a transaction:
// staged state is observable to later operations only through the
// identifiers they hold.
package graph

import (
	"fmt"
)

// MutateFunc transforms a node value into its post-state. It must treat the
// input as its own (the commit pipeline hands it a private clone) and return
// the value to store; returning an error aborts the commit.
type MutateFunc func(node any) (any, error)

// stagedMutation is one deferred edit of a live-in-graph node. Exactly one
// of fn / linkOp is set: AddLink and RemoveLink lower to linkOps that are
// resolved against the node's variant at apply time.
type stagedMutation struct {
	id NodeID
	fn MutateFunc
	op *linkOp
}

type linkOp struct {
	field  string
	target NodeID
	remove bool
}

// pendingNode is a node staged for insertion: either a completed insert, or
// a reservation awaiting its fill-back (node == nil).
type pendingNode struct {
	tag  VariantTag
	node any
}

// Transaction stages mutations against one graph family.
//
// A transaction is an independently-owned object: construct it anywhere,
// submit operations from its single owner, then hand it to Graph.Commit.
// Dropping it before commit releases the staging buffer with no effect.
// A transaction can be committed at most once.
//
// Example — cyclic construction via reservation / fill-back:
//
//	tx := graph.NewTransaction(ctx, reg)
//	w := tx.Allocate("Worker")
//	f := tx.Insert("Factory", &Factory{Workers: graph.NewIDSet(w)})
//	if err := tx.FillBack(w, "Worker", &Worker{Factory: f}); err != nil {
//		return err
//	}
//	if err := g.Commit(tx); err != nil {
//		return err
//	}
type Transaction struct {
	ctx *Context
	reg *Registry

	done bool

	pending      map[NodeID]*pendingNode
	pendingOrder []NodeID

	removals  []NodeID
	mutations []stagedMutation

	// errs collects staging-time misuse (unknown variant, foreign id) so
	// that submission calls stay fluent; Commit reports the first one.
	errs []error
}

// NewTransaction creates an empty transaction bound to a Context and
// Registry. The Context must be the one the target graph is bound to.
func NewTransaction(ctx *Context, reg *Registry) *Transaction {
	return &Transaction{
		ctx:     ctx,
		reg:     reg,
		pending: make(map[NodeID]*pendingNode),
	}
}

// Insert stages a new node and returns its freshly minted identifier. The
// id may be referenced by later operations in the same transaction.
func (tx *Transaction) Insert(tag VariantTag, node any) NodeID {
	if tx.done {
		tx.errs = append(tx.errs, ErrTransactionDone)
		return EmptyID
	}
	if _, ok := tx.reg.Variant(tag); !ok {
		tx.errs = append(tx.errs, fmt.Errorf("insert: %s: %w", tag, ErrUnknownVariant))
		return EmptyID
	}
	if node == nil {
		tx.errs = append(tx.errs, fmt.Errorf("insert of nil %s node", tag))
		return EmptyID
	}
	id := tx.ctx.NewID()
	tx.pending[id] = &pendingNode{tag: tag, node: node}
	tx.pendingOrder = append(tx.pendingOrder, id)
	return id
}

// Allocate reserves an identifier for a node of the given variant without
// supplying its value yet. A matching FillBack must arrive before commit;
// an unfilled reservation fails the commit with UnfilledReservationError.
func (tx *Transaction) Allocate(tag VariantTag) NodeID {
	if tx.done {
		tx.errs = append(tx.errs, ErrTransactionDone)
		return EmptyID
	}
	if _, ok := tx.reg.Variant(tag); !ok {
		tx.errs = append(tx.errs, fmt.Errorf("allocate: %s: %w", tag, ErrUnknownVariant))
		return EmptyID
	}
	id := tx.ctx.NewID()
	tx.pending[id] = &pendingNode{tag: tag}
	tx.pendingOrder = append(tx.pendingOrder, id)
	return id
}

// FillBack supplies the node value for a reserved identifier. The variant
// must equal the one declared at reservation; filling an id that was never
// reserved, or filling twice, is an error.
func (tx *Transaction) FillBack(id NodeID, tag VariantTag, node any) error {
	if tx.done {
		return ErrTransactionDone
	}
	p, ok := tx.pending[id]
	if !ok {
		return fmt.Errorf("fill-back of %s, which was not allocated in this transaction: %w", id, ErrNotFound)
	}
	if p.node != nil {
		return fmt.Errorf("fill-back of %s, which is already filled: %w", id, ErrInvalidID)
	}
	if p.tag != tag {
		return &VariantMismatchError{ID: id, Reserved: p.tag, Filled: tag}
	}
	if node == nil {
		return fmt.Errorf("fill-back of nil %s node", tag)
	}
	p.node = node
	return nil
}

// Remove marks an identifier for deletion. Removing an id inserted or
// allocated in this same transaction cancels the staged insert instead —
// the pair nets out to a no-op, and an unfilled reservation is released.
func (tx *Transaction) Remove(id NodeID) {
	if tx.done {
		tx.errs = append(tx.errs, ErrTransactionDone)
		return
	}
	if _, staged := tx.pending[id]; staged {
		delete(tx.pending, id)
		for i, oid := range tx.pendingOrder {
			if oid == id {
				tx.pendingOrder = append(tx.pendingOrder[:i], tx.pendingOrder[i+1:]...)
				break
			}
		}
		return
	}
	tx.removals = append(tx.removals, id)
}

// Mutate stages an edit of a node. The function receives the pre-state and
// returns the post-state; multiple mutations of one id compose in
// submission order, each seeing the previous one's effects.
//
// Mutating an id staged in this same transaction applies immediately to the
// staged value.
func (tx *Transaction) Mutate(id NodeID, fn MutateFunc) {
	if tx.done {
		tx.errs = append(tx.errs, ErrTransactionDone)
		return
	}
	if p, staged := tx.pending[id]; staged {
		if p.node == nil {
			tx.errs = append(tx.errs, fmt.Errorf("mutate of %s before its fill-back: %w", id, ErrNotFound))
			return
		}
		next, err := fn(p.node)
		if err != nil {
			tx.errs = append(tx.errs, fmt.Errorf("mutate of staged %s: %w", id, err))
			return
		}
		p.node = next
		return
	}
	tx.mutations = append(tx.mutations, stagedMutation{id: id, fn: fn})
}

// AddLink stages the addition of a link target on the named field of a
// node: a Single field is bound, replacing any current target; an Ordered
// field appends; a Set field inserts. Lowered to a mutation.
func (tx *Transaction) AddLink(id NodeID, field string, target NodeID) {
	tx.stageLinkOp(id, linkOp{field: field, target: target})
}

// RemoveLink stages the removal of a link target: a Single field holding
// the target is cleared, an Ordered field drops every occurrence, a Set
// field removes the member. Lowered to a mutation.
func (tx *Transaction) RemoveLink(id NodeID, field string, target NodeID) {
	tx.stageLinkOp(id, linkOp{field: field, target: target, remove: true})
}

func (tx *Transaction) stageLinkOp(id NodeID, op linkOp) {
	if tx.done {
		tx.errs = append(tx.errs, ErrTransactionDone)
		return
	}
	if p, staged := tx.pending[id]; staged {
		if p.node == nil {
			tx.errs = append(tx.errs, fmt.Errorf("link update of %s before its fill-back: %w", id, ErrNotFound))
			return
		}
		if err := applyLinkOp(tx.reg, p.tag, p.node, op); err != nil {
			tx.errs = append(tx.errs, err)
		}
		return
	}
	staged := op
	tx.mutations = append(tx.mutations, stagedMutation{id: id, op: &staged})
}

// applyLinkOp performs one lowered link edit against a node value whose
// variant is known.
func applyLinkOp(reg *Registry, tag VariantTag, node any, op linkOp) error {
	v, _ := reg.Variant(tag)
	f, ok := v.Link(op.field)
	if !ok {
		return fmt.Errorf("variant %s field %s: %w", tag, op.field, ErrUnknownField)
	}
	switch f.Shape {
	case Single:
		if op.remove {
			if ts := f.targets(node); len(ts) == 1 && ts[0] == op.target {
				f.setSingle(node, EmptyID)
			}
			return nil
		}
		f.setSingle(node, op.target)
	default:
		if op.remove {
			f.remove(node, op.target)
		} else {
			f.add(node, op.target)
		}
	}
	return nil
}

// Drop abandons the transaction: the staging buffer is released and any
// later submission or commit fails with ErrTransactionDone.
func (tx *Transaction) Drop() {
	tx.done = true
	tx.pending = nil
	tx.pendingOrder = nil
	tx.removals = nil
	tx.mutations = nil
}

// Empty reports whether the transaction stages no operations.
func (tx *Transaction) Empty() bool {
	return len(tx.pending) == 0 && len(tx.removals) == 0 && len(tx.mutations) == 0
}

// OperationCount returns the number of staged operations.
func (tx *Transaction) OperationCount() int {
	return len(tx.pending) + len(tx.removals) + len(tx.mutations)
}

// stagingError returns the first staging-time misuse recorded, if any.
func (tx *Transaction) stagingError() error {
	if len(tx.errs) > 0 {
		return tx.errs[0]
	}
	return nil
}
