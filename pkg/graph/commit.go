// Package graph - the commit pipeline.
//
// Commit validates and applies a transaction in phases; any phase's failure
// aborts the whole commit with the graph exactly in its pre-commit state.
// The pipeline works against an overlay of cloned node values and writes
// through to the stores only after every check passes, so partial
// application is never observable.
//
// Phase order:
//  1. Reservation completeness
//  2. Context ownership of every referenced identifier
//  3. Removal resolution
//  4. Insert application (into the overlay)
//  5. Mutation application, submission order
//  6. Bidirectional reconciliation (delta + removal cascade)
//  7. Dangling check
//  8. Link-type check (when enabled)
//  9. Write-through
package graph

import (
	"fmt"

	"github.com/askrdb/askr/pkg/log"
)

// commitState is the overlay a commit builds up before write-through.
type commitState struct {
	g *Graph

	removed map[NodeID]struct{}

	added      map[NodeID]*pendingNode
	addedOrder []NodeID

	modified      map[NodeID]any
	modifiedOrder []NodeID
	// pre holds the untouched graph value of every modified node, for delta
	// computation against the pre-commit snapshot.
	pre map[NodeID]any
}

func newCommitState(g *Graph) *commitState {
	return &commitState{
		g:        g,
		removed:  make(map[NodeID]struct{}),
		added:    make(map[NodeID]*pendingNode),
		modified: make(map[NodeID]any),
		pre:      make(map[NodeID]any),
	}
}

// view resolves an identifier against the post-state: overlay first, then
// the live graph, with removals masking both.
func (st *commitState) view(id NodeID) (VariantTag, any, bool) {
	if _, gone := st.removed[id]; gone {
		return "", nil, false
	}
	if p, ok := st.added[id]; ok {
		return p.tag, p.node, true
	}
	if n, ok := st.modified[id]; ok {
		tag := st.g.index[id]
		return tag, n, true
	}
	return st.g.getLocked(id)
}

// tagOf returns the variant of an overlay-resident identifier.
func (st *commitState) tagOf(id NodeID) VariantTag {
	if p, ok := st.added[id]; ok {
		return p.tag
	}
	return st.g.index[id]
}

// writable returns a node value the commit may edit: added nodes are edited
// in place, live graph nodes are cloned on first touch.
func (st *commitState) writable(id NodeID) (any, bool) {
	if p, ok := st.added[id]; ok {
		return p.node, true
	}
	if n, ok := st.modified[id]; ok {
		return n, true
	}
	tag, node, ok := st.g.getLocked(id)
	if !ok {
		return nil, false
	}
	v, _ := st.g.reg.Variant(tag)
	clone := v.Clone(node)
	st.modified[id] = clone
	st.modifiedOrder = append(st.modifiedOrder, id)
	st.pre[id] = node
	return clone, true
}

// setModified replaces the overlay value of a mutated node.
func (st *commitState) setModified(id NodeID, node any) {
	st.modified[id] = node
}

// Commit atomically applies a transaction. On error the graph is unchanged
// and the transaction remains intact; on success the transaction is
// consumed and cannot be committed again.
func (g *Graph) Commit(tx *Transaction) error {
	return g.commit(tx, g.validateAlways)
}

// CommitWithCheck applies a transaction like Commit and additionally runs
// the full structural validation sweep over the resulting state before
// anything becomes visible. Slower, stronger: a bug anywhere in the staged
// batch cannot leave the graph subtly inconsistent.
func (g *Graph) CommitWithCheck(tx *Transaction) error {
	return g.commit(tx, true)
}

func (g *Graph) commit(tx *Transaction, fullCheck bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tx.done {
		return ErrTransactionDone
	}
	if err := tx.stagingError(); err != nil {
		return err
	}
	if tx.ctx != g.ctx {
		return &ContextMismatchError{ID: EmptyID}
	}
	if tx.reg != g.reg {
		return fmt.Errorf("transaction built against a different registry: %w", ErrUnknownVariant)
	}

	st := newCommitState(g)

	// Phase 1: reservation completeness.
	for _, id := range tx.pendingOrder {
		if p := tx.pending[id]; p.node == nil {
			return &UnfilledReservationError{ID: id, Variant: p.tag}
		}
	}

	// Phase 2: context ownership. Every identifier the transaction touches
	// or references must have been minted by this graph's Context.
	if err := g.checkContexts(tx); err != nil {
		return err
	}

	// Phase 3: removal resolution.
	for _, id := range tx.removals {
		if _, live := g.index[id]; !live {
			return &RemovingAbsentError{ID: id}
		}
		st.removed[id] = struct{}{}
	}

	// Phase 4: insert application. The overlay works on clones so that
	// reconciliation edits never reach the transaction's staged values.
	for _, id := range tx.pendingOrder {
		p := tx.pending[id]
		if _, exists := g.index[id]; exists {
			return fmt.Errorf("insert of %s, which is already live: %w", id, ErrInvalidID)
		}
		v, _ := g.reg.Variant(p.tag)
		st.added[id] = &pendingNode{tag: p.tag, node: v.Clone(p.node)}
		st.addedOrder = append(st.addedOrder, id)
	}

	// Phase 5: mutation application, submission order.
	for _, m := range tx.mutations {
		if _, gone := st.removed[m.id]; gone {
			return fmt.Errorf("mutate of %s, which this transaction removes: %w", m.id, ErrNotFound)
		}
		node, ok := st.writable(m.id)
		if !ok {
			return fmt.Errorf("mutate of %s: %w", m.id, ErrNotFound)
		}
		if m.op != nil {
			if err := applyLinkOp(g.reg, st.tagOf(m.id), node, *m.op); err != nil {
				return err
			}
			continue
		}
		next, err := m.fn(node)
		if err != nil {
			return fmt.Errorf("mutation of %s: %w", m.id, err)
		}
		if next == nil {
			return fmt.Errorf("mutation of %s returned a nil node", m.id)
		}
		st.setModified(m.id, next)
	}

	// Phase 6: bidirectional reconciliation.
	if err := g.reconcile(st); err != nil {
		return err
	}

	// Phase 7 + 8: dangling and link-type checks over the overlay.
	if err := g.checkOverlay(st); err != nil {
		return err
	}

	// Optional full sweep over the post-state.
	if fullCheck {
		if err := g.validatePostState(st); err != nil {
			return err
		}
	}

	// Phase 9: write-through.
	g.apply(st)
	tx.done = true

	log.Debug("commit applied", map[string]any{
		"added":    len(st.added),
		"modified": len(st.modified),
		"removed":  len(st.removed),
	})
	return nil
}

// checkContexts verifies phase 2.
func (g *Graph) checkContexts(tx *Transaction) error {
	for _, id := range tx.removals {
		if !g.ctx.owns(id) {
			return &ContextMismatchError{ID: id}
		}
	}
	for _, m := range tx.mutations {
		if !g.ctx.owns(m.id) {
			return &ContextMismatchError{ID: m.id}
		}
		if m.op != nil && !m.op.target.IsEmpty() && !g.ctx.owns(m.op.target) {
			return &ContextMismatchError{ID: m.op.target}
		}
	}
	for _, id := range tx.pendingOrder {
		p := tx.pending[id]
		v, _ := g.reg.Variant(p.tag)
		for i := range v.Links {
			for _, target := range v.Links[i].targets(p.node) {
				if !target.IsEmpty() && !g.ctx.owns(target) {
					return &ContextMismatchError{ID: target}
				}
			}
		}
	}
	return nil
}

// checkOverlay runs the dangling and link-type phases over every node the
// commit touched, plus the orphan check for removed nodes.
func (g *Graph) checkOverlay(st *commitState) error {
	touched := make([]NodeID, 0, len(st.addedOrder)+len(st.modifiedOrder))
	touched = append(touched, st.addedOrder...)
	touched = append(touched, st.modifiedOrder...)

	for _, id := range touched {
		if _, gone := st.removed[id]; gone {
			continue
		}
		tag := st.tagOf(id)
		_, node, _ := st.view(id)
		v, _ := g.reg.Variant(tag)
		for i := range v.Links {
			f := &v.Links[i]
			rule, ruled := g.reg.linkTypeFor(tag, f.Name)
			for _, target := range f.targets(node) {
				if target.IsEmpty() {
					// Only Single-shape fields may hold the empty id, and
					// their views elide it; an empty target here means a
					// sequence or set was fed EmptyID.
					return &DanglingReferenceError{Source: id, Field: f.Name, Target: target}
				}
				dstTag, _, live := st.view(target)
				if !live {
					return &DanglingReferenceError{Source: id, Field: f.Name, Target: target}
				}
				if g.typeCheck && ruled {
					if _, permitted := rule.permitted[dstTag]; !permitted {
						return &LinkTypeViolationError{
							Source: id, Field: f.Name, Target: target,
							Actual: dstTag, Permitted: rule.ordered,
						}
					}
				}
			}
		}
	}

	// Removed nodes must not leave orphaned references behind: any incoming
	// link from a node the commit did not touch is a dangling reference.
	for id := range st.removed {
		for ref := range g.refs[id] {
			if _, gone := st.removed[ref.src]; gone {
				continue
			}
			if _, inOverlay := st.modified[ref.src]; inOverlay {
				continue // checked directly above against its current value
			}
			return &DanglingReferenceError{Source: ref.src, Field: ref.field, Target: id}
		}
	}
	return nil
}

// validatePostState sweeps the whole resulting graph state through the
// structural validator, before anything is written.
func (g *Graph) validatePostState(st *commitState) error {
	check := func(id NodeID) error {
		tag, node, ok := st.view(id)
		if !ok {
			return nil
		}
		return validateNode(g.reg, st.view, g.typeCheck, tag, id, node)
	}
	for id := range g.index {
		if err := check(id); err != nil {
			return err
		}
	}
	for _, id := range st.addedOrder {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

// apply writes the overlay through to the stores and indexes. No failure
// paths: every check has already passed.
func (g *Graph) apply(st *commitState) {
	for id := range st.removed {
		tag := g.index[id]
		node, _ := g.stores[tag].get(id)
		g.dropRefs(tag, id, node)
		g.stores[tag].remove(id)
		delete(g.index, id)
		delete(g.refs, id)
	}
	for _, id := range st.modifiedOrder {
		if _, gone := st.removed[id]; gone {
			continue
		}
		tag := g.index[id]
		old, _ := g.stores[tag].get(id)
		g.dropRefs(tag, id, old)
		g.stores[tag].replace(id, st.modified[id])
		g.addRefs(tag, id, st.modified[id])
	}
	for _, id := range st.addedOrder {
		p := st.added[id]
		v, _ := g.reg.Variant(p.tag)
		// Store a private copy so the caller's reference cannot mutate
		// graph state behind the transaction discipline.
		stored := v.Clone(p.node)
		g.stores[p.tag].insert(id, stored)
		g.index[id] = p.tag
		g.addRefs(p.tag, id, stored)
	}
}
