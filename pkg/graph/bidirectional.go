// Package graph - bidirectional-link reconciliation.
//
// After primary mutations apply to the overlay, the maintainer restores
// symmetry for every declared pair: targets added to one side gain the
// mirror reference on the other, targets removed lose it, and removing a
// node clears every bidirectional back-reference to it. All edits happen in
// one phase and read the overlay's current state, so user-authored
// complementary edits inside the same transaction cancel cleanly instead of
// conflicting.
package graph

// reconcile runs the delta reconciliation (spec steps: per-field diff of
// every touched node against its pre-commit snapshot) followed by the
// removal cascade.
func (g *Graph) reconcile(st *commitState) error {
	// Snapshot the touched set: nodes cloned *by* reconciliation receive
	// only mirror edits, which are symmetric by construction and must not
	// re-derive further work.
	touched := make([]NodeID, 0, len(st.addedOrder)+len(st.modifiedOrder))
	touched = append(touched, st.addedOrder...)
	touched = append(touched, st.modifiedOrder...)

	for _, id := range touched {
		if _, gone := st.removed[id]; gone {
			continue
		}
		if err := g.reconcileNode(st, id); err != nil {
			return err
		}
	}
	return g.cascadeRemovals(st)
}

// reconcileNode diffs every paired link field of one touched node against
// its pre-commit value and applies the mirror edits.
func (g *Graph) reconcileNode(st *commitState, id NodeID) error {
	tag := st.tagOf(id)
	_, node, _ := st.view(id)
	pre := st.pre[id] // nil for inserted nodes
	v, _ := g.reg.Variant(tag)

	for i := range v.Links {
		f := &v.Links[i]
		if len(g.reg.pairsFor(tag, f.Name)) == 0 {
			continue
		}

		var preTargets []NodeID
		if pre != nil {
			preTargets = f.targets(pre)
		}
		postTargets := f.targets(node)

		// Paired fields are Single or Set shaped, so plain set difference
		// is exact.
		preSet := make(map[NodeID]struct{}, len(preTargets))
		for _, t := range preTargets {
			preSet[t] = struct{}{}
		}
		postSet := make(map[NodeID]struct{}, len(postTargets))
		for _, t := range postTargets {
			postSet[t] = struct{}{}
		}

		for _, t := range postTargets {
			if _, had := preSet[t]; !had {
				if err := g.mirrorAdd(st, id, tag, f.Name, t); err != nil {
					return err
				}
			}
		}
		for _, t := range preTargets {
			if _, still := postSet[t]; !still {
				g.mirrorRemove(st, id, tag, f.Name, t)
			}
		}
	}
	return nil
}

// mirrorAdd installs the opposite half of a newly added edge src -> dst.
func (g *Graph) mirrorAdd(st *commitState, src NodeID, srcTag VariantTag, srcField string, dst NodeID) error {
	if dst.IsEmpty() {
		return nil
	}
	dstTag, _, live := st.view(dst)
	if !live {
		// The dangling check reports this edge; nothing to mirror.
		return nil
	}
	opp, paired := g.reg.oppositeFor(srcTag, srcField, dstTag)
	if !paired {
		return nil
	}
	dstNode, _ := st.writable(dst)
	oppVariant, _ := g.reg.Variant(dstTag)
	of, _ := oppVariant.Link(opp.field)

	switch of.Shape {
	case Single:
		current := of.targets(dstNode)
		if len(current) == 0 {
			of.setSingle(dstNode, src)
			return nil
		}
		if current[0] == src {
			return nil
		}
		return &BidirectionalConflictError{
			Node:     dst,
			Field:    opp.field,
			Existing: current[0],
			Proposed: src,
		}
	case Set:
		of.add(dstNode, src) // idempotent
	}
	return nil
}

// mirrorRemove clears the opposite half of a dropped edge src -> dst. A
// side already cleared (the user may have done it directly earlier in this
// same transaction) is a no-op.
func (g *Graph) mirrorRemove(st *commitState, src NodeID, srcTag VariantTag, srcField string, dst NodeID) {
	if dst.IsEmpty() {
		return
	}
	dstTag, _, live := st.view(dst)
	if !live {
		return
	}
	opp, paired := g.reg.oppositeFor(srcTag, srcField, dstTag)
	if !paired {
		return
	}
	dstNode, _ := st.writable(dst)
	oppVariant, _ := g.reg.Variant(dstTag)
	of, _ := oppVariant.Link(opp.field)

	switch of.Shape {
	case Single:
		if current := of.targets(dstNode); len(current) == 1 && current[0] == src {
			of.setSingle(dstNode, EmptyID)
		}
	case Set:
		of.remove(dstNode, src)
	}
}

// cascadeRemovals clears every bidirectional back-reference to a removed
// node. Forward references through non-paired fields are left for the
// dangling check to report.
func (g *Graph) cascadeRemovals(st *commitState) error {
	for removed := range st.removed {
		removedTag := g.index[removed]

		// Untouched graph-side sources, found through the reference index.
		for ref := range g.refs[removed] {
			if _, gone := st.removed[ref.src]; gone {
				continue
			}
			if _, inOverlay := st.modified[ref.src]; inOverlay {
				continue // handled against its current value below
			}
			srcTag := g.index[ref.src]
			if _, paired := g.reg.oppositeFor(srcTag, ref.field, removedTag); !paired {
				continue
			}
			g.clearReference(st, ref.src, srcTag, ref.field, removed)
		}

		// Overlay-resident sources: their current values are authoritative.
		overlay := make([]NodeID, 0, len(st.addedOrder)+len(st.modifiedOrder))
		overlay = append(overlay, st.addedOrder...)
		overlay = append(overlay, st.modifiedOrder...)
		for _, src := range overlay {
			if _, gone := st.removed[src]; gone {
				continue
			}
			srcTag := st.tagOf(src)
			_, node, _ := st.view(src)
			v, _ := g.reg.Variant(srcTag)
			for i := range v.Links {
				f := &v.Links[i]
				if _, paired := g.reg.oppositeFor(srcTag, f.Name, removedTag); !paired {
					continue
				}
				for _, t := range f.targets(node) {
					if t == removed {
						g.clearReference(st, src, srcTag, f.Name, removed)
						break
					}
				}
			}
		}
	}
	return nil
}

// clearReference drops every occurrence of target from one link field of a
// source node, cloning the source into the overlay first.
func (g *Graph) clearReference(st *commitState, src NodeID, srcTag VariantTag, field string, target NodeID) {
	node, ok := st.writable(src)
	if !ok {
		return
	}
	v, _ := g.reg.Variant(srcTag)
	f, _ := v.Link(field)
	switch f.Shape {
	case Single:
		if ts := f.targets(node); len(ts) == 1 && ts[0] == target {
			f.setSingle(node, EmptyID)
		}
	default:
		f.remove(node, target)
	}
}
