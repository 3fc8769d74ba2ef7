// Package graph - link-type checking over existing data.
package graph

// ValidateLinkTypes sweeps every live node against the registry's declared
// link-type constraints, regardless of whether the per-commit checker is
// enabled. Useful after restoring a snapshot against a registry whose
// constraint list grew since the data was written.
func (g *Graph) ValidateLinkTypes() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, tag := range g.reg.Variants() {
		v, _ := g.reg.Variant(tag)
		var ruled []*LinkField
		rules := make(map[string]*linkTypeRule)
		for i := range v.Links {
			f := &v.Links[i]
			if rule, ok := g.reg.linkTypeFor(tag, f.Name); ok {
				ruled = append(ruled, f)
				rules[f.Name] = rule
			}
		}
		if len(ruled) == 0 {
			continue
		}

		var sweepErr error
		g.stores[tag].each(func(id NodeID, node any) bool {
			for _, f := range ruled {
				rule := rules[f.Name]
				for _, target := range f.targets(node) {
					if target.IsEmpty() {
						continue
					}
					dstTag, ok := g.index[target]
					if !ok {
						sweepErr = &DanglingReferenceError{Source: id, Field: f.Name, Target: target}
						return false
					}
					if _, permitted := rule.permitted[dstTag]; !permitted {
						sweepErr = &LinkTypeViolationError{
							Source: id, Field: f.Name, Target: target,
							Actual: dstTag, Permitted: rule.ordered,
						}
						return false
					}
				}
			}
			return true
		})
		if sweepErr != nil {
			return sweepErr
		}
	}
	return nil
}
