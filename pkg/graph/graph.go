// Package graph - the Graph container.
package graph

import (
	"fmt"
	"sync"

	"github.com/askrdb/askr/pkg/config"
)

// backRef identifies one referencing link: the source node and the field it
// references through. The reference index counts occurrences so that
// Ordered-sequence duplicates balance out on removal.
type backRef struct {
	src   NodeID
	field string
}

// Entry is one (identifier, node value) pair produced by iteration.
type Entry struct {
	ID   NodeID
	Node any
}

// Option configures a Graph at construction time.
type Option func(*Graph)

// WithLinkTypeCheck toggles the link-type checker for this graph's commits.
func WithLinkTypeCheck(enabled bool) Option {
	return func(g *Graph) { g.typeCheck = enabled }
}

// WithValidateOnCommit makes every plain Commit behave like CommitWithCheck.
func WithValidateOnCommit(enabled bool) Option {
	return func(g *Graph) { g.validateAlways = enabled }
}

// Graph is a strongly-typed transactional graph container.
//
// A Graph is bound to the Context that mints its identifiers and to the
// Registry describing its variants. Nodes live in one store per variant; a
// global index maps every identifier to its variant tag; a reference index
// tracks incoming links so removal cascades and dangling checks cost
// O(degree) rather than O(graph).
//
// The graph exposes no direct mutation methods — every change flows through
// a committed Transaction. Commits are serialized; reads are safe
// concurrently with other reads but not with a commit in flight.
//
// Example:
//
//	g := graph.New(ctx, reg)
//
//	tx := graph.NewTransaction(ctx, reg)
//	id := tx.Insert("Worker", &Worker{Name: "drill"})
//	if err := g.Commit(tx); err != nil {
//		return err
//	}
//
//	tag, node, ok := g.Get(id)
type Graph struct {
	mu  sync.RWMutex
	ctx *Context
	reg *Registry

	stores map[VariantTag]*variantStore
	index  map[NodeID]VariantTag
	refs   map[NodeID]map[backRef]int

	typeCheck      bool
	validateAlways bool
}

// New creates an empty graph bound to a Context and a Registry. The
// link-type checker and the full-sweep commit mode default to the
// configured feature flags (see pkg/config); the options override both.
func New(ctx *Context, reg *Registry, opts ...Option) *Graph {
	g := &Graph{
		ctx:            ctx,
		reg:            reg,
		stores:         make(map[VariantTag]*variantStore),
		index:          make(map[NodeID]VariantTag),
		refs:           make(map[NodeID]map[backRef]int),
		typeCheck:      config.IsLinkTypeCheckEnabled(),
		validateAlways: config.IsCommitValidateEnabled(),
	}
	for _, tag := range reg.Variants() {
		g.stores[tag] = newVariantStore()
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the variant registry the graph was built with.
func (g *Graph) Registry() *Registry {
	return g.reg
}

// Context returns the identifier-allocating Context the graph is bound to.
func (g *Graph) Context() *Context {
	return g.ctx
}

// Get looks up a node by identifier, returning its variant tag and value.
//
// The returned value is the graph-owned node; treat it as read-only and
// mutate only through transactions.
func (g *Graph) Get(id NodeID) (VariantTag, any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.getLocked(id)
}

func (g *Graph) getLocked(id NodeID) (VariantTag, any, bool) {
	tag, ok := g.index[id]
	if !ok {
		return "", nil, false
	}
	node, _ := g.stores[tag].get(id)
	return tag, node, true
}

// Contains reports whether the identifier refers to a live node.
func (g *Graph) Contains(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Len returns the total number of live nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.index)
}

// VariantLen returns the number of live nodes of one variant.
func (g *Graph) VariantLen(tag VariantTag) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.stores[tag]; ok {
		return s.len()
	}
	return 0
}

// IterVariant returns every live node of one variant in insertion order.
func (g *Graph) IterVariant(tag VariantTag) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.stores[tag]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, s.len())
	s.each(func(id NodeID, node any) bool {
		out = append(out, Entry{ID: id, Node: node})
		return true
	})
	return out
}

// IterGroup returns the concatenated iteration over every variant in the
// named variant group, variants in registration order.
func (g *Graph) IterGroup(group string) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Entry
	for _, tag := range g.reg.VariantsInGroup(group) {
		g.stores[tag].each(func(id NodeID, node any) bool {
			out = append(out, Entry{ID: id, Node: node})
			return true
		})
	}
	return out
}

// incomingRefs returns the current incoming references of id as a flat list.
func (g *Graph) incomingRefs(id NodeID) []backRef {
	var out []backRef
	for ref, count := range g.refs[id] {
		for i := 0; i < count; i++ {
			out = append(out, ref)
		}
	}
	return out
}

// addRefs records every outgoing link of (id, node) in the reference index.
func (g *Graph) addRefs(tag VariantTag, id NodeID, node any) {
	v, _ := g.reg.Variant(tag)
	for i := range v.Links {
		f := &v.Links[i]
		for _, target := range f.targets(node) {
			if target.IsEmpty() {
				continue
			}
			m, ok := g.refs[target]
			if !ok {
				m = make(map[backRef]int)
				g.refs[target] = m
			}
			m[backRef{src: id, field: f.Name}]++
		}
	}
}

// dropRefs removes every outgoing link of (id, node) from the reference
// index.
func (g *Graph) dropRefs(tag VariantTag, id NodeID, node any) {
	v, _ := g.reg.Variant(tag)
	for i := range v.Links {
		f := &v.Links[i]
		for _, target := range f.targets(node) {
			if target.IsEmpty() {
				continue
			}
			m := g.refs[target]
			key := backRef{src: id, field: f.Name}
			if m[key] <= 1 {
				delete(m, key)
			} else {
				m[key]--
			}
			if len(m) == 0 {
				delete(g.refs, target)
			}
		}
	}
}

// RestoreEntry is one persisted node handed to Restore.
type RestoreEntry struct {
	ID      NodeID
	Variant VariantTag
	Node    any
}

// Restore rebuilds a graph from persisted entries, preserving identifiers.
// The Context must already be seeded past every restored identifier (see
// NewContextAt); entries minted by a foreign context are rejected. The
// restored state is fully validated before the graph is returned.
func Restore(ctx *Context, reg *Registry, entries []RestoreEntry, opts ...Option) (*Graph, error) {
	g := New(ctx, reg, opts...)
	for _, e := range entries {
		if e.ID.IsEmpty() {
			return nil, fmt.Errorf("restore: %w", ErrInvalidID)
		}
		if !ctx.owns(e.ID) {
			return nil, &ContextMismatchError{ID: e.ID}
		}
		if _, dup := g.index[e.ID]; dup {
			return nil, fmt.Errorf("restore: %s appears twice: %w", e.ID, ErrInvalidID)
		}
		s, ok := g.stores[e.Variant]
		if !ok {
			return nil, fmt.Errorf("restore: %s: %w", e.Variant, ErrUnknownVariant)
		}
		s.insert(e.ID, e.Node)
		g.index[e.ID] = e.Variant
		g.addRefs(e.Variant, e.ID, e.Node)
	}
	if err := g.validateLocked(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate runs the full structural sweep over the live graph: every link
// target is live (or empty, on Single fields only), bidirectional pairs are
// symmetric, and — when the checker is enabled — every target variant is
// permitted. A healthy graph returns nil.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	view := func(id NodeID) (VariantTag, any, bool) {
		return g.getLocked(id)
	}
	for _, tag := range g.reg.Variants() {
		var sweepErr error
		g.stores[tag].each(func(id NodeID, node any) bool {
			if err := validateNode(g.reg, view, g.typeCheck, tag, id, node); err != nil {
				sweepErr = err
				return false
			}
			return true
		})
		if sweepErr != nil {
			return sweepErr
		}
	}
	return nil
}

// validateNode checks one node against a resolvable view of the graph
// state: dangling targets, bidirectional symmetry, link types.
func validateNode(reg *Registry, view func(NodeID) (VariantTag, any, bool), typeCheck bool, tag VariantTag, id NodeID, node any) error {
	v, ok := reg.Variant(tag)
	if !ok {
		return fmt.Errorf("%s: %w", tag, ErrUnknownVariant)
	}
	for i := range v.Links {
		f := &v.Links[i]
		rule, ruled := reg.linkTypeFor(tag, f.Name)
		for _, target := range f.targets(node) {
			if target.IsEmpty() {
				// Single-shape views elide the empty id, so an empty target
				// here sits in an Ordered or Set field.
				return &DanglingReferenceError{Source: id, Field: f.Name, Target: target}
			}
			dstTag, dstNode, live := view(target)
			if !live {
				return &DanglingReferenceError{Source: id, Field: f.Name, Target: target}
			}
			if typeCheck && ruled {
				if _, permitted := rule.permitted[dstTag]; !permitted {
					return &LinkTypeViolationError{
						Source: id, Field: f.Name, Target: target,
						Actual: dstTag, Permitted: rule.ordered,
					}
				}
			}
			if opp, paired := reg.oppositeFor(tag, f.Name, dstTag); paired {
				if !referencesBack(reg, dstTag, dstNode, opp.field, id) {
					return &BidirectionalConflictError{
						Node:     target,
						Field:    opp.field,
						Existing: firstTarget(reg, dstTag, dstNode, opp.field),
						Proposed: id,
					}
				}
			}
		}
	}
	return nil
}

func referencesBack(reg *Registry, tag VariantTag, node any, field string, want NodeID) bool {
	v, _ := reg.Variant(tag)
	f, ok := v.Link(field)
	if !ok {
		return false
	}
	for _, t := range f.targets(node) {
		if t == want {
			return true
		}
	}
	return false
}

func firstTarget(reg *Registry, tag VariantTag, node any, field string) NodeID {
	v, _ := reg.Variant(tag)
	f, ok := v.Link(field)
	if !ok {
		return EmptyID
	}
	if ts := f.targets(node); len(ts) > 0 {
		return ts[0]
	}
	return EmptyID
}
