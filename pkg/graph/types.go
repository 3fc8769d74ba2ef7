// Package graph provides the AskrDB typed graph container.
//
// A Graph stores heterogeneous nodes partitioned by declared variant. Every
// node carries private data fields plus link fields referencing other nodes
// by NodeID. All mutations are staged in a Transaction and applied atomically
// on commit, at which point structural invariants (live link targets,
// bidirectional symmetry, reservation completeness, permitted target
// variants) are enforced.
//
// Design Principles:
//   - Typed variants with declaration-time dispatch tables (no runtime reflection)
//   - Single-writer atomic commits; the graph is never observed half-applied
//   - Per-variant stores with deterministic insertion-order iteration
//   - Reservation / fill-back protocol for building cyclic structures in one transaction
//
// Example Usage:
//
//	ctx := graph.NewContext()
//	reg := graph.NewRegistry()
//	// ... register variants, bidirectional pairs, link types ...
//
//	g := graph.New(ctx, reg)
//
//	tx := graph.NewTransaction(ctx, reg)
//	w := tx.Allocate("Worker")
//	f := tx.Insert("Factory", &Factory{Workers: graph.NewIDSet(w)})
//	tx.FillBack(w, "Worker", &Worker{Factory: f})
//
//	if err := g.Commit(tx); err != nil {
//		log.Fatal(err)
//	}
package graph

import (
	"fmt"
	"sync/atomic"
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// A NodeID packs the allocating Context's session tag into the high 16 bits
// and a monotonic counter into the low 48 bits, so the whole identifier fits
// in one machine word. Two NodeIDs compare equal only when they were produced
// by the same allocation from the same Context, and an identifier minted by a
// foreign Context is detectable (see ContextMismatchError) rather than
// silently aliasing.
//
// The zero value EmptyID means "no target" and is never allocated. Only
// Single-shape link fields may legitimately hold EmptyID.
type NodeID uint64

// EmptyID is the distinguished "no target" identifier.
const EmptyID NodeID = 0

const (
	contextTagBits = 16
	counterBits    = 48
	counterMask    = (uint64(1) << counterBits) - 1
)

// IsEmpty reports whether the identifier is the empty value.
func (id NodeID) IsEmpty() bool {
	return id == EmptyID
}

// contextTag extracts the session tag of the Context that minted this id.
func (id NodeID) contextTag() uint16 {
	return uint16(uint64(id) >> counterBits)
}

// sequence extracts the per-context allocation counter.
func (id NodeID) sequence() uint64 {
	return uint64(id) & counterMask
}

// String renders the id as "n<tag>:<seq>", or "empty".
func (id NodeID) String() string {
	if id.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("n%d:%d", id.contextTag(), id.sequence())
}

// nextContextTag hands out process-unique session tags for Contexts.
var nextContextTag atomic.Uint32

// Context is the identifier-allocating authority tying a family of graphs
// and transactions together.
//
// A Context owns a monotonic counter plus a session tag. Identifiers are
// never recycled, so every NewID call returns a value distinct from all
// earlier ones and from EmptyID. A Context must outlive every Graph and
// Transaction bound to it; multiple graphs may share one Context.
//
// Allocation is safe for concurrent use (the counter bump is atomic), even
// though Graphs and Transactions themselves are single-owner objects.
//
// Example:
//
//	ctx := graph.NewContext()
//	a := ctx.NewID()
//	b := ctx.NewID()
//	fmt.Println(a == b) // false
type Context struct {
	tag     uint16
	counter atomic.Uint64
}

// NewContext creates a Context with a fresh process-unique session tag and
// the counter at zero.
func NewContext() *Context {
	tag := uint16(nextContextTag.Add(1))
	if tag == 0 {
		// Tag zero is reserved so that EmptyID never collides with a real id.
		tag = uint16(nextContextTag.Add(1))
	}
	return &Context{tag: tag}
}

// NewContextAt resurrects a Context with an explicit session tag and counter
// seed. It exists for snapshot restore, where previously persisted
// identifiers must keep validating against the graph's Context: the seed must
// be at least the highest sequence number among loaded identifiers.
//
// The caller is responsible for not running two live Contexts with the same
// tag against one graph family.
func NewContextAt(tag uint16, seed uint64) (*Context, error) {
	if tag == 0 {
		return nil, fmt.Errorf("context tag 0 is reserved: %w", ErrInvalidID)
	}
	if seed > counterMask {
		return nil, fmt.Errorf("context seed %d overflows the counter: %w", seed, ErrInvalidID)
	}
	c := &Context{tag: tag}
	c.counter.Store(seed)
	return c, nil
}

// Tag returns the Context's session tag.
func (c *Context) Tag() uint16 {
	return c.tag
}

// Sequence returns the current value of the allocation counter. Snapshot
// export records it so a restored Context can be seeded past every
// identifier it ever issued.
func (c *Context) Sequence() uint64 {
	return c.counter.Load()
}

// NewID mints a fresh identifier. Successive calls return distinct values;
// EmptyID is never returned.
func (c *Context) NewID() NodeID {
	seq := c.counter.Add(1)
	if seq > counterMask {
		panic("graph: context identifier space exhausted")
	}
	return NodeID(uint64(c.tag)<<counterBits | seq)
}

// owns reports whether id was minted by this Context.
func (c *Context) owns(id NodeID) bool {
	return id.contextTag() == c.tag
}

// IDSet is a duplicate-free, insertion-ordered collection of node
// identifiers, the backing value for Set-shape link fields.
//
// Iteration order is the order in which identifiers were first added;
// removing and re-adding an identifier moves it to the end. The zero value
// is an empty set; Add allocates its index on first use.
type IDSet struct {
	order []NodeID
	index map[NodeID]int
}

// NewIDSet builds a set holding the given identifiers, keeping first-add
// order and dropping duplicates.
func NewIDSet(ids ...NodeID) IDSet {
	s := IDSet{index: make(map[NodeID]int, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id, returning true if it was not already present. Adding
// EmptyID is a no-op: sets hold only real targets.
func (s *IDSet) Add(id NodeID) bool {
	if id.IsEmpty() {
		return false
	}
	if s.index == nil {
		s.index = make(map[NodeID]int)
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
	return true
}

// Remove deletes id, returning true if it was present. Insertion order of
// the remaining members is preserved.
func (s *IDSet) Remove(id NodeID) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.order); i++ {
		s.index[s.order[i]] = i
	}
	return true
}

// Contains reports membership.
func (s *IDSet) Contains(id NodeID) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of members.
func (s *IDSet) Len() int {
	return len(s.order)
}

// All returns the members in insertion order. The slice is a copy.
func (s *IDSet) All() []NodeID {
	out := make([]NodeID, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of the set.
func (s *IDSet) Clone() IDSet {
	c := IDSet{
		order: make([]NodeID, len(s.order)),
		index: make(map[NodeID]int, len(s.index)),
	}
	copy(c.order, s.order)
	for id, pos := range s.index {
		c.index[id] = pos
	}
	return c
}
