// Package graph - variant metadata registry and dispatch tables.
//
// The Registry is the runtime form of a graph type declaration: one
// VariantSpec per declared node kind, carrying the ordered data-field and
// link-field lists together with their accessor closures. All reflection
// over heterogeneous nodes (reading a link field by name, enumerating a
// link group, validating a target variant) is a table lookup plus a call —
// never language-level runtime introspection.
//
// A declaration surface (hand-written registration code, or the HCL loader
// in pkg/schemafile) populates the registry once, before any Graph
// or Transaction is constructed; afterwards the registry is read-only.
package graph

import (
	"fmt"
	"strings"
)

// VariantTag names one declared kind of node.
type VariantTag string

// LinkShape describes how a link field stores its targets.
type LinkShape int

const (
	// Single holds zero or one target; EmptyID means absent.
	Single LinkShape = iota
	// Ordered holds a sequence of targets; duplicates permitted, insertion
	// order preserved.
	Ordered
	// Set holds distinct targets with insertion-preserving iteration order.
	Set
)

// String returns the declaration-surface spelling of the shape.
func (s LinkShape) String() string {
	switch s {
	case Single:
		return "single"
	case Ordered:
		return "ordered"
	case Set:
		return "set"
	}
	return fmt.Sprintf("LinkShape(%d)", int(s))
}

// TypeTag is the static type tag of a data field.
type TypeTag string

const (
	TypeString TypeTag = "STRING"
	TypeInt    TypeTag = "INTEGER"
	TypeFloat  TypeTag = "FLOAT"
	TypeBool   TypeTag = "BOOLEAN"
)

// LinkField is the declaration of one link field: its name, shape, group
// memberships, and the accessor closures the dispatch tables call. The
// closures receive the node value registered for the owning variant.
type LinkField struct {
	Name   string
	Shape  LinkShape
	Groups []string

	// targets returns the current referenced ids in iteration order.
	// Single-shape fields yield nil when empty.
	targets func(node any) []NodeID

	// setSingle rebinds a Single field (EmptyID clears). Nil for other shapes.
	setSingle func(node any, target NodeID)

	// add appends (Ordered) or inserts (Set, idempotent). Nil for Single.
	add func(node any, target NodeID)

	// remove deletes every occurrence (Ordered) or the member (Set).
	// Nil for Single.
	remove func(node any, target NodeID)
}

// InGroup reports whether the field is tagged with the named link group.
func (f *LinkField) InGroup(group string) bool {
	for _, g := range f.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// DataField is the declaration of one scalar data field.
type DataField struct {
	Name string
	Type TypeTag

	get func(node any) any
	set func(node any, value any)
}

// VariantSpec declares one node variant: its tag, group memberships, field
// lists, and the value lifecycle hooks the commit pipeline relies on.
//
// Node values must be pointer-shaped (a pointer to a variant struct, or a
// *Record): the bidirectional maintainer and the link-update operations edit
// them through the registered closures.
type VariantSpec struct {
	Tag    VariantTag
	Groups []string

	// New returns a fresh zero value for the variant. Snapshot restore and
	// the Record-backed declaration surface use it.
	New func() any

	// Clone returns a deep copy of a node value. The commit pipeline mutates
	// clones so that a failed commit leaves the graph untouched.
	Clone func(node any) any

	Links []LinkField
	Data  []DataField

	linkByName map[string]*LinkField
	dataByName map[string]*DataField
}

// Link returns the named link field declaration.
func (v *VariantSpec) Link(name string) (*LinkField, bool) {
	f, ok := v.linkByName[name]
	return f, ok
}

// DataFieldByName returns the named data field declaration.
func (v *VariantSpec) DataFieldByName(name string) (*DataField, bool) {
	f, ok := v.dataByName[name]
	return f, ok
}

// InGroup reports whether the variant is tagged with the named variant group.
func (v *VariantSpec) InGroup(group string) bool {
	for _, g := range v.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// bidiPair is one declared symmetric link pair, after group expansion.
// Declaration order is significant: when two pairs could explain the same
// edge, the earlier one wins.
type bidiPair struct {
	aVariant VariantTag
	aField   string
	bVariant VariantTag
	bField   string
}

// linkTypeRule is one declared permitted-target constraint, after group
// expansion.
type linkTypeRule struct {
	variant   VariantTag
	field     string
	permitted map[VariantTag]struct{}
	ordered   []VariantTag // declaration order, for diagnostics
}

// Registry holds every variant declaration for one graph type, plus the
// bidirectional pair list and the link-type constraint list.
//
// Populate it fully before constructing graphs; Registry methods used by
// the commit pipeline assume no further registration happens.
type Registry struct {
	variants map[VariantTag]*VariantSpec
	order    []VariantTag

	pairs []bidiPair
	// pairIndex maps (variant, field) to the pairs mentioning that side, in
	// declaration order.
	pairIndex map[fieldKey][]pairRef

	linkTypes map[fieldKey]*linkTypeRule
}

type fieldKey struct {
	variant VariantTag
	field   string
}

// pairRef is one side of a bidiPair: the opposite variant and field this
// side reconciles against.
type pairRef struct {
	opposite fieldKey
	declared int // index into Registry.pairs, for earlier-wins ordering
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variants:  make(map[VariantTag]*VariantSpec),
		pairIndex: make(map[fieldKey][]pairRef),
		linkTypes: make(map[fieldKey]*linkTypeRule),
	}
}

// Register adds a variant declaration. The spec must carry a tag, New and
// Clone hooks, and distinct field names; registering the same tag twice is
// an error.
func (r *Registry) Register(spec VariantSpec) error {
	if spec.Tag == "" {
		return fmt.Errorf("variant tag must not be empty: %w", ErrUnknownVariant)
	}
	if _, exists := r.variants[spec.Tag]; exists {
		return fmt.Errorf("variant %s declared twice", spec.Tag)
	}
	if spec.New == nil || spec.Clone == nil {
		return fmt.Errorf("variant %s must declare New and Clone hooks", spec.Tag)
	}

	spec.linkByName = make(map[string]*LinkField, len(spec.Links))
	spec.dataByName = make(map[string]*DataField, len(spec.Data))
	for i := range spec.Links {
		f := &spec.Links[i]
		if _, dup := spec.linkByName[f.Name]; dup {
			return fmt.Errorf("variant %s declares link field %s twice", spec.Tag, f.Name)
		}
		spec.linkByName[f.Name] = f
	}
	for i := range spec.Data {
		f := &spec.Data[i]
		if _, dup := spec.dataByName[f.Name]; dup {
			return fmt.Errorf("variant %s declares data field %s twice", spec.Tag, f.Name)
		}
		if _, clash := spec.linkByName[f.Name]; clash {
			return fmt.Errorf("variant %s declares %s as both data and link field", spec.Tag, f.Name)
		}
		spec.dataByName[f.Name] = f
	}

	stored := spec
	r.variants[spec.Tag] = &stored
	r.order = append(r.order, spec.Tag)
	return nil
}

// Variant returns the declaration for a tag.
func (r *Registry) Variant(tag VariantTag) (*VariantSpec, bool) {
	v, ok := r.variants[tag]
	return v, ok
}

// Variants returns every declared tag in registration order.
func (r *Registry) Variants() []VariantTag {
	out := make([]VariantTag, len(r.order))
	copy(out, r.order)
	return out
}

// VariantsInGroup returns the tags of every variant in the named group, in
// registration order.
func (r *Registry) VariantsInGroup(group string) []VariantTag {
	var out []VariantTag
	for _, tag := range r.order {
		if r.variants[tag].InGroup(group) {
			out = append(out, tag)
		}
	}
	return out
}

// expandVariantSelector resolves a variant selector: either a bare tag or
// "group:<name>", which expands to every member variant.
func (r *Registry) expandVariantSelector(sel string) ([]VariantTag, error) {
	if name, ok := strings.CutPrefix(sel, "group:"); ok {
		tags := r.VariantsInGroup(name)
		if len(tags) == 0 {
			return nil, fmt.Errorf("variant group %q has no members", name)
		}
		return tags, nil
	}
	tag := VariantTag(sel)
	if _, ok := r.variants[tag]; !ok {
		return nil, fmt.Errorf("variant %s: %w", tag, ErrUnknownVariant)
	}
	return []VariantTag{tag}, nil
}

// expandFieldSelector resolves a link-field selector within one variant:
// either a bare field name or "group:<name>", which expands to every link
// field of the variant tagged with that group.
func (r *Registry) expandFieldSelector(tag VariantTag, sel string) ([]*LinkField, error) {
	v := r.variants[tag]
	if name, ok := strings.CutPrefix(sel, "group:"); ok {
		var out []*LinkField
		for i := range v.Links {
			if v.Links[i].InGroup(name) {
				out = append(out, &v.Links[i])
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("variant %s has no link fields in group %q", tag, name)
		}
		return out, nil
	}
	f, ok := v.Link(sel)
	if !ok {
		return nil, fmt.Errorf("variant %s field %s: %w", tag, sel, ErrUnknownField)
	}
	return []*LinkField{f}, nil
}

// Bidirectional declares a symmetric pair between two link fields. Both
// selectors take the form "<Variant>.<field>", where either component may be
// group-prefixed ("group:machines.group:peers"); group forms expand to the
// cross product at declaration time.
//
// Both sides must be Single or Set shape — an Ordered sequence cannot keep
// symmetric order, so declaring one is an error. When two declared pairs
// could explain the same edge, the pair declared earlier wins.
func (r *Registry) Bidirectional(a, b string) error {
	aSides, err := r.expandPairSide(a)
	if err != nil {
		return err
	}
	bSides, err := r.expandPairSide(b)
	if err != nil {
		return err
	}

	for _, as := range aSides {
		for _, bs := range bSides {
			if err := r.addPair(as, bs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) expandPairSide(sel string) ([]fieldKey, error) {
	varSel, fieldSel, ok := strings.Cut(sel, ".")
	if !ok {
		return nil, fmt.Errorf("pair side %q is not <variant>.<field>", sel)
	}
	tags, err := r.expandVariantSelector(varSel)
	if err != nil {
		return nil, err
	}
	var out []fieldKey
	for _, tag := range tags {
		fields, err := r.expandFieldSelector(tag, fieldSel)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			out = append(out, fieldKey{variant: tag, field: f.Name})
		}
	}
	return out, nil
}

func (r *Registry) addPair(a, b fieldKey) error {
	for _, side := range []fieldKey{a, b} {
		f, _ := r.variants[side.variant].Link(side.field)
		if f.Shape == Ordered {
			return fmt.Errorf("bidirectional side %s.%s has ordered shape; only single and set are permitted",
				side.variant, side.field)
		}
	}

	idx := len(r.pairs)
	r.pairs = append(r.pairs, bidiPair{
		aVariant: a.variant, aField: a.field,
		bVariant: b.variant, bField: b.field,
	})
	r.pairIndex[a] = append(r.pairIndex[a], pairRef{opposite: b, declared: idx})
	if a != b {
		r.pairIndex[b] = append(r.pairIndex[b], pairRef{opposite: a, declared: idx})
	}
	return nil
}

// pairsFor returns the declared opposites of (variant, field) in declaration
// order. An empty result means the field is not part of any pair.
func (r *Registry) pairsFor(variant VariantTag, field string) []pairRef {
	return r.pairIndex[fieldKey{variant: variant, field: field}]
}

// oppositeFor picks the pair that explains an edge from (variant, field) to
// a target of dstVariant: the earliest declared opposite whose variant
// matches. Later pairs that would re-derive the same edit are suppressed.
func (r *Registry) oppositeFor(variant VariantTag, field string, dstVariant VariantTag) (fieldKey, bool) {
	for _, ref := range r.pairsFor(variant, field) {
		if ref.opposite.variant == dstVariant {
			return ref.opposite, true
		}
	}
	return fieldKey{}, false
}

// LinkType declares the permitted target variants of a link field. The field
// selector is "<Variant>.<field>" with optional group prefixes on either
// component; target selectors are variant tags or "group:<name>". Group
// forms expand to the cross product at declaration time.
func (r *Registry) LinkType(field string, targets ...string) error {
	sides, err := r.expandPairSide(field)
	if err != nil {
		return err
	}
	var permitted []VariantTag
	for _, sel := range targets {
		tags, err := r.expandVariantSelector(sel)
		if err != nil {
			return err
		}
		permitted = append(permitted, tags...)
	}
	if len(permitted) == 0 {
		return fmt.Errorf("link_type for %q permits no variants", field)
	}

	for _, side := range sides {
		rule, ok := r.linkTypes[side]
		if !ok {
			rule = &linkTypeRule{
				variant:   side.variant,
				field:     side.field,
				permitted: make(map[VariantTag]struct{}),
			}
			r.linkTypes[side] = rule
		}
		for _, tag := range permitted {
			if _, dup := rule.permitted[tag]; !dup {
				rule.permitted[tag] = struct{}{}
				rule.ordered = append(rule.ordered, tag)
			}
		}
	}
	return nil
}

// linkTypeFor returns the permitted-target rule of (variant, field), if any.
func (r *Registry) linkTypeFor(variant VariantTag, field string) (*linkTypeRule, bool) {
	rule, ok := r.linkTypes[fieldKey{variant: variant, field: field}]
	return rule, ok
}
