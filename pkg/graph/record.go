// Package graph - Record, the property-bag node value.
//
// Variants declared through a data-driven surface (the HCL loader, snapshot
// tooling) have no Go struct to back them. Record is the generic node value
// for those variants: data fields live in a scalar map and link fields in
// shape-specific maps, while the accessor closures built by RecordVariant
// keep the dispatch tables identical in form to struct-backed variants.
package graph

// Record is a map-backed node value conforming to one variant's schema.
//
// Records are not thread-safe; like every node value they are owned by the
// graph and edited only through committed transactions.
type Record struct {
	data    map[string]any
	single  map[string]NodeID
	ordered map[string][]NodeID
	sets    map[string]*IDSet
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{
		data:    make(map[string]any),
		single:  make(map[string]NodeID),
		ordered: make(map[string][]NodeID),
		sets:    make(map[string]*IDSet),
	}
}

// Set assigns a data field value and returns the record for chaining.
func (rec *Record) Set(field string, value any) *Record {
	rec.data[field] = value
	return rec
}

// Get reads a data field value.
func (rec *Record) Get(field string) (any, bool) {
	v, ok := rec.data[field]
	return v, ok
}

// SetSingle binds a Single-shape link field (EmptyID clears) and returns the
// record for chaining.
func (rec *Record) SetSingle(field string, target NodeID) *Record {
	rec.single[field] = target
	return rec
}

// Append adds targets to an Ordered-shape link field and returns the record
// for chaining.
func (rec *Record) Append(field string, targets ...NodeID) *Record {
	rec.ordered[field] = append(rec.ordered[field], targets...)
	return rec
}

// AddToSet inserts targets into a Set-shape link field and returns the
// record for chaining.
func (rec *Record) AddToSet(field string, targets ...NodeID) *Record {
	s := rec.setFor(field)
	for _, t := range targets {
		s.Add(t)
	}
	return rec
}

func (rec *Record) setFor(field string) *IDSet {
	s, ok := rec.sets[field]
	if !ok {
		fresh := NewIDSet()
		s = &fresh
		rec.sets[field] = s
	}
	return s
}

// clone returns a deep copy of the record.
func (rec *Record) clone() *Record {
	c := NewRecord()
	for k, v := range rec.data {
		c.data[k] = v
	}
	for k, v := range rec.single {
		c.single[k] = v
	}
	for k, v := range rec.ordered {
		s := make([]NodeID, len(v))
		copy(s, v)
		c.ordered[k] = s
	}
	for k, v := range rec.sets {
		cs := v.Clone()
		c.sets[k] = &cs
	}
	return c
}

// RecordLinkDecl declares one link field of a record-backed variant.
type RecordLinkDecl struct {
	Name   string
	Shape  LinkShape
	Groups []string
}

// RecordDataDecl declares one data field of a record-backed variant.
type RecordDataDecl struct {
	Name    string
	Type    TypeTag
	Default any
}

// RecordVariant builds a VariantSpec whose node values are *Record, wiring
// accessor closures for every declared field. Defaults declared on data
// fields are applied by New.
func RecordVariant(tag VariantTag, groups []string, data []RecordDataDecl, links []RecordLinkDecl) VariantSpec {
	spec := VariantSpec{
		Tag:    tag,
		Groups: groups,
		New: func() any {
			rec := NewRecord()
			for _, d := range data {
				if d.Default != nil {
					rec.data[d.Name] = d.Default
				}
			}
			return rec
		},
		Clone: func(node any) any {
			return node.(*Record).clone()
		},
	}

	for _, d := range links {
		spec.Links = append(spec.Links, recordLinkField(d))
	}
	for _, d := range data {
		name := d.Name
		spec.Data = append(spec.Data, DataField{
			Name: name,
			Type: d.Type,
			get: func(node any) any {
				return node.(*Record).data[name]
			},
			set: func(node any, value any) {
				node.(*Record).data[name] = value
			},
		})
	}
	return spec
}

func recordLinkField(d RecordLinkDecl) LinkField {
	name := d.Name
	f := LinkField{Name: name, Shape: d.Shape, Groups: d.Groups}
	switch d.Shape {
	case Single:
		f.targets = func(node any) []NodeID {
			id := node.(*Record).single[name]
			if id.IsEmpty() {
				return nil
			}
			return []NodeID{id}
		}
		f.setSingle = func(node any, target NodeID) {
			node.(*Record).single[name] = target
		}
	case Ordered:
		f.targets = func(node any) []NodeID {
			s := node.(*Record).ordered[name]
			out := make([]NodeID, len(s))
			copy(out, s)
			return out
		}
		f.add = func(node any, target NodeID) {
			rec := node.(*Record)
			rec.ordered[name] = append(rec.ordered[name], target)
		}
		f.remove = func(node any, target NodeID) {
			rec := node.(*Record)
			kept := rec.ordered[name][:0]
			for _, id := range rec.ordered[name] {
				if id != target {
					kept = append(kept, id)
				}
			}
			rec.ordered[name] = kept
		}
	case Set:
		f.targets = func(node any) []NodeID {
			if s, ok := node.(*Record).sets[name]; ok {
				return s.All()
			}
			return nil
		}
		f.add = func(node any, target NodeID) {
			node.(*Record).setFor(name).Add(target)
		}
		f.remove = func(node any, target NodeID) {
			node.(*Record).setFor(name).Remove(target)
		}
	}
	return f
}
