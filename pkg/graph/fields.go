// Package graph - typed field constructors for variant declarations.
//
// These helpers are the hand-written equivalent of a schema macro: each one
// wraps a pair of typed accessor closures into the type-erased dispatch
// entry the Registry stores. A variant declaration reads like a schema:
//
//	reg.Register(graph.VariantSpec{
//		Tag:   "Factory",
//		New:   func() any { return &Factory{Workers: graph.NewIDSet()} },
//		Clone: cloneFactory,
//		Links: []graph.LinkField{
//			graph.SetLink("workers", graph.LinkGroups("staff"),
//				func(f *Factory) *graph.IDSet { return &f.Workers }),
//			graph.SingleLink("owner", nil,
//				func(f *Factory) graph.NodeID { return f.Owner },
//				func(f *Factory, id graph.NodeID) { f.Owner = id }),
//		},
//		Data: []graph.DataField{
//			graph.StringField("name",
//				func(f *Factory) string { return f.Name },
//				func(f *Factory, v string) { f.Name = v }),
//		},
//	})
package graph

// LinkGroups tags a link field with the named link groups.
func LinkGroups(groups ...string) []string {
	return groups
}

// SingleLink declares a Single-shape link field over a typed get/set pair.
func SingleLink[N any](name string, groups []string, get func(N) NodeID, set func(N, NodeID)) LinkField {
	return LinkField{
		Name:   name,
		Shape:  Single,
		Groups: groups,
		targets: func(node any) []NodeID {
			id := get(node.(N))
			if id.IsEmpty() {
				return nil
			}
			return []NodeID{id}
		},
		setSingle: func(node any, target NodeID) {
			set(node.(N), target)
		},
	}
}

// OrderedLink declares an Ordered-sequence link field over a typed slice
// accessor. The slice pointer is edited in place for add/remove.
func OrderedLink[N any](name string, groups []string, slice func(N) *[]NodeID) LinkField {
	return LinkField{
		Name:   name,
		Shape:  Ordered,
		Groups: groups,
		targets: func(node any) []NodeID {
			s := *slice(node.(N))
			out := make([]NodeID, len(s))
			copy(out, s)
			return out
		},
		add: func(node any, target NodeID) {
			p := slice(node.(N))
			*p = append(*p, target)
		},
		remove: func(node any, target NodeID) {
			p := slice(node.(N))
			kept := (*p)[:0]
			for _, id := range *p {
				if id != target {
					kept = append(kept, id)
				}
			}
			*p = kept
		},
	}
}

// SetLink declares a Set-shape link field over a typed IDSet accessor.
func SetLink[N any](name string, groups []string, set func(N) *IDSet) LinkField {
	return LinkField{
		Name:   name,
		Shape:  Set,
		Groups: groups,
		targets: func(node any) []NodeID {
			return set(node.(N)).All()
		},
		add: func(node any, target NodeID) {
			set(node.(N)).Add(target)
		},
		remove: func(node any, target NodeID) {
			set(node.(N)).Remove(target)
		},
	}
}

// StringField declares a STRING data field.
func StringField[N any](name string, get func(N) string, set func(N, string)) DataField {
	return dataField[N, string](name, TypeString, get, set)
}

// IntField declares an INTEGER data field.
func IntField[N any](name string, get func(N) int64, set func(N, int64)) DataField {
	return dataField[N, int64](name, TypeInt, get, set)
}

// FloatField declares a FLOAT data field.
func FloatField[N any](name string, get func(N) float64, set func(N, float64)) DataField {
	return dataField[N, float64](name, TypeFloat, get, set)
}

// BoolField declares a BOOLEAN data field.
func BoolField[N any](name string, get func(N) bool, set func(N, bool)) DataField {
	return dataField[N, bool](name, TypeBool, get, set)
}

func dataField[N any, T any](name string, tag TypeTag, get func(N) T, set func(N, T)) DataField {
	f := DataField{
		Name: name,
		Type: tag,
		get: func(node any) any {
			return get(node.(N))
		},
	}
	if set != nil {
		f.set = func(node any, value any) {
			set(node.(N), value.(T))
		}
	}
	return f
}
