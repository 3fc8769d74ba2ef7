// Package graph - commit-time error taxonomy.
//
// Every structural violation detected during commit carries its diagnostic
// context (offending identifiers, field name, variants) in a typed error
// struct. The structs match their sentinel via errors.Is, so callers can
// branch on the category without losing the details:
//
//	if err := g.Commit(tx); errors.Is(err, graph.ErrDanglingReference) {
//		var dangling *graph.DanglingReferenceError
//		errors.As(err, &dangling)
//		fmt.Println(dangling.Source, dangling.Field, dangling.Target)
//	}
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Commit failures wrap one of the structural sentinels;
// the remainder flag API misuse detected while staging.
var (
	ErrNotFound              = errors.New("node not found")
	ErrInvalidID             = errors.New("invalid identifier")
	ErrUnknownVariant        = errors.New("unknown variant")
	ErrUnknownField          = errors.New("unknown field")
	ErrTransactionDone       = errors.New("transaction already committed or dropped")
	ErrUnfilledReservation   = errors.New("reservation without fill-back")
	ErrVariantMismatch       = errors.New("fill-back variant differs from reservation")
	ErrRemovingAbsent        = errors.New("removing a node that is not live")
	ErrDanglingReference     = errors.New("link references a non-live node")
	ErrBidirectionalConflict = errors.New("bidirectional field already bound to a different node")
	ErrLinkTypeViolation     = errors.New("link target variant not permitted")
	ErrContextMismatch       = errors.New("identifier minted by a foreign context")
)

// UnfilledReservationError reports an Allocate with no matching FillBack.
type UnfilledReservationError struct {
	ID      NodeID
	Variant VariantTag
}

func (e *UnfilledReservationError) Error() string {
	return fmt.Sprintf("reservation %s (%s) was never filled back", e.ID, e.Variant)
}

func (e *UnfilledReservationError) Unwrap() error { return ErrUnfilledReservation }

// VariantMismatchError reports a FillBack whose variant differs from the one
// declared at reservation time.
type VariantMismatchError struct {
	ID       NodeID
	Reserved VariantTag
	Filled   VariantTag
}

func (e *VariantMismatchError) Error() string {
	return fmt.Sprintf("fill-back of %s as %s, but it was reserved as %s", e.ID, e.Filled, e.Reserved)
}

func (e *VariantMismatchError) Unwrap() error { return ErrVariantMismatch }

// RemovingAbsentError reports a Remove targeting an id that is neither live
// in the graph nor staged in the same transaction.
type RemovingAbsentError struct {
	ID NodeID
}

func (e *RemovingAbsentError) Error() string {
	return fmt.Sprintf("removal of %s, which is not live", e.ID)
}

func (e *RemovingAbsentError) Unwrap() error { return ErrRemovingAbsent }

// DanglingReferenceError reports a non-empty link target that refers to no
// live node after all staged operations apply.
type DanglingReferenceError struct {
	Source NodeID
	Field  string
	Target NodeID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s.%s references %s, which is not live", e.Source, e.Field, e.Target)
}

func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// BidirectionalConflictError reports a Single-shape opposite field that was
// already bound to a different node when symmetric reconciliation tried to
// point it at Proposed.
type BidirectionalConflictError struct {
	Node     NodeID
	Field    string
	Existing NodeID
	Proposed NodeID
}

func (e *BidirectionalConflictError) Error() string {
	return fmt.Sprintf("%s.%s already references %s, cannot also reference %s",
		e.Node, e.Field, e.Existing, e.Proposed)
}

func (e *BidirectionalConflictError) Unwrap() error { return ErrBidirectionalConflict }

// LinkTypeViolationError reports a link target whose variant is outside the
// declared permitted set for the source field.
type LinkTypeViolationError struct {
	Source    NodeID
	Field     string
	Target    NodeID
	Actual    VariantTag
	Permitted []VariantTag
}

func (e *LinkTypeViolationError) Error() string {
	names := make([]string, len(e.Permitted))
	for i, v := range e.Permitted {
		names[i] = string(v)
	}
	return fmt.Sprintf("%s.%s references %s of variant %s, permitted: {%s}",
		e.Source, e.Field, e.Target, e.Actual, strings.Join(names, ", "))
}

func (e *LinkTypeViolationError) Unwrap() error { return ErrLinkTypeViolation }

// ContextMismatchError reports an identifier minted by a Context other than
// the one the graph is bound to.
type ContextMismatchError struct {
	ID NodeID
}

func (e *ContextMismatchError) Error() string {
	return fmt.Sprintf("%s belongs to a foreign context", e.ID)
}

func (e *ContextMismatchError) Unwrap() error { return ErrContextMismatch }
