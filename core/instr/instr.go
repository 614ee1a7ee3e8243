// Package instr defines the instruction set a query engine hands to the
// connector: a small, closed family of shape-transform operations applied
// left to right over each source row, parameterized by an identity-inclusion
// policy that fixes how the row's id field is exposed. The MongoDB adapter
// lowers a prefix of an instruction sequence into an aggregation pipeline
// and reports the rest as residual for client-side interpretation.
package instr

import (
	"fmt"
	"strings"
)

// IdPolicy controls how a row's identifier is exposed in the output.
// Exactly one policy is active per evaluation, applied once before any
// explicit instruction runs. The same type parameterizes pivots, where it
// governs the element's key/index instead of the row id.
type IdPolicy string

const (
	// ExcludeID drops the identifier and emits the row as-is.
	ExcludeID IdPolicy = "excludeId"
	// IDOnly emits only the identifier.
	IDOnly IdPolicy = "idOnly"
	// IncludeID emits a two-element pair of identifier and full row.
	IncludeID IdPolicy = "includeId"
)

// Valid reports whether the policy is one of the three known values.
func (p IdPolicy) Valid() bool {
	switch p {
	case ExcludeID, IDOnly, IncludeID:
		return true
	}
	return false
}

// PivotType selects which structural type a Pivot fans out.
type PivotType string

const (
	PivotArray  PivotType = "array"
	PivotObject PivotType = "object"
)

// Instruction is a single shape-transform operation. The set is closed:
// the unexported marker method seals it so the compiler and interpreter can
// switch over every case exhaustively.
type Instruction interface {
	isInstruction()
	String() string
}

// Wrap replaces the current value with a single-field object mapping Name
// to the current value.
type Wrap struct {
	Name string
}

// Project replaces the current value with the value reachable at Path.
// An undefined path produces an absence that is filtered out, never a null.
type Project struct {
	Path Path
}

// Pivot fans a composite value out into one output row per element or
// entry. Policy shapes each emitted row over the element's key/index and
// value, analogous to the top-level identity policy over id and row.
//
// Object pivot entry order depends on where the pivot runs: pushed down it
// follows the document's stored field order, interpreted client-side it is
// sorted key order. Array pivots are ordered by element index either way.
type Pivot struct {
	Policy IdPolicy
	Type   PivotType
}

// Mask keeps only the listed fields of an object value. It is never pushed
// down; it exists so residual sequences produced by the full engine remain
// representable and interpretable.
type Mask struct {
	Fields []string
}

// Rename moves an object field From to To. Residual-only, like Mask.
type Rename struct {
	From string
	To   string
}

func (Wrap) isInstruction()    {}
func (Project) isInstruction() {}
func (Pivot) isInstruction()   {}
func (Mask) isInstruction()    {}
func (Rename) isInstruction()  {}

func (w Wrap) String() string    { return fmt.Sprintf("wrap(%s)", w.Name) }
func (p Project) String() string { return fmt.Sprintf("project(%s)", p.Path) }
func (p Pivot) String() string   { return fmt.Sprintf("pivot(%s, %s)", p.Policy, p.Type) }
func (m Mask) String() string    { return fmt.Sprintf("mask(%s)", strings.Join(m.Fields, ", ")) }
func (r Rename) String() string  { return fmt.Sprintf("rename(%s, %s)", r.From, r.To) }

// Wildcard is the path segment that matches every field or element.
const Wildcard = "*"

// Path is a parsed field path. Segments are field names; a Wildcard segment
// matches all fields/elements and blocks pushdown.
type Path []string

// ParsePath parses a dot-separated field path such as ".arr" or ".a.b".
// A leading dot is accepted and ignored. Empty segments are rejected.
func ParsePath(s string) (Path, error) {
	trimmed := strings.TrimPrefix(s, ".")
	if trimmed == "" {
		return nil, fmt.Errorf("field path %q has no segments", s)
	}
	segments := strings.Split(trimmed, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("field path %q contains an empty segment", s)
		}
	}
	return Path(segments), nil
}

// MustParsePath is ParsePath for statically known paths; it panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// HasWildcard reports whether any segment is a wildcard.
func (p Path) HasWildcard() bool {
	for _, seg := range p {
		if seg == Wildcard {
			return true
		}
	}
	return false
}

func (p Path) String() string {
	return "." + strings.Join(p, ".")
}

// Residual is the ordered tail of work the native pipeline did not absorb.
// Interpreting it over the rows the pipeline emits must be equivalent to
// interpreting the full original sequence over the untransformed rows.
type Residual struct {
	// Policy is the identity policy of the original evaluation. It is only
	// consulted when PolicyPushed is false.
	Policy IdPolicy
	// PolicyPushed records whether the identity policy was already applied
	// natively, so rows arrive as shaped values rather than raw documents.
	PolicyPushed bool
	// Instructions is the ordered suffix left for client-side evaluation.
	Instructions []Instruction
}

// Empty reports whether full pushdown succeeded and nothing is left to
// interpret client-side.
func (r Residual) Empty() bool {
	return r.PolicyPushed && len(r.Instructions) == 0
}
