// Package mongo is the MongoDB adapter: it lowers instruction sequences
// into aggregation pipelines, executes them against a collection with a
// deterministic fallback, and streams the resulting documents back in
// bounded batches.
package mongo

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// idField is the document identifier field.
const idField = "_id"

// valueField is the reserved field the compiler materializes the current
// row value under whenever that value is not guaranteed to be a document.
// The codec unwraps it when the plan reports Wrapped.
const valueField = "value"

// indexField holds the element index during an array pivot.
const indexField = "index"

// Expr is a typed aggregation expression: the compiler's output target.
// The set is closed; the unexported render method seals it.
type Expr interface {
	render() any
}

// Lit is a literal value, rendered with $literal so the server never
// mistakes it for a field path or operator.
type Lit struct {
	Value any
}

func (l Lit) render() any {
	return bson.D{{Key: "$literal", Value: l.Value}}
}

// Field references a document field by path, e.g. FieldRef("a", "b")
// renders "$a.b".
type Field struct {
	Path []string
}

// FieldRef builds a Field from path segments.
func FieldRef(segments ...string) Field {
	return Field{Path: segments}
}

func (f Field) render() any {
	return "$" + strings.Join(f.Path, ".")
}

// Root references the whole input document ($$ROOT).
type Root struct{}

func (Root) render() any {
	return "$$ROOT"
}

// Entry is one key/value pair of a Doc.
type Entry struct {
	Key   string
	Value Expr
}

// Doc constructs a document, preserving entry order.
type Doc []Entry

func (d Doc) render() any {
	out := make(bson.D, 0, len(d))
	for _, e := range d {
		out = append(out, bson.E{Key: e.Key, Value: e.Value.render()})
	}
	return out
}

// Arr constructs an array.
type Arr []Expr

func (a Arr) render() any {
	out := make(bson.A, 0, len(a))
	for _, e := range a {
		out = append(out, e.render())
	}
	return out
}

// Call applies an aggregation operator, e.g. Call{"$objectToArray", ...}.
// A single argument is rendered bare, multiple arguments as an array.
type Call struct {
	Op   string
	Args []Expr
}

func (c Call) render() any {
	if len(c.Args) == 1 {
		return bson.D{{Key: c.Op, Value: c.Args[0].render()}}
	}
	args := make(bson.A, 0, len(c.Args))
	for _, a := range c.Args {
		args = append(args, a.render())
	}
	return bson.D{{Key: c.Op, Value: args}}
}

// Stage builders. Each returns one aggregation pipeline stage.

// stageExcludeID projects the identifier away: {$project: {_id: 0}}.
func stageExcludeID() bson.D {
	return bson.D{{Key: "$project", Value: bson.D{{Key: idField, Value: int32(0)}}}}
}

// stageValue materializes an expression under the reserved value field,
// dropping everything else: {$project: {_id: 0, value: <expr>}}.
func stageValue(e Expr) bson.D {
	return bson.D{{Key: "$project", Value: bson.D{
		{Key: idField, Value: int32(0)},
		{Key: valueField, Value: e.render()},
	}}}
}

// stageReplaceRoot rebinds the document root to an expression that is
// guaranteed to be a document.
func stageReplaceRoot(e Expr) bson.D {
	return bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: e.render()}}}}
}

// stageMatchExists keeps only documents where the field is present,
// realizing the absence-filtering rule for projections.
func stageMatchExists(field string) bson.D {
	return bson.D{{Key: "$match", Value: bson.D{
		{Key: field, Value: bson.D{{Key: "$exists", Value: true}}},
	}}}
}

// stageMatchType keeps only documents where the field has the given BSON
// type, so pivots skip structurally mismatched rows.
func stageMatchType(field, bsonType string) bson.D {
	return bson.D{{Key: "$match", Value: bson.D{
		{Key: field, Value: bson.D{{Key: "$type", Value: bsonType}}},
	}}}
}

// stageUnwind fans an array field out into one document per element. When
// includeIndex is non-empty the element index is recorded under it.
func stageUnwind(path, includeIndex string) bson.D {
	spec := bson.D{{Key: "path", Value: path}}
	if includeIndex != "" {
		spec = append(spec, bson.E{Key: "includeArrayIndex", Value: includeIndex})
	}
	return bson.D{{Key: "$unwind", Value: spec}}
}
