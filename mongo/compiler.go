package mongo

import (
	"github.com/Masterminds/semver/v3"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cryogenian/quasar-mongo/core/instr"
)

// Server versions below these lack the operators the corresponding
// construct lowers to ($project array literals and $unwind with
// includeArrayIndex arrived in 3.2, $objectToArray in 3.4.4).
var (
	minArrayLiteralVersion = semver.MustParse("3.2.0")
	minArrayPivotVersion   = semver.MustParse("3.2.0")
	minObjectPivotVersion  = semver.MustParse("3.4.4")
)

// Plan is the result of compiling an instruction sequence: the native
// pipeline prefix plus whatever could not be absorbed. Applying Pipeline to
// the source collection and then interpreting Residual client-side over each
// output row is equivalent to interpreting the full original sequence over
// the unmodified collection.
type Plan struct {
	// Pipeline is the ordered sequence of aggregation stages to execute.
	Pipeline []bson.D
	// Residual is the ordered suffix left for the caller to interpret.
	Residual instr.Residual
	// Wrapped reports whether the pipeline materializes each row value
	// under the reserved "value" field, which consumers must unwrap.
	Wrapped bool
}

// Compile lowers as long a prefix of the instruction sequence as the
// capability allows, never erroring: the identity policy compiles first as
// an implicit leading instruction, then instructions fuse left to right and
// the first unsupported one stops pushdown. Nothing after the stop point is
// inspected, because later instructions may depend on structure the skipped
// one would have produced. Compile is a pure function, safe for concurrent
// use.
func Compile(policy instr.IdPolicy, instructions []instr.Instruction, capability instr.Capability) Plan {
	if !capability.Enabled() {
		plan := Plan{Residual: instr.Residual{Policy: policy, Instructions: instructions}}
		if policy == instr.ExcludeID && len(instructions) == 0 {
			// Transfer-size optimization only: re-applying the exclusion
			// client-side is idempotent.
			plan.Pipeline = []bson.D{stageExcludeID()}
		}
		return plan
	}

	c := &compiler{capability: capability}
	if !c.compilePolicy(policy) {
		return Plan{Residual: instr.Residual{Policy: policy, Instructions: instructions}}
	}
	for k, ins := range instructions {
		if !c.fuse(ins) {
			if policy == instr.ExcludeID && k == 0 {
				// Nothing was absorbed; emitting the deferred exclusion
				// here would strip the identifier out from under a Wrap
				// in the residual, so the policy stays residual too.
				return Plan{Residual: instr.Residual{Policy: policy, Instructions: instructions}}
			}
			return Plan{
				Pipeline: c.finalize(policy),
				Wrapped:  c.wrapped,
				Residual: instr.Residual{Policy: policy, PolicyPushed: true, Instructions: instructions[k:]},
			}
		}
	}
	return Plan{
		Pipeline: c.finalize(policy),
		Wrapped:  c.wrapped,
		Residual: instr.Residual{Policy: policy, PolicyPushed: true},
	}
}

// compiler accumulates pipeline stages while tracking where the current row
// value lives: the document root, or wrapped under the reserved value field.
type compiler struct {
	capability instr.Capability
	pipeline   []bson.D
	wrapped    bool
}

func (c *compiler) emit(stages ...bson.D) {
	c.pipeline = append(c.pipeline, stages...)
}

// valueExpr references the current row value.
func (c *compiler) valueExpr() Expr {
	if c.wrapped {
		return FieldRef(valueField)
	}
	return Root{}
}

// finalize applies the deferred ExcludeID projection: when the output is
// still root-shaped, the top-level identifier is dropped. After a Wrap the
// root carries no identifier and the stage is a no-op.
func (c *compiler) finalize(policy instr.IdPolicy) []bson.D {
	if policy == instr.ExcludeID && !c.wrapped {
		c.emit(stageExcludeID())
	}
	return c.pipeline
}

// materialize ensures the current value sits under the value field, which
// pivots need so $match and $unwind can address it.
func (c *compiler) materialize() {
	if !c.wrapped {
		c.emit(stageValue(Root{}))
		c.wrapped = true
	}
}

// compilePolicy lowers the identity policy. It reports false for an unknown
// policy, which leaves the whole sequence residual.
func (c *compiler) compilePolicy(policy instr.IdPolicy) bool {
	switch policy {
	case instr.ExcludeID:
		// The exclusion is an emission-boundary projection, deferred to
		// finalize: instructions capture the full row, id included, and
		// the identifier is only dropped when the output is still the
		// root document.
		c.wrapped = false
	case instr.IDOnly:
		c.emit(stageValue(FieldRef(idField)))
		c.wrapped = true
	case instr.IncludeID:
		if !c.capability.Supports(minArrayLiteralVersion) {
			return false
		}
		c.emit(stageValue(Arr{FieldRef(idField), Root{}}))
		c.wrapped = true
	default:
		return false
	}
	return true
}

// fuse lowers one instruction into the pipeline, reporting false when the
// instruction cannot be expressed natively under the capability.
func (c *compiler) fuse(ins instr.Instruction) bool {
	switch op := ins.(type) {
	case instr.Wrap:
		c.emit(stageReplaceRoot(Doc{{Key: op.Name, Value: c.valueExpr()}}))
		c.wrapped = false
		return true
	case instr.Project:
		// Only a top-level field of the root document lowers. A dotted
		// path, or any path over a wrapped value, would let the server
		// collect across array intermediates ({a:[{b:1},{b:2}]} yields
		// [1,2] for "$a.b") where interpretation treats a non-document
		// intermediate as absence and filters the row.
		if c.wrapped || len(op.Path) != 1 || op.Path.HasWildcard() {
			return false
		}
		c.emit(stageValue(FieldRef(op.Path[0])), stageMatchExists(valueField))
		c.wrapped = true
		return true
	case instr.Pivot:
		return c.fusePivot(op)
	default:
		// Mask, Rename: residual-only.
		return false
	}
}

func (c *compiler) fusePivot(op instr.Pivot) bool {
	if !op.Policy.Valid() {
		return false
	}
	switch op.Type {
	case instr.PivotArray:
		if !c.capability.Supports(minArrayPivotVersion) {
			return false
		}
		c.materialize()
		c.emit(
			stageMatchType(valueField, "array"),
			stageUnwind("$"+valueField, indexField),
			stageValue(shapeElement(op.Policy, FieldRef(indexField), FieldRef(valueField))),
		)
		return true
	case instr.PivotObject:
		if !c.capability.Supports(minObjectPivotVersion) {
			return false
		}
		c.materialize()
		c.emit(
			stageMatchType(valueField, "object"),
			stageValue(Call{Op: "$objectToArray", Args: []Expr{FieldRef(valueField)}}),
			stageUnwind("$"+valueField, ""),
			stageValue(shapeElement(op.Policy, FieldRef(valueField, "k"), FieldRef(valueField, "v"))),
		)
		return true
	default:
		return false
	}
}

// shapeElement builds the per-element output of a pivot under its policy.
func shapeElement(policy instr.IdPolicy, key, elem Expr) Expr {
	switch policy {
	case instr.IDOnly:
		return key
	case instr.IncludeID:
		return Arr{key, elem}
	default: // ExcludeID
		return elem
	}
}
