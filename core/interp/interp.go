// Package interp implements the reference client-side semantics of the
// instruction set: identity-policy application followed by left-to-right
// instruction evaluation over plain Go values. The surrounding query engine
// owns residual interpretation in production; this package is the executable
// definition of that contract, used to finish residual sequences over rows a
// native pipeline emitted and to validate split correctness in tests.
package interp

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cryogenian/quasar-mongo/core/instr"
)

// IDField is the document identifier field of the source rows.
const IDField = "_id"

// Interpreter evaluates instruction sequences over decoded rows. Rows are
// plain Go values: map[string]any objects, []any arrays, string, int64
// (the long kind), float64, bool and nil.
type Interpreter struct {
	logger *zap.Logger
}

// New creates an Interpreter. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{logger: logger}
}

// Rows interprets the full sequence: the identity policy over each source
// document, then every instruction in order. Output order is grouped by
// source row, in input order.
func (i *Interpreter) Rows(policy instr.IdPolicy, instructions []instr.Instruction, docs []map[string]any) ([]any, error) {
	rows := make([]any, 0, len(docs))
	for _, doc := range docs {
		value, ok, err := applyPolicy(policy, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, value)
		}
	}
	out, err := i.Apply(instructions, rows)
	if err != nil {
		return nil, err
	}
	if policy == instr.ExcludeID && rootShaped(instructions) {
		out = lo.Map(out, func(row any, _ int) any { return stripID(row) })
	}
	return out, nil
}

// Residual finishes a residual sequence over rows already shaped by the
// native pipeline. When the residual's policy was not pushed down the rows
// are raw documents and the policy is applied first.
func (i *Interpreter) Residual(res instr.Residual, rows []any) ([]any, error) {
	if res.PolicyPushed {
		return i.Apply(res.Instructions, rows)
	}
	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		doc, ok := row.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("residual policy %s needs document rows, got %T", res.Policy, row)
		}
		docs = append(docs, doc)
	}
	return i.Rows(res.Policy, res.Instructions, docs)
}

// Apply runs the instructions left to right over the current row values.
func (i *Interpreter) Apply(instructions []instr.Instruction, rows []any) ([]any, error) {
	var err error
	for _, ins := range instructions {
		rows, err = i.step(ins, rows)
		if err != nil {
			return nil, fmt.Errorf("interpreting %s: %w", ins, err)
		}
		i.logger.Debug("applied instruction", zap.Stringer("instruction", ins), zap.Int("rows", len(rows)))
	}
	return rows, nil
}

func (i *Interpreter) step(ins instr.Instruction, rows []any) ([]any, error) {
	switch op := ins.(type) {
	case instr.Wrap:
		return lo.Map(rows, func(row any, _ int) any {
			return map[string]any{op.Name: row}
		}), nil
	case instr.Project:
		var out []any
		for _, row := range rows {
			out = append(out, walkPath(row, op.Path)...)
		}
		return out, nil
	case instr.Pivot:
		var out []any
		for _, row := range rows {
			shaped, err := pivotRow(op, row)
			if err != nil {
				return nil, err
			}
			out = append(out, shaped...)
		}
		return out, nil
	case instr.Mask:
		return lo.Map(rows, func(row any, _ int) any {
			obj, ok := row.(map[string]any)
			if !ok {
				return row
			}
			masked := make(map[string]any, len(op.Fields))
			for _, f := range op.Fields {
				if v, present := obj[f]; present {
					masked[f] = v
				}
			}
			return any(masked)
		}), nil
	case instr.Rename:
		return lo.Map(rows, func(row any, _ int) any {
			obj, ok := row.(map[string]any)
			if !ok {
				return row
			}
			v, present := obj[op.From]
			if !present {
				return row
			}
			renamed := make(map[string]any, len(obj))
			for k, val := range obj {
				if k != op.From {
					renamed[k] = val
				}
			}
			renamed[op.To] = v
			return any(renamed)
		}), nil
	default:
		return nil, fmt.Errorf("unknown instruction %T", ins)
	}
}

// applyPolicy shapes one source document per the identity policy. The bool
// result is false when the document yields no row (no identifier to emit).
//
// ExcludeID captures the full row: its id exclusion is an emission-boundary
// concern, applied by Rows only when the final value is still the root
// document. This is what lets a Wrap expose the row with its identifier
// intact while a plain read emits rows without it.
func applyPolicy(policy instr.IdPolicy, doc map[string]any) (any, bool, error) {
	switch policy {
	case instr.ExcludeID:
		return doc, true, nil
	case instr.IDOnly:
		id, ok := doc[IDField]
		return id, ok, nil
	case instr.IncludeID:
		id, ok := doc[IDField]
		if !ok {
			return nil, false, nil
		}
		return []any{id, doc}, true, nil
	default:
		return nil, false, fmt.Errorf("unknown identity policy %q", policy)
	}
}

// walkPath resolves a path against a value. An undefined path yields no
// rows; a wildcard segment fans out over every field (in key order) or
// element of the value at that point.
func walkPath(value any, path instr.Path) []any {
	if len(path) == 0 {
		return []any{value}
	}
	seg, rest := path[0], path[1:]
	if seg == instr.Wildcard {
		var out []any
		switch v := value.(type) {
		case map[string]any:
			for _, k := range sortedKeys(v) {
				out = append(out, walkPath(v[k], rest)...)
			}
		case []any:
			for _, elem := range v {
				out = append(out, walkPath(elem, rest)...)
			}
		}
		return out
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	next, present := obj[seg]
	if !present {
		return nil
	}
	return walkPath(next, rest)
}

// pivotRow fans one composite value out into rows shaped by the pivot's
// element policy. Values of the wrong structural type yield no rows, which
// matches the type filter the compiled pipeline applies before unwinding.
func pivotRow(op instr.Pivot, row any) ([]any, error) {
	if !op.Policy.Valid() {
		return nil, fmt.Errorf("unknown identity policy %q", op.Policy)
	}
	switch op.Type {
	case instr.PivotArray:
		arr, ok := row.([]any)
		if !ok {
			return nil, nil
		}
		return lo.Map(arr, func(elem any, idx int) any {
			return shapeElement(op.Policy, int64(idx), elem)
		}), nil
	case instr.PivotObject:
		obj, ok := row.(map[string]any)
		if !ok {
			return nil, nil
		}
		keys := sortedKeys(obj)
		return lo.Map(keys, func(k string, _ int) any {
			return shapeElement(op.Policy, k, obj[k])
		}), nil
	default:
		return nil, fmt.Errorf("unknown pivot type %q", op.Type)
	}
}

func shapeElement(policy instr.IdPolicy, key any, elem any) any {
	switch policy {
	case instr.IDOnly:
		return key
	case instr.IncludeID:
		return []any{key, elem}
	default: // ExcludeID
		return elem
	}
}

// rootShaped reports whether the final value of the sequence is still the
// (re-)rooted document rather than a projected or pivoted value. Wrap roots
// the value again; Mask and Rename keep the current shape.
func rootShaped(instructions []instr.Instruction) bool {
	root := true
	for _, ins := range instructions {
		switch ins.(type) {
		case instr.Wrap:
			root = true
		case instr.Project, instr.Pivot:
			root = false
		}
	}
	return root
}

func stripID(row any) any {
	obj, ok := row.(map[string]any)
	if !ok {
		return row
	}
	if _, present := obj[IDField]; !present {
		return row
	}
	stripped := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != IDField {
			stripped[k] = v
		}
	}
	return stripped
}

func sortedKeys(obj map[string]any) []string {
	keys := lo.Keys(obj)
	sort.Strings(keys)
	return keys
}
