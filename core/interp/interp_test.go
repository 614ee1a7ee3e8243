package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryogenian/quasar-mongo/core/instr"
)

func sampleDocs() []map[string]any {
	return []map[string]any{
		{"_id": "0", "foo": "foo"},
		{"_id": "1", "foo": "bar"},
	}
}

func TestIdentityPolicies(t *testing.T) {
	i := New(nil)

	t.Run("excludeId drops the identifier", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, nil, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{
			map[string]any{"foo": "foo"},
			map[string]any{"foo": "bar"},
		}, out)
	})

	t.Run("idOnly keeps only the identifier", func(t *testing.T) {
		out, err := i.Rows(instr.IDOnly, nil, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{"0", "1"}, out)
	})

	t.Run("includeId pairs identifier and row", func(t *testing.T) {
		out, err := i.Rows(instr.IncludeID, nil, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{"0", map[string]any{"_id": "0", "foo": "foo"}},
			[]any{"1", map[string]any{"_id": "1", "foo": "bar"}},
		}, out)
	})

	t.Run("idOnly skips documents without an identifier", func(t *testing.T) {
		out, err := i.Rows(instr.IDOnly, nil, []map[string]any{{"foo": "foo"}})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("unknown policy errors", func(t *testing.T) {
		_, err := i.Rows(instr.IdPolicy("sometimes"), nil, sampleDocs())
		assert.Error(t, err)
	})
}

func TestWrap(t *testing.T) {
	i := New(nil)

	t.Run("excludeId keeps the identifier inside the wrap", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{instr.Wrap{Name: "w"}}, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{
			map[string]any{"w": map[string]any{"_id": "0", "foo": "foo"}},
			map[string]any{"w": map[string]any{"_id": "1", "foo": "bar"}},
		}, out)
	})

	t.Run("includeId wraps the pair", func(t *testing.T) {
		out, err := i.Rows(instr.IncludeID, []instr.Instruction{instr.Wrap{Name: "w"}}, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{
			map[string]any{"w": []any{"0", map[string]any{"_id": "0", "foo": "foo"}}},
			map[string]any{"w": []any{"1", map[string]any{"_id": "1", "foo": "bar"}}},
		}, out)
	})
}

func TestProject(t *testing.T) {
	i := New(nil)

	t.Run("projects the field value", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".foo")},
		}, sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, []any{"foo", "bar"}, out)
	})

	t.Run("absent path filters the row out", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".missing")},
		}, sampleDocs())
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("null is a value, absence is not", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": nil},
			{"_id": "1"},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".a")},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{nil}, out)
	})

	t.Run("array intermediate is absence", func(t *testing.T) {
		// A dotted path does not collect across arrays the way a native
		// "$a.b" reference would: a non-document intermediate yields no
		// rows.
		docs := []map[string]any{
			{"_id": "0", "a": []any{map[string]any{"b": int64(1)}, map[string]any{"b": int64(2)}}},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".a.b")},
		}, docs)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("nested path", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": map[string]any{"b": int64(7)}},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".a.b")},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7)}, out)
	})

	t.Run("wildcard fans out over fields in key order", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": map[string]any{"y": int64(2), "x": int64(1)}},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".a.*")},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(2)}, out)
	})

	t.Run("wildcard fans out over array elements", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": []any{"p", "q"}},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".a.*")},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{"p", "q"}, out)
	})
}

func TestPivot(t *testing.T) {
	i := New(nil)
	docs := []map[string]any{
		{"_id": "0", "arr": []any{"a", "b", "c"}},
		{"_id": "1", "arr": []any{"d"}},
	}
	project := instr.Project{Path: instr.MustParsePath(".arr")}

	t.Run("array pivot emits one row per element", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			project,
			instr.Pivot{Policy: instr.ExcludeID, Type: instr.PivotArray},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b", "c", "d"}, out)
	})

	t.Run("array pivot indices restart per source row", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			project,
			instr.Pivot{Policy: instr.IncludeID, Type: instr.PivotArray},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{int64(0), "a"},
			[]any{int64(1), "b"},
			[]any{int64(2), "c"},
			[]any{int64(0), "d"},
		}, out)
	})

	t.Run("array pivot idOnly emits indices", func(t *testing.T) {
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			project,
			instr.Pivot{Policy: instr.IDOnly, Type: instr.PivotArray},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(0)}, out)
	})

	t.Run("object pivot emits entries in key order", func(t *testing.T) {
		objDocs := []map[string]any{
			{"_id": "0", "obj": map[string]any{"b": int64(2), "a": int64(1)}},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Project{Path: instr.MustParsePath(".obj")},
			instr.Pivot{Policy: instr.IncludeID, Type: instr.PivotObject},
		}, objDocs)
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{"a", int64(1)},
			[]any{"b", int64(2)},
		}, out)
	})

	t.Run("wrong structural type yields no rows", func(t *testing.T) {
		mixed := []map[string]any{
			{"_id": "0", "arr": []any{"a"}},
			{"_id": "1", "arr": "not an array"},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			project,
			instr.Pivot{Policy: instr.ExcludeID, Type: instr.PivotArray},
		}, mixed)
		require.NoError(t, err)
		assert.Equal(t, []any{"a"}, out)
	})

	t.Run("unknown pivot policy errors", func(t *testing.T) {
		_, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			project,
			instr.Pivot{Policy: instr.IdPolicy("bogus"), Type: instr.PivotArray},
		}, docs)
		assert.Error(t, err)
	})
}

func TestMaskAndRename(t *testing.T) {
	i := New(nil)

	t.Run("mask keeps only listed fields", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": int64(1), "b": int64(2), "c": int64(3)},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Mask{Fields: []string{"a", "c", "missing"}},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{map[string]any{"a": int64(1), "c": int64(3)}}, out)
	})

	t.Run("mask passes non-objects through", func(t *testing.T) {
		out, err := i.Apply([]instr.Instruction{instr.Mask{Fields: []string{"a"}}}, []any{"scalar"})
		require.NoError(t, err)
		assert.Equal(t, []any{"scalar"}, out)
	})

	t.Run("rename moves a field", func(t *testing.T) {
		docs := []map[string]any{
			{"_id": "0", "a": int64(1)},
		}
		out, err := i.Rows(instr.ExcludeID, []instr.Instruction{
			instr.Rename{From: "a", To: "b"},
		}, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{map[string]any{"b": int64(1)}}, out)
	})

	t.Run("rename of an absent field is a no-op", func(t *testing.T) {
		out, err := i.Apply([]instr.Instruction{instr.Rename{From: "x", To: "y"}}, []any{
			map[string]any{"a": int64(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{map[string]any{"a": int64(1)}}, out)
	})
}

func TestResidual(t *testing.T) {
	i := New(nil)

	t.Run("pushed policy interprets shaped rows", func(t *testing.T) {
		res := instr.Residual{
			Policy:       instr.ExcludeID,
			PolicyPushed: true,
			Instructions: []instr.Instruction{instr.Wrap{Name: "w"}},
		}
		out, err := i.Residual(res, []any{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []any{
			map[string]any{"w": "a"},
			map[string]any{"w": "b"},
		}, out)
	})

	t.Run("unpushed policy applies the policy first", func(t *testing.T) {
		res := instr.Residual{Policy: instr.IDOnly}
		out, err := i.Residual(res, []any{
			map[string]any{"_id": "0", "foo": "foo"},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"0"}, out)
	})

	t.Run("unpushed policy rejects non-document rows", func(t *testing.T) {
		res := instr.Residual{Policy: instr.ExcludeID}
		_, err := i.Residual(res, []any{"scalar"})
		assert.Error(t, err)
	})
}

// Full interpretation of a sequence must agree with interpreting a residual
// suffix over rows the prefix produced, policy already applied.
func TestSplitEquivalence(t *testing.T) {
	i := New(nil)
	docs := []map[string]any{
		{"_id": "0", "arr": []any{"a", "b"}},
		{"_id": "1", "arr": []any{"c"}},
	}
	sequence := []instr.Instruction{
		instr.Project{Path: instr.MustParsePath(".arr")},
		instr.Pivot{Policy: instr.IncludeID, Type: instr.PivotArray},
		instr.Wrap{Name: "w"},
	}

	direct, err := i.Rows(instr.ExcludeID, sequence, docs)
	require.NoError(t, err)

	for split := 0; split <= len(sequence); split++ {
		prefix, err := i.Rows(instr.ExcludeID, sequence[:split], docs)
		require.NoError(t, err)
		res := instr.Residual{
			Policy:       instr.ExcludeID,
			PolicyPushed: true,
			Instructions: sequence[split:],
		}
		finished, err := i.Residual(res, prefix)
		require.NoError(t, err)
		assert.Equal(t, direct, finished, "split at %d", split)
	}
}
