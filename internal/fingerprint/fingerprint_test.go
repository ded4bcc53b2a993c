package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	t.Parallel()

	// sha1("abc")
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", Text("abc"))
	assert.Equal(t, Text("fluffy has a fever."), Text("fluffy has a fever."))
	assert.NotEqual(t, Text("fluffy has a fever."), Text("fluffy has a fever!"))
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Text("a|b|c"), Join("a", "b", "c"))
	assert.NotEqual(t, Join("ab", "c"), Join("a", "bc"))
}

func TestMarshalCanonical_SortsKeysCompact(t *testing.T) {
	t.Parallel()

	b, err := MarshalCanonical(map[string]any{
		"b": 1,
		"a": []any{"x", true, nil},
		"c": map[string]any{"z": "<&>", "y": 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",true,null],"b":1,"c":{"y":2.5,"z":"<&>"}}`, string(b))
}

func TestMarshalCanonical_StructUsesJSONTags(t *testing.T) {
	t.Parallel()

	type unit struct {
		Summary string   `json:"summary"`
		Atoms   []string `json:"included_atoms"`
	}
	b, err := MarshalCanonical(unit{Summary: "s", Atoms: []string{"a1"}})
	require.NoError(t, err)
	assert.Equal(t, `{"included_atoms":["a1"],"summary":"s"}`, string(b))
}

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	t.Parallel()

	h1, err := Canonical(map[string]any{"content": map[string]any{"a": "1", "b": "2"}, "included_atoms": []string{"x"}})
	require.NoError(t, err)
	h2, err := Canonical(map[string]any{"included_atoms": []string{"x"}, "content": map[string]any{"b": "2", "a": "1"}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := Canonical(map[string]any{"included_atoms": []string{"x", "y"}, "content": map[string]any{"b": "2", "a": "1"}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestCanonical_NFC(t *testing.T) {
	t.Parallel()

	// "é" precomposed vs "e" + combining acute.
	assert.Equal(t, MustCanonical("caf\u00e9"), MustCanonical("cafe\u0301"))
}

func TestCanonical_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := Canonical(make(chan int))
	require.Error(t, err)
}
