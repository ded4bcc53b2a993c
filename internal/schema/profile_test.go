package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfer_Empty(t *testing.T) {
	t.Parallel()

	p := Infer(nil)
	assert.Empty(t, p.Fields)
	assert.Empty(t, p.ContentFields)
	assert.NotNil(t, p.ContentFields)
}

func TestInfer_Profiles(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 300)
	samples := []map[string]any{
		{"title": "Rabies", "body": long, "meta": map[string]any{"lang": "ru", "tags": []any{}}},
		{"title": "", "body": long + "yy", "meta": map[string]any{"lang": nil}},
		{"title": "Mange", "count": 3.0},
		{"title": "Otitis", "body": "short", "flag": true},
	}
	p := Infer(samples)

	title := p.Fields["title"]
	assert.Equal(t, 4, title.TypeDistribution[TypeString])
	assert.InDelta(t, 1.0, title.CoveragePct, 1e-9)
	assert.InDelta(t, 0.25, title.EmptyStringPct, 1e-9)
	// lengths 6, 5, 6 -> sorted 5, 6, 6
	assert.InDelta(t, 17.0/3.0, title.AvgLength, 1e-9)
	assert.InDelta(t, 6.0, title.P50Length, 1e-9)
	assert.Equal(t, 6, title.P95Length)

	body := p.Fields["body"]
	assert.InDelta(t, 0.25, body.MissingPct, 1e-9)
	assert.Equal(t, 1, body.TypeDistribution[TypeMissing])
	// lengths 5, 300, 302 -> median 300
	assert.InDelta(t, 300.0, body.P50Length, 1e-9)

	lang := p.Fields["meta.lang"]
	assert.InDelta(t, 0.25, lang.NullPct, 1e-9)
	assert.InDelta(t, 0.5, lang.CoveragePct, 1e-9)

	assert.InDelta(t, 0.25, p.Fields["meta.tags"].EmptyArrayPct, 1e-9)
	assert.Equal(t, 2, p.Fields["meta"].TypeDistribution[TypeObject])
	assert.Equal(t, 1, p.Fields["count"].TypeDistribution[TypeNumber])
	assert.Equal(t, 1, p.Fields["flag"].TypeDistribution[TypeBool])

	assert.Equal(t, []string{"body"}, p.ContentFields)
	assert.Equal(t, []string{"meta.lang"}, p.LanguageFields)
	assert.Equal(t, []string{"title"}, p.TitleFields)
}

func TestInfer_ContentFieldsByAvgLength(t *testing.T) {
	t.Parallel()

	samples := []map[string]any{
		{"text": "short text", "notes": strings.Repeat("n", 400), "answer": strings.Repeat("a", 50)},
	}
	p := Infer(samples)
	assert.Equal(t, []string{"notes", "answer", "text"}, p.ContentFields)
}

func TestMedianEven(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.5, median([]int{1, 2, 3, 4}), 1e-9)
}

func TestFlattenDepth(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}}}
	flat := Flatten(doc, 3)
	assert.Contains(t, flat, "a")
	assert.Contains(t, flat, "a.b")
	assert.Contains(t, flat, "a.b.c")
	assert.NotContains(t, flat, "a.b.c.d")
}

func TestLookup(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"a": map[string]any{"b": "v"}, "x": "y"}
	assert.Equal(t, "v", Lookup(doc, "a.b"))
	assert.Equal(t, "y", Lookup(doc, "x"))
	assert.Nil(t, Lookup(doc, "a.c"))
	assert.Nil(t, Lookup(doc, "x.y"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("z", 400)
	tests := []struct {
		name    string
		samples []map[string]any
		want    string
	}{
		{"raw text", []map[string]any{{"content": long}}, CollectionRawText},
		{"structured", []map[string]any{{"red_flags": []any{"x"}, "name": "n"}}, CollectionStructured},
		{"mixed", []map[string]any{{"triage": "t", "content": long}}, CollectionMixed},
		{"unknown", []map[string]any{{"count": 1.0}}, CollectionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Classify(Infer(tt.samples))
			assert.Equal(t, tt.want, c.CollectionType)
			assert.Equal(t, tt.want == CollectionRawText || tt.want == CollectionMixed, IsTextSource(c.CollectionType))
		})
	}
}

func TestClassify_LowCoverageHintIgnored(t *testing.T) {
	t.Parallel()

	samples := make([]map[string]any, 20)
	for i := range samples {
		samples[i] = map[string]any{"body": "b"}
	}
	samples[0]["steps"] = "only one"
	c := Classify(Infer(samples))
	require.Equal(t, CollectionRawText, c.CollectionType)
	assert.Empty(t, c.Evidence)
}
