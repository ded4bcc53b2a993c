package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vet-analytics/internal/dedup"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/schema"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/vector"
)

func TestSelectSources(t *testing.T) {
	inv := []model.InventoryEntry{
		{Collection: "small", RowCount: 10, CollectionType: schema.CollectionRawText, Profile: schema.Profile{ContentFields: []string{"text"}}},
		{Collection: "rules", RowCount: 500, CollectionType: schema.CollectionStructured},
		{Collection: "big", RowCount: 900, CollectionType: schema.CollectionMixed, Profile: schema.Profile{ContentFields: []string{"body"}, TitleFields: []string{"title"}}},
		{Collection: "odd", RowCount: 50, CollectionType: schema.CollectionRawText},
		{Collection: "mid", RowCount: 100, CollectionType: schema.CollectionRawText, Profile: schema.Profile{ContentFields: []string{"content"}}},
	}

	got := selectSources(inv, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "big", got[0].Collection)
	assert.Equal(t, []string{"title"}, got[0].TitleFields)
	assert.Equal(t, "mid", got[1].Collection)

	assert.Len(t, selectSources(inv, 0), 3)
	assert.Empty(t, selectSources(nil, 3))
}

func TestDocText(t *testing.T) {
	doc := store.Doc{"body": map[string]any{"text": "  hello  "}, "blank": "   ", "n": 3}
	s, ok := docText(doc, "body.text")
	assert.True(t, ok)
	assert.Equal(t, "  hello  ", s)
	_, ok = docText(doc, "blank")
	assert.False(t, ok)
	_, ok = docText(doc, "n")
	assert.False(t, ok)
	_, ok = docText(doc, "missing")
	assert.False(t, ok)
}

func TestDocTitle(t *testing.T) {
	assert.Equal(t, "T", docTitle(store.Doc{"title": "T", "name": "N"}))
	assert.Equal(t, "N", docTitle(store.Doc{"title": " ", "name": "N"}))
	assert.Empty(t, docTitle(store.Doc{"title": 5}))
}

func TestCountByMostCommon(t *testing.T) {
	c := newCountBy()
	for _, k := range []string{"b", "a", "b", "c", "a", "d"} {
		c.add(k, 1)
	}
	assert.Equal(t, []string{"b", "a"}, c.mostCommon(2))
	assert.Equal(t, []string{"b", "a", "c", "d"}, c.mostCommon(-1))
}

func TestOwnCollection(t *testing.T) {
	assert.True(t, ownCollection(model.CollBlocks))
	assert.True(t, ownCollection(model.CollStages))
	assert.True(t, ownCollection("system.indexes"))
	assert.False(t, ownCollection("articles"))
}

func TestDuplicateTitles(t *testing.T) {
	docs := []store.Doc{{"title": "A"}, {"title": "B"}, {"title": "A"}, {"title": ""}, {"title": "A"}}
	got := duplicateTitles(docs, []string{"title"})
	assert.Equal(t, []model.DuplicateTitle{{Title: "A", Count: 3}}, got)
	assert.Empty(t, duplicateTitles(docs, nil))
}

func TestBlockID(t *testing.T) {
	a := BlockID("articles", "a1", 0, "text")
	assert.Equal(t, a, BlockID("articles", "a1", 0, "text"))
	assert.NotEqual(t, a, BlockID("articles", "a1", 1, "text"))
	assert.NotEqual(t, a, BlockID("articles", "a2", 0, "text"))
	assert.NotEqual(t, a, BlockID("articles", "a1", 0, "other"))
	assert.Len(t, a, 40)
}

func TestConceptID(t *testing.T) {
	assert.Equal(t, "cpt_r1_3", ConceptID("r1", 3))
}

func TestDominantLocale(t *testing.T) {
	assert.Equal(t, "ru", dominantLocale(map[string]int{"ru": 3, "en": 1}))
	assert.Equal(t, "en", dominantLocale(map[string]int{"ru": 2, "en": 2}), "ties go to the lowest code")
	assert.Equal(t, "und", dominantLocale(nil))
}

func TestMeanWeights(t *testing.T) {
	rows := []vector.Vector{
		{Idx: []int{0, 2}, Val: []float64{1, 1}},
		{Idx: []int{2}, Val: []float64{3}},
	}
	got := meanWeights(rows, []int{0, 1}, 3)
	assert.InDeltaSlice(t, []float64{0.5, 0, 2}, got, 1e-9)
}

func TestEvalQueries(t *testing.T) {
	var units []model.QAUnit
	for i := 0; i < 60; i++ {
		units = append(units, model.QAUnit{Questions: []string{"q" + string(rune('a'+i%26)), "p"}})
	}
	got := evalQueries(units)
	assert.Len(t, got, maxEvalQueries)
	assert.Equal(t, got, evalQueries(units), "shuffle is seeded")
	assert.Empty(t, evalQueries(nil))
}

func TestCoverage(t *testing.T) {
	d := &runData{
		inventory: make([]model.InventoryEntry, 2),
		blocks: []model.EvidenceBlock{
			{SourceLocale: "ru"}, {SourceLocale: "ru"}, {SourceLocale: ""},
		},
		concepts: []model.Concept{{BlockCount: 1}, {BlockCount: 5}, {BlockCount: 2}, {BlockCount: 8}},
		atoms: []model.Atom{
			{AtomType: model.AtomRedFlag}, {AtomType: model.AtomRedFlag}, {AtomType: model.AtomOwnerAction}, {AtomType: model.AtomDiagnosticStep},
		},
		units: []model.QAUnit{
			{Audience: model.AudienceB2C, Tone: model.ToneSimple},
			{Audience: model.AudienceB2B, Tone: model.TonePro},
			{Audience: model.AudienceB2B, Tone: model.TonePro},
		},
		groups: []model.DedupGroup{{DedupType: model.DedupAtom}, {DedupType: model.DedupRawText}},
	}
	c := coverage(d)
	assert.Equal(t, 2, c.SourceCollections)
	assert.Equal(t, map[string]int{"ru": 2, "und": 1}, c.EvidenceLocaleDistribution)
	assert.Equal(t, 1, c.ConceptBlockCountMin)
	assert.Equal(t, 8, c.ConceptBlockCountMax)
	assert.InDelta(t, 3.5, c.ConceptBlockCountMedian, 1e-9)
	assert.Equal(t, 2, c.AtomsByType[model.AtomRedFlag])
	assert.Equal(t, 1, c.AtomDedupGroups)
	assert.InDelta(t, 0.25, c.AtomDedupRate, 1e-9)
	assert.Equal(t, 2, c.DedupGroupsTotal)
	assert.Equal(t, map[string]int{"b2c_simple": 1, "b2b_pro": 2}, c.QAUnitsByVariant)
}

func TestCoverage_Empty(t *testing.T) {
	c := coverage(&runData{})
	assert.Zero(t, c.ConceptBlockCountMax)
	assert.Zero(t, c.ConceptBlockCountMedian)
	assert.Zero(t, c.AtomDedupRate)
	assert.Equal(t, map[string]int{"b2c_simple": 0, "b2b_pro": 0}, c.QAUnitsByVariant)
}

func TestGaps(t *testing.T) {
	d := &runData{
		concepts: []model.Concept{
			{ConceptID: "c1", BlockCount: 10},
			{ConceptID: "c2", BlockCount: 2},
			{ConceptID: "c3", BlockCount: 6},
		},
		atoms: []model.Atom{
			{AtomID: "a1", ConceptID: "c1", AtomType: model.AtomRedFlag},
			{AtomID: "a2", ConceptID: "c1", AtomType: model.AtomDiagnosticStep},
			{AtomID: "a3", ConceptID: "c2", AtomType: model.AtomRedFlag},
			{AtomID: "a4", ConceptID: "c3", AtomType: model.AtomOwnerAction},
			{AtomID: "a5", ConceptID: "c1", AtomType: model.AtomOwnerAction},
		},
		groups: []model.DedupGroup{
			{DedupType: model.DedupAtom, Count: 2, Members: []string{"a3", "a4"}},
			{DedupType: model.DedupAtom, Count: 1, Members: []string{"a1"}},
			{DedupType: model.DedupRawText, Count: 2, Members: []string{"a2", "a5"}},
		},
	}
	g := gaps(d)
	assert.Equal(t, []string{"c3"}, g.ZeroRedFlags)
	assert.Equal(t, []string{"c2", "c3"}, g.ZeroDiagnosticSteps)
	assert.Equal(t, []string{"c2"}, g.LowEvidence)
	assert.Equal(t, []string{"c2", "c3"}, g.HighDupRatio)
}

func TestTitleStats(t *testing.T) {
	concepts := []model.Concept{
		{TitleGuess: "рвота, диарея", TitleSource: model.TitleFromKeywords},
		{TitleGuess: "Тема 2", TitleSource: model.TitleFallback},
		{TitleGuess: "и, в", TitleSource: model.TitleFromKeywords},
	}
	ts := titleStats(concepts, map[string]struct{}{"и": {}, "в": {}})
	assert.Equal(t, 3, ts.Total)
	assert.Equal(t, 1, ts.Fallback)
	assert.Equal(t, 2, ts.Bad)
	assert.Equal(t, []string{"Тема 2", "и, в"}, ts.BadTitles)
}

func TestDirArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	a := NewDirArtifacts(dir)
	require.NoError(t, a.WriteMarkdown("inventory", "# Inventory\n"))
	require.NoError(t, a.WriteJSON("inventory", map[string]any{"text": "<b>"}))

	md, err := os.ReadFile(filepath.Join(dir, "inventory.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Inventory\n", string(md))

	js, err := os.ReadFile(filepath.Join(dir, "inventory.json"))
	require.NoError(t, err)
	assert.Contains(t, string(js), `"<b>"`)
	assert.Equal(t, filepath.Join(dir, "final_report.md"), a.Path("final_report.md"))
}

func TestMemoryArtifacts(t *testing.T) {
	a := NewMemoryArtifacts()
	require.NoError(t, a.WriteMarkdown("b", "x"))
	require.NoError(t, a.WriteJSON("a", []int{1}))
	assert.Equal(t, []string{"a.json", "b.md"}, a.Files())
	got, ok := a.Get("b.md")
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestRawDedupGroups(t *testing.T) {
	grouper := dedup.NewExactGrouper(model.DedupRawText)
	info := &rawGroupInfo{snippet: "fluffy has a fever.", collection: "articles"}
	for i := range 120 {
		grouper.AddHash(fmt.Sprintf("d%03d", i), "h1")
		if len(info.titles) < maxGroupTitles {
			info.titles = append(info.titles, fmt.Sprintf("t%d", i))
		}
	}
	grouper.AddHash("solo", "h2")

	out := rawDedupGroups(grouper.Groups(), map[string]*rawGroupInfo{"h1": info}, "r1", "now")
	require.Len(t, out, 2)

	g := out[0]
	assert.Equal(t, "raw::h1", g.DedupID)
	assert.Equal(t, dedup.ExactID(model.DedupRawText, "h1"), g.GroupID)
	assert.Equal(t, dedup.MethodExact, g.Method)
	assert.Equal(t, 120, g.Count)
	assert.Len(t, g.Members, dedup.MaxMembers)
	assert.Len(t, g.Titles, maxGroupTitles)
	assert.Equal(t, "d000", g.Representative)
	assert.Equal(t, "articles", g.SourceCollection)
	assert.Equal(t, "r1", g.RunID)

	assert.Equal(t, "raw::h2", out[1].DedupID)
	assert.Equal(t, 1, out[1].Count)
	assert.Empty(t, out[1].Titles)
}

func TestAtomGroups_ExactKeysOnFullTextHash(t *testing.T) {
	env := newTestEnv(nil, nil, model.RunOptions{RunID: "r1", ActiveRunID: "r1"})
	shared := strings.Repeat("рвота ", 100)
	atoms := []model.Atom{
		// Same stored prefix, different full text.
		{AtomID: "a1", ConceptID: "c1", AtomType: model.AtomRedFlag, Text: shared, NormHash: "hash-a"},
		{AtomID: "a2", ConceptID: "c2", AtomType: model.AtomRedFlag, Text: shared, NormHash: "hash-b"},
		{AtomID: "a3", ConceptID: "c3", AtomType: model.AtomRedFlag, Text: "кровь в рвоте", NormHash: "hash-a"},
	}

	groups, err := atomGroups(context.Background(), env, atoms, "now")
	require.NoError(t, err)

	var exact []model.DedupGroup
	for _, g := range groups {
		if g.Method == dedup.MethodExact {
			exact = append(exact, g)
		}
	}
	require.Len(t, exact, 2)
	assert.Equal(t, "hash-a", exact[0].NormHash)
	assert.Equal(t, []string{"a1", "a3"}, exact[0].Members)
	assert.Equal(t, []string{"c1", "c3"}, exact[0].ConceptIDs)
	assert.Equal(t, "hash-b", exact[1].NormHash)
	assert.Equal(t, []string{"a2"}, exact[1].Members)
}
