package synth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vet-analytics/internal/model"
)

func ref(doc, block, loc string) model.SourceRef {
	return model.SourceRef{SourceDocID: doc, BlockID: block, TextHash: "h-" + block, SourceLocale: loc}
}

func atom(id, typ, text string, refs ...model.SourceRef) model.Atom {
	return model.Atom{AtomID: id, ConceptID: "c1", AtomType: typ, Text: text, SourceRefs: refs}
}

func TestPickLocale(t *testing.T) {
	tests := []struct {
		name string
		refs []model.SourceRef
		want string
	}{
		{"empty", nil, "und"},
		{"majority ru", []model.SourceRef{ref("d", "1", "ru"), ref("d", "2", "ru-RU"), ref("d", "3", "ru"), ref("d", "4", "pt")}, "ru"},
		{"regional tag rounds down", []model.SourceRef{ref("d", "1", "pt_BR")}, "pt"},
		{"tie broken by code", []model.SourceRef{ref("d", "1", "sw"), ref("d", "2", "en")}, "en"},
		{"unsupported", []model.SourceRef{ref("d", "1", "fr")}, "und"},
		{"blank locale counts as und", []model.SourceRef{ref("d", "1", ""), ref("d", "2", "")}, "und"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickLocale(tt.refs))
		})
	}
}

func TestTemplateFor_Default(t *testing.T) {
	assert.Equal(t, Templates["en"].Questions, TemplateFor("xx").Questions)
	assert.Equal(t, Templates["pt"].Questions, TemplateFor("pt-br").Questions)
}

func TestQuestions(t *testing.T) {
	q := Questions("ru", []string{"рвота"}, "ignored")
	require.Len(t, q, 8)
	assert.Equal(t, "рвота у собаки: что делать?", q[0])

	q = Questions("pt", nil, "febre")
	assert.Equal(t, []string{
		"febre em cães: o que fazer?",
		"febre em gatos: o que fazer?",
		"sinais de alerta em febre",
		"diagnóstico para febre",
		"possíveis causas de febre",
	}, q)

	many := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	q = Questions("en", many, "")
	assert.Len(t, q, 15)
	for _, s := range q {
		assert.NotContains(t, s, "a6")
	}
}

func TestQuestions_Deduplicated(t *testing.T) {
	q := Questions("sw", []string{"homa", "homa"}, "")
	assert.Len(t, q, 5)
}

func TestTitle(t *testing.T) {
	stops := map[string]struct{}{"при": {}, "and": {}}

	title, src := Title([]string{"рвота", "при", "12", "ок", "диарея", "рвота кровью", "вялость"}, stops, "ru", 3)
	assert.Equal(t, "рвота, диарея, рвота кровью", title)
	assert.Equal(t, model.TitleFromKeywords, src)

	title, src = Title([]string{"при рвоте"}, stops, "ru", 3)
	assert.Equal(t, "Тема 3", title, "a bigram containing a stopword is not informative")
	assert.Equal(t, model.TitleFallback, src)
}

func TestTitle_FallbackNeverEmpty(t *testing.T) {
	for _, loc := range []string{"ru", "pt", "sw", "en", "und", "zz"} {
		title, src := Title(nil, nil, loc, 7)
		assert.NotEmpty(t, title, loc)
		assert.Contains(t, title, "7")
		assert.Equal(t, model.TitleFallback, src)
	}
	title, _ := Title([]string{"and", "12", "x"}, map[string]struct{}{"and": {}}, "en", 0)
	assert.Equal(t, "Concept 0", title)
}

func TestBadTitle(t *testing.T) {
	stops := map[string]struct{}{"при": {}}
	assert.True(t, BadTitle("", stops))
	assert.True(t, BadTitle("рвота", stops), "a single part")
	assert.True(t, BadTitle("при, 12, ок", stops))
	assert.False(t, BadTitle("рвота, при", stops))
	assert.False(t, BadTitle("рвота, диарея", stops))
}

func TestKeywords(t *testing.T) {
	atoms := []model.Atom{
		atom("a1", model.AtomRedFlag, "Судороги у собаки"),
		atom("a2", model.AtomRedFlag, "рвота с кровью"),
		atom("a3", model.AtomRedFlag, ""),
	}
	assert.Equal(t, []string{"рвота", "диарея", "Судороги"}, Keywords([]string{"рвота", "диарея"}, atoms))

	var top []string
	for i := range 40 {
		top = append(top, fmt.Sprintf("k%d", i))
	}
	assert.Len(t, Keywords(top, atoms), 30)
}

func TestAggregateRefs(t *testing.T) {
	refs := []model.SourceRef{ref("d1", "b1", "ru"), ref("d1", "b1", "ru"), ref("d1", "b2", "ru"), ref("d2", "b1", "ru")}
	got := AggregateRefs(refs, 100)
	assert.Len(t, got, 3)
	assert.Len(t, AggregateRefs(refs, 2), 2)
}

func fixture() Input {
	ru := ref("d1", "b1", "ru")
	return Input{
		Concept: model.Concept{
			ConceptID:   "cpt_r_0",
			TitleGuess:  "рвота, диарея, вялость",
			TopKeywords: []string{"рвота", "диарея"},
		},
		Atoms: []model.Atom{
			atom("a1", model.AtomOwnerAction, "Дайте собаке воды небольшими порциями", ru),
			atom("a2", model.AtomRedFlag, "Кровь в рвоте требует срочного визита", ru),
			atom("a3", model.AtomDiagnosticStep, "Общий анализ крови и биохимия", ru),
			atom("a4", model.AtomTriageStep, "Не кормить 12 часов", ru),
			atom("a5", model.AtomDifferential, "Инородное тело желудка", ru),
		},
		RepText: "Рвота бывает острой и хронической. Причины разные.",
	}
}

func TestBuild_TwoVariants(t *testing.T) {
	b := Builder{RunID: "r2", SourceRunID: "r1", CreatedAt: "2024-01-01T00:00:00Z"}
	units := b.Build(fixture())
	require.Len(t, units, 2)

	c, p := units[0], units[1]
	assert.Equal(t, "b2c", c.Audience)
	assert.Equal(t, "simple", c.Tone)
	assert.Equal(t, "b2b", p.Audience)
	assert.Equal(t, "pro", p.Tone)
	assert.NotEqual(t, c.QAUnitID, p.QAUnitID)
	assert.Equal(t, UnitID("cpt_r_0", "ru", "b2c", "simple"), c.QAUnitID)

	assert.Equal(t, "ru", c.OutputLocale)
	assert.Equal(t, "рвота, диарея, вялость", c.Title)
	assert.Equal(t, "r2", c.RunID)
	assert.Equal(t, "r1", c.SourceRunID)
	assert.Equal(t, Method, c.BuildMeta.Method)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, model.StatusDraft, c.Status)

	assert.Equal(t, "Дайте собаке воды небольшими порциями", c.Content.Summary)
	assert.Equal(t, []string{"Дайте собаке воды небольшими порциями", "Не кормить 12 часов"}, c.Content.WhatYouCanDoNow)
	assert.Equal(t, []string{"Кровь в рвоте требует срочного визита"}, c.Content.RedFlags)
	assert.Equal(t, Templates["ru"].VisitUrgent, c.Content.WhenToVisitVet)
	assert.Len(t, c.Content.WhatToAvoid, 2)
	assert.Empty(t, c.Content.DiagnosticSteps)

	assert.Equal(t, "Общий анализ крови и биохимия", p.Content.Summary)
	require.Len(t, p.Content.DiagnosticSteps, 1)
	require.Len(t, p.Content.Differentials, 1)
	assert.Equal(t, "Инородное тело желудка", p.Content.Differentials[0].Name)
	assert.Equal(t, "Не кормить 12 часов", p.Content.TriageNotes)
	assert.Empty(t, p.Content.WhatYouCanDoNow)

	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, c.IncludedAtoms)
	assert.Len(t, c.SourceRefs, 1, "refs are aggregated by document, block and hash")
	assert.Len(t, c.Questions, 15)
}

func TestBuild_AudienceAtomTypes(t *testing.T) {
	units := Builder{}.Build(fixture())
	require.Len(t, units, 2)
	content := func(u model.QAUnit) string {
		b, err := json.Marshal(u.Content)
		require.NoError(t, err)
		return string(b)
	}
	consumer, pro := content(units[0]), content(units[1])

	assert.Contains(t, consumer, "Дайте собаке воды")
	assert.NotContains(t, pro, "Дайте собаке воды")
	for _, text := range []string{"Общий анализ крови", "Инородное тело желудка"} {
		assert.Contains(t, pro, text)
		assert.NotContains(t, consumer, text)
	}
	for _, text := range []string{"Кровь в рвоте", "Не кормить 12 часов"} {
		assert.Contains(t, consumer, text)
		assert.Contains(t, pro, text)
	}
}

func TestBuild_FallsBackToRepresentativeSentence(t *testing.T) {
	in := fixture()
	in.Atoms = nil
	units := Builder{}.Build(in)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, "Рвота бывает острой и хронической", u.Content.Summary)
		assert.Equal(t, "und", u.OutputLocale)
		assert.Empty(t, u.IncludedAtoms)
	}
	assert.Equal(t, Templates["und"].VisitIfWorse, units[0].Content.WhenToVisitVet)
}

func TestBuild_SeedWithoutKeywords(t *testing.T) {
	in := fixture()
	in.Atoms = nil
	in.Concept.TopKeywords = nil
	units := Builder{}.Build(in)
	assert.Equal(t, "рвота, диарея, вялость in dogs: what to do?", units[0].Questions[0])

	in.Concept.TitleGuess = ""
	units = Builder{}.Build(in)
	assert.Equal(t, "состояние in dogs: what to do?", units[0].Questions[0])
}

func TestBuildHash_ChangesIffContentOrAtomsChange(t *testing.T) {
	b := Builder{RunID: "r1", CreatedAt: "t1"}
	first := b.Build(fixture())

	// Rebuilding from unchanged atoms, even in another run at another time,
	// reproduces the hash.
	again := Builder{RunID: "r9", CreatedAt: "t9"}.Build(fixture())
	assert.Equal(t, first[0].BuildHash, again[0].BuildHash)
	assert.Equal(t, first[1].BuildHash, again[1].BuildHash)

	// A different differential changes only the professional content.
	in := fixture()
	in.Atoms[4].Text = "Панкреатит"
	changed := b.Build(in)
	assert.Equal(t, first[0].BuildHash, changed[0].BuildHash)
	assert.NotEqual(t, first[1].BuildHash, changed[1].BuildHash)

	// Same content, different included atom set.
	in = fixture()
	in.Atoms[4].AtomID = "a5-renamed"
	renamed := b.Build(in)
	assert.NotEqual(t, first[0].BuildHash, renamed[0].BuildHash)

	assert.Equal(t, BuildHash(first[0].Content, first[0].IncludedAtoms), first[0].BuildHash)
}
