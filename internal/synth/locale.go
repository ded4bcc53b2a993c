package synth

import (
	"sort"
	"strings"

	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
)

// LocaleRule names the output locale rule recorded in build metadata.
const LocaleRule = "majority_prefix"

// Template is the per-locale wording of generated units.
type Template struct {
	// Questions are filled with a keyword in place of {k}.
	Questions     []string
	// FallbackTitle is filled with the cluster index in place of {n}.
	FallbackTitle string
	WhatToAvoid   []string
	VisitUrgent   string
	VisitIfWorse  string
}

// Templates holds the supported output locales. Unknown locales use the
// locale.Undetermined entry.
var Templates = map[string]Template{
	"ru": {
		Questions: []string{
			"{k} у собаки: что делать?",
			"{k} у кошки: что делать?",
			"красные флаги при {k}",
			"диагностика при {k}",
			"возможные причины {k}",
			"как понять, что при {k} нужно срочно в клинику?",
			"что нельзя делать при {k}?",
			"первые шаги владельца при {k}",
		},
		FallbackTitle: "Тема {n}",
		WhatToAvoid: []string{
			"Не давайте человеческие лекарства без назначения.",
			"Не откладывайте визит при ухудшении.",
		},
		VisitUrgent:  "срочный осмотр ветеринаром",
		VisitIfWorse: "если состояние сохраняется или ухудшается",
	},
	"pt": {
		Questions: []string{
			"{k} em cães: o que fazer?",
			"{k} em gatos: o que fazer?",
			"sinais de alerta em {k}",
			"diagnóstico para {k}",
			"possíveis causas de {k}",
		},
		FallbackTitle: "Tema {n}",
		WhatToAvoid: []string{
			"Não dê medicamentos humanos sem prescrição.",
			"Não adie a consulta se houver piora.",
		},
		VisitUrgent:  "avaliação veterinária urgente",
		VisitIfWorse: "se persistir ou piorar",
	},
	"sw": {
		Questions: []string{
			"{k} kwa mbwa: nifanye nini?",
			"{k} kwa paka: nifanye nini?",
			"dalili hatari za {k}",
			"uchunguzi wa {k}",
			"sababu zinazowezekana za {k}",
		},
		FallbackTitle: "Mada {n}",
		WhatToAvoid: []string{
			"Usimpe dawa za binadamu bila agizo la daktari.",
			"Usichelewe kumwona daktari hali ikizidi kuwa mbaya.",
		},
		VisitUrgent:  "uchunguzi wa haraka wa daktari wa mifugo",
		VisitIfWorse: "ikiendelea au kuwa mbaya zaidi",
	},
	"en":                english,
	locale.Undetermined: english,
}

var english = Template{
	Questions: []string{
		"{k} in dogs: what to do?",
		"{k} in cats: what to do?",
		"red flags for {k}",
		"diagnostics for {k}",
		"possible causes of {k}",
		"when does {k} require urgent vet care?",
		"what to avoid with {k}?",
		"first owner actions for {k}",
	},
	FallbackTitle: "Concept {n}",
	WhatToAvoid: []string{
		"Do not give human medication without a prescription.",
		"Do not delay the visit if things get worse.",
	},
	VisitUrgent:  "urgent evaluation",
	VisitIfWorse: "if persists/worsens",
}

// TemplateFor returns the template of loc or the default entry.
func TemplateFor(loc string) Template {
	if t, ok := Templates[locale.Base(loc)]; ok {
		return t
	}
	return Templates[locale.Undetermined]
}

// supported are the locales a unit may be written in, besides und.
var supported = []string{"ru", "pt", "sw", "en"}

// PickLocale picks the majority provenance locale, ties broken by code, and
// rounds it to a supported locale by prefix.
func PickLocale(refs []model.SourceRef) string {
	counts := make(map[string]int)
	for _, r := range refs {
		loc := locale.Normalize(r.SourceLocale)
		if loc == "" {
			loc = locale.Undetermined
		}
		counts[loc]++
	}
	if len(counts) == 0 {
		return locale.Undetermined
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	top := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[top] {
			top = k
		}
	}
	for _, s := range supported {
		if strings.HasPrefix(top, s) {
			return s
		}
	}
	return locale.Undetermined
}

const (
	maxQuestions     = 15
	questionKeywords = 5
)

// Questions fills the locale's templates with the top keywords, or with
// seed when there are none. The result is deduplicated and capped at 15.
func Questions(loc string, keywords []string, seed string) []string {
	top := keywords
	if len(top) > questionKeywords {
		top = top[:questionKeywords]
	}
	if len(top) == 0 {
		top = []string{seed}
	}
	tmpl := TemplateFor(loc).Questions
	seen := make(map[string]struct{})
	out := make([]string, 0, maxQuestions)
	for _, k := range top {
		for _, q := range tmpl {
			q = strings.ReplaceAll(q, "{k}", k)
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
			if len(out) >= maxQuestions {
				return out
			}
		}
	}
	return out
}
