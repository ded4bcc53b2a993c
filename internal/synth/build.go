// Package synth assembles question-answer units from a concept's atoms:
// output locale, templated questions and two audience variants.
package synth

import (
	"strings"

	"github.com/sells-group/vet-analytics/internal/fingerprint"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

// Method is recorded in every unit's build metadata.
const Method = "rule_based_v1"

const (
	maxKeywords     = 30
	maxIncluded     = 200
	maxRefs         = 100
	b2cSummaryRunes = 600
	b2bSummaryRunes = 700
	triageRunes     = 300
	diffNameRunes   = 120
	diagStepRunes   = 160
	defaultSeed     = "состояние"
)

// Input is everything known about one concept.
type Input struct {
	Concept model.Concept
	// Atoms of the concept in stored order.
	Atoms []model.Atom
	// RepText is the text of the concept's first representative block.
	RepText string
}

// Builder stamps run metadata onto the units it builds.
type Builder struct {
	RunID       string
	SourceRunID string
	CreatedAt   string
}

// Build returns the consumer (b2c/simple) and professional (b2b/pro) units
// of one concept.
func (b Builder) Build(in Input) []model.QAUnit {
	byType := make(map[string][]model.Atom)
	var refs []model.SourceRef
	for _, a := range in.Atoms {
		byType[a.AtomType] = append(byType[a.AtomType], a)
		refs = append(refs, a.SourceRefs...)
	}

	loc := PickLocale(refs)
	tmpl := TemplateFor(loc)
	keywords := Keywords(in.Concept.TopKeywords, in.Atoms)
	seed := defaultSeed
	switch {
	case len(keywords) > 0:
		seed = keywords[0]
	case in.Concept.TitleGuess != "":
		seed = in.Concept.TitleGuess
	}
	questions := Questions(loc, keywords, seed)

	// Owner actions are consumer-only; diagnostics and differentials are
	// professional-only. Red flags, triage steps and limitations feed both.
	rep := textnorm.FirstSentence(in.RepText)
	b2c := model.Content{
		Summary:         summary(concat(byType, model.AtomOwnerAction, model.AtomNoteLimitation), 3, b2cSummaryRunes, rep),
		WhatYouCanDoNow: texts(concat(byType, model.AtomOwnerAction, model.AtomTriageStep), 5),
		RedFlags:        texts(byType[model.AtomRedFlag], 5),
		WhenToVisitVet:  tmpl.VisitIfWorse,
		WhatToAvoid:     append([]string(nil), tmpl.WhatToAvoid...),
	}
	if len(byType[model.AtomRedFlag]) > 0 {
		b2c.WhenToVisitVet = tmpl.VisitUrgent
	}

	b2b := model.Content{
		Summary:         summary(concat(byType, model.AtomDiagnosticStep, model.AtomNoteLimitation), 4, b2bSummaryRunes, rep),
		Differentials:   differentials(byType[model.AtomDifferential], 8),
		DiagnosticSteps: diagnosticSteps(byType[model.AtomDiagnosticStep], 8),
		RedFlags:        texts(byType[model.AtomRedFlag], 8),
		TriageNotes:     textnorm.Truncate(strings.Join(texts(byType[model.AtomTriageStep], 3), " "), triageRunes),
	}

	included := make([]string, 0, min(len(in.Atoms), maxIncluded))
	for _, a := range in.Atoms {
		if len(included) == maxIncluded {
			break
		}
		included = append(included, a.AtomID)
	}
	aggRefs := AggregateRefs(refs, maxRefs)

	variants := []struct {
		audience, tone string
		content        model.Content
	}{
		{model.AudienceB2C, model.ToneSimple, b2c},
		{model.AudienceB2B, model.TonePro, b2b},
	}
	out := make([]model.QAUnit, 0, len(variants))
	for _, v := range variants {
		out = append(out, model.QAUnit{
			QAUnitID:      UnitID(in.Concept.ConceptID, loc, v.audience, v.tone),
			RunID:         b.RunID,
			SourceRunID:   b.SourceRunID,
			ConceptID:     in.Concept.ConceptID,
			OutputLocale:  loc,
			Audience:      v.audience,
			Tone:          v.tone,
			Title:         in.Concept.TitleGuess,
			Questions:     questions,
			Keywords:      keywords,
			Content:       v.content,
			IncludedAtoms: included,
			SourceRefs:    aggRefs,
			Status:        model.StatusDraft,
			Version:       1,
			BuildHash:     BuildHash(v.content, included),
			BuildMeta: model.BuildMeta{
				RunID:      b.RunID,
				Method:     Method,
				LocaleRule: LocaleRule,
				CreatedAt:  b.CreatedAt,
			},
		})
	}
	return out
}

// UnitID is the idempotency key of a unit.
func UnitID(conceptID, loc, audience, tone string) string {
	return fingerprint.Join(conceptID, loc, audience, tone)
}

// BuildHash fingerprints a unit's generated content and included atoms.
func BuildHash(content model.Content, included []string) string {
	return fingerprint.MustCanonical(map[string]any{
		"content":        content,
		"included_atoms": included,
	})
}

// Keywords merges the concept keywords with the first word of every atom,
// keeping first occurrences, capped at 30.
func Keywords(top []string, atoms []model.Atom) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, maxKeywords)
	add := func(k string) bool {
		if k == "" {
			return true
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
		return len(out) < maxKeywords
	}
	for _, k := range top {
		if !add(k) {
			return out
		}
	}
	for _, a := range atoms {
		if f := strings.Fields(a.Text); len(f) > 0 && !add(f[0]) {
			return out
		}
	}
	return out
}

// AggregateRefs deduplicates refs by document, block and text hash, keeping
// the first n.
func AggregateRefs(refs []model.SourceRef, n int) []model.SourceRef {
	seen := make(map[[3]string]struct{})
	out := make([]model.SourceRef, 0, min(len(refs), n))
	for _, r := range refs {
		key := [3]string{r.SourceDocID, r.BlockID, r.TextHash}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if len(out) >= n {
			break
		}
	}
	return out
}

func concat(byType map[string][]model.Atom, types ...string) []model.Atom {
	var out []model.Atom
	for _, t := range types {
		out = append(out, byType[t]...)
	}
	return out
}

func texts(atoms []model.Atom, n int) []string {
	out := make([]string, 0, min(len(atoms), n))
	for _, a := range atoms {
		if len(out) == n {
			break
		}
		out = append(out, a.Text)
	}
	return out
}

// summary joins the first n atom texts, falling back to the representative
// sentence when there are none.
func summary(atoms []model.Atom, n, maxRunes int, fallback string) string {
	if s := textnorm.Truncate(strings.Join(texts(atoms, n), " "), maxRunes); s != "" {
		return s
	}
	return fallback
}

func differentials(atoms []model.Atom, n int) []model.Differential {
	out := make([]model.Differential, 0, min(len(atoms), n))
	for _, a := range atoms[:min(len(atoms), n)] {
		out = append(out, model.Differential{Name: textnorm.Truncate(a.Text, diffNameRunes)})
	}
	return out
}

func diagnosticSteps(atoms []model.Atom, n int) []model.DiagnosticStep {
	out := make([]model.DiagnosticStep, 0, min(len(atoms), n))
	for _, a := range atoms[:min(len(atoms), n)] {
		out = append(out, model.DiagnosticStep{Step: textnorm.Truncate(a.Text, diagStepRunes)})
	}
	return out
}
