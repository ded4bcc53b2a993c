// Package extract classifies lines and sentences of a concept's evidence
// blocks into typed atoms using a cue table.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/vet-analytics/internal/fingerprint"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

const (
	// DefaultSentenceCap bounds backfilled atoms per type per concept.
	DefaultSentenceCap = 30
	maxAtomRunes       = 500
	maxSentenceRunes   = 180
	minLineRunes       = 20
	maxRefsPerAtom     = 10
)

var listItemRe = regexp.MustCompile(`^(\d+[\).]|[-*•])\s+`)

// Extractor turns evidence blocks into atoms.
type Extractor struct {
	cues        *CueTable
	sentenceCap int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSentenceCap overrides DefaultSentenceCap.
func WithSentenceCap(n int) Option { return func(e *Extractor) { e.sentenceCap = n } }

// New creates an Extractor over cues.
func New(cues *CueTable, opts ...Option) *Extractor {
	e := &Extractor{cues: cues, sentenceCap: DefaultSentenceCap}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Cues returns the table the extractor matches against.
func (e *Extractor) Cues() *CueTable { return e.cues }

// Concept extracts the atoms of one concept. Blocks are scanned line by line
// first; sentences are scanned afterwards only for pattern types the line
// scan found nothing for. Atoms with the same type and normalized text are
// emitted once, collecting the source refs of every occurrence. The result
// is ordered by first occurrence and carries no run fields.
func (e *Extractor) Concept(conceptID string, blocks []model.EvidenceBlock) []model.Atom {
	acc := &accumulator{conceptID: conceptID, index: make(map[string]int)}

	for _, b := range blocks {
		for _, ln := range CandidateLines(b.Text, e.cues) {
			nln := textnorm.Normalize(ln)
			for _, typ := range e.cues.Match(nln) {
				acc.add(typ, textnorm.Truncate(ln, maxAtomRunes), nln, model.ExtractorCueLine, b)
			}
		}
	}

	var missing []string
	for _, typ := range e.cues.PatternTypes() {
		if acc.count[typ] == 0 {
			missing = append(missing, typ)
		}
	}
	if len(missing) == 0 {
		return acc.atoms
	}

	backfilled := make(map[string]int, len(missing))
	for _, b := range blocks {
		for _, sent := range textnorm.SplitSentences(b.Text) {
			s := textnorm.Truncate(strings.TrimSpace(sent), maxSentenceRunes)
			nln := textnorm.Normalize(s)
			if nln == "" {
				continue
			}
			for _, typ := range missing {
				if backfilled[typ] >= e.sentenceCap || !e.cues.MatchPattern(typ, nln) {
					continue
				}
				if acc.add(typ, s, nln, model.ExtractorRegexSentence, b) {
					backfilled[typ]++
				}
			}
		}
	}
	return acc.atoms
}

// CandidateLines returns the lines of text worth classifying: list items,
// headings and lines longer than 20 characters, stripped of bullet marks.
func CandidateLines(text string, cues *CueTable) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		ln := strings.Trim(raw, " -*•\t\r")
		if ln == "" {
			continue
		}
		switch {
		case listItemRe.MatchString(ln):
		case strings.HasSuffix(ln, ":"):
		case cues != nil && cues.IsHeading(textnorm.Normalize(ln)):
		case utf8.RuneCountInString(ln) > minLineRunes:
		default:
			continue
		}
		out = append(out, ln)
	}
	return out
}

// AtomID is the idempotency key of an atom.
func AtomID(conceptID, atomType, normText string) string {
	return fingerprint.Join(conceptID, atomType, normText)
}

type accumulator struct {
	conceptID string
	atoms     []model.Atom
	index     map[string]int
	count     map[string]int
}

// add records an occurrence and reports whether it created a new atom.
func (a *accumulator) add(typ, text, norm, extractor string, b model.EvidenceBlock) bool {
	if a.count == nil {
		a.count = make(map[string]int)
	}
	hash := fingerprint.Text(norm)
	ref := blockRef(b)
	key := typ + "|" + hash
	if i, ok := a.index[key]; ok {
		at := &a.atoms[i]
		if len(at.SourceRefs) < maxRefsPerAtom && !hasRef(at.SourceRefs, ref) {
			at.SourceRefs = append(at.SourceRefs, ref)
		}
		return false
	}
	a.index[key] = len(a.atoms)
	a.count[typ]++
	a.atoms = append(a.atoms, model.Atom{
		AtomID:     AtomID(a.conceptID, typ, norm),
		ConceptID:  a.conceptID,
		AtomType:   typ,
		Text:       text,
		NormHash:   hash,
		Extractor:  extractor,
		SourceRefs: []model.SourceRef{ref},
		Status:     model.StatusDraft,
	})
	return true
}

func blockRef(b model.EvidenceBlock) model.SourceRef {
	loc := b.SourceLocale
	if loc == "" {
		loc = locale.Undetermined
	}
	return model.SourceRef{
		SourceDocID:  b.SourceDocID,
		BlockID:      b.BlockID,
		TextHash:     b.TextHash,
		Title:        b.Title,
		SourceLocale: loc,
	}
}

func hasRef(refs []model.SourceRef, r model.SourceRef) bool {
	for _, x := range refs {
		if x.SourceDocID == r.SourceDocID && x.BlockID == r.BlockID && x.TextHash == r.TextHash {
			return true
		}
	}
	return false
}
