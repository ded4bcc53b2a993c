package schema

// Collection types assigned by Classify.
const (
	CollectionStructured = "structured_logic"
	CollectionRawText    = "raw_text"
	CollectionMixed      = "mixed"
	CollectionUnknown    = "unknown"
)

// structuredHints are field names that carry already-structured clinical
// logic rather than free text.
var structuredHints = set(
	"red_flags", "triage", "diagnostic_steps", "differentials",
	"symptoms", "protocol", "steps", "assessment",
)

// minStructuredCoverage is the share of sampled documents a hint field must
// appear in before it counts.
const minStructuredCoverage = 0.1

// Trigger records a field that made a collection look structured.
type Trigger struct {
	Field       string  `json:"field"`
	CoveragePct float64 `json:"coverage_pct"`
}

// Classification is the coarse kind of a source collection.
type Classification struct {
	CollectionType string    `json:"collection_type"`
	Evidence       []Trigger `json:"classification_evidence"`
}

// Classify labels a profiled collection: structured hint fields plus free
// text is mixed, hints alone structured_logic, free text alone raw_text.
func Classify(p Profile) Classification {
	c := Classification{Evidence: []Trigger{}}
	structured := false
	for _, path := range sortedKeys(p.Fields) {
		fp := p.Fields[path]
		if _, ok := structuredHints[Leaf(path)]; ok && fp.CoveragePct > minStructuredCoverage {
			structured = true
			c.Evidence = append(c.Evidence, Trigger{Field: path, CoveragePct: fp.CoveragePct})
		}
	}
	hasContent := len(p.ContentFields) > 0
	switch {
	case structured && hasContent:
		c.CollectionType = CollectionMixed
	case structured:
		c.CollectionType = CollectionStructured
	case hasContent:
		c.CollectionType = CollectionRawText
	default:
		c.CollectionType = CollectionUnknown
	}
	return c
}

// IsTextSource reports whether a collection type carries free text worth
// chunking.
func IsTextSource(collectionType string) bool {
	return collectionType == CollectionRawText || collectionType == CollectionMixed
}
