// Package locale resolves the language of source documents and carries the
// per-locale stopword tables used by vectorization and title checks.
package locale

import (
	"strings"
	"unicode/utf8"
)

// Undetermined is returned when no locale can be established.
const Undetermined = "und"

// Fine-grained tag fields win over coarse language fields.
var (
	tagFields    = []string{"source_locale", "output_locale", "locale_tag"}
	coarseFields = []string{"language", "lang", "locale"}
	sentinels    = map[string]struct{}{
		"": {}, "und": {}, "unknown": {}, "none": {}, "null": {}, "n/a": {}, "xx": {},
	}
)

// Resolver picks a locale for a document. It is deterministic and total:
// the result is never empty.
type Resolver struct {
	stops   *Stopwords
	window  int
	minHits int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWindow sets how many leading runes the heuristic inspects.
func WithWindow(n int) Option { return func(r *Resolver) { r.window = n } }

// WithMinHits sets the stopword hits the best locale must reach.
func WithMinHits(n int) Option { return func(r *Resolver) { r.minHits = n } }

// NewResolver builds a resolver over the given stopword tables.
func NewResolver(stops *Stopwords, opts ...Option) *Resolver {
	if stops == nil {
		stops = DefaultStopwords()
	}
	r := &Resolver{stops: stops, window: 2000, minHits: 3}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stopwords exposes the tables the resolver scores against.
func (r *Resolver) Stopwords() *Stopwords { return r.stops }

// Resolve returns, in order of preference, an explicit tag field, a coarse
// language field that is not a sentinel, or the locale whose stopwords hit
// most often in the first window runes of text (ties go to the lowest code)
// provided it reaches the minimum hit count. Otherwise Undetermined.
func (r *Resolver) Resolve(doc map[string]any, text string) string {
	for _, f := range tagFields {
		if v, ok := stringField(doc, f); ok {
			return v
		}
	}
	for _, f := range coarseFields {
		if v, ok := stringField(doc, f); ok {
			return v
		}
	}
	return r.Guess(text)
}

// Guess applies only the stopword heuristic.
func (r *Resolver) Guess(text string) string {
	if text == "" {
		return Undetermined
	}
	head := text
	if utf8.RuneCountInString(head) > r.window {
		head = string([]rune(head)[:r.window])
	}
	best, bestHits := Undetermined, 0
	for _, loc := range r.stops.Locales() {
		if h := r.stops.Hits(head, loc); h > bestHits {
			best, bestHits = loc, h
		}
	}
	if bestHits < r.minHits {
		return Undetermined
	}
	return best
}

func stringField(doc map[string]any, field string) (string, bool) {
	raw, ok := doc[field].(string)
	if !ok {
		return "", false
	}
	v := Normalize(raw)
	if _, bad := sentinels[v]; bad {
		return "", false
	}
	return v, true
}

// Normalize lowercases a tag and uses '-' as the subtag separator.
func Normalize(tag string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), "_", "-")
}

// Base returns the primary language subtag ("pt-br" -> "pt").
func Base(tag string) string {
	t := Normalize(tag)
	if i := strings.IndexByte(t, '-'); i >= 0 {
		return t[:i]
	}
	return t
}

// MatchesAny reports whether tag starts with one of the prefixes. An empty
// prefix list matches everything.
func MatchesAny(tag string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	t := Normalize(tag)
	for _, p := range prefixes {
		if p = Normalize(p); p != "" && strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// ParseList splits a comma-separated locale list, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := Normalize(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
