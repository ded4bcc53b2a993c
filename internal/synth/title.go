package synth

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/vet-analytics/internal/model"
)

const (
	titleKeywords  = 3
	minTitleTokens = 2
	minTokenRunes  = 3
)

// Title builds a concept title from its first three informative keywords.
// A keyword is informative when none of its words is short, a stopword or a
// number. When none qualify the locale's fallback title is used, so the
// result is never empty. The second return value is the title source.
func Title(keywords []string, stops map[string]struct{}, loc string, clusterIndex int) (string, string) {
	var picked []string
	for _, kw := range keywords {
		if informative(kw, stops) {
			picked = append(picked, kw)
			if len(picked) == titleKeywords {
				break
			}
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, ", "), model.TitleFromKeywords
	}
	return FallbackTitle(loc, clusterIndex), model.TitleFallback
}

// FallbackTitle renders the locale's placeholder title for a cluster.
func FallbackTitle(loc string, clusterIndex int) string {
	return strings.ReplaceAll(TemplateFor(loc).FallbackTitle, "{n}", strconv.Itoa(clusterIndex))
}

func informative(kw string, stops map[string]struct{}) bool {
	words := strings.Fields(strings.ToLower(kw))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if weakToken(w, stops) {
			return false
		}
	}
	return true
}

func weakToken(t string, stops map[string]struct{}) bool {
	if utf8.RuneCountInString(t) < minTokenRunes || isDigits(t) {
		return true
	}
	_, stop := stops[t]
	return stop
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// BadTitle flags titles a reviewer would reject: fewer than two
// comma-separated parts, or parts that are all short, stopwords or numbers.
func BadTitle(title string, stops map[string]struct{}) bool {
	var parts []string
	for _, p := range strings.Split(title, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < minTitleTokens {
		return true
	}
	for _, p := range parts {
		if !weakToken(p, stops) {
			return false
		}
	}
	return true
}
