// Package textnorm normalizes raw document text and splits it into
// overlapping evidence windows.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	controlRe    = regexp.MustCompile(`[\t\r\f\v]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	pageLineRe   = regexp.MustCompile(`^\s*(страница|page|página|pagina|ukurasa)\s+\d+\s*$`)
)

// Normalize lowercases s, folds ё to е, drops page-number boilerplate lines,
// collapses runs of the same punctuation mark and collapses whitespace.
// Two texts that differ only in those respects normalize identically.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := strings.ToLower(s)
	t = strings.ReplaceAll(t, "ё", "е")
	t = stripPageLines(t)
	t = controlRe.ReplaceAllString(t, " ")
	t = collapsePunct(t)
	t = whitespaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

func stripPageLines(s string) string {
	if !strings.Contains(s, "\n") {
		if pageLineRe.MatchString(s) {
			return ""
		}
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if pageLineRe.MatchString(ln) {
			continue
		}
		kept = append(kept, ln)
	}
	return strings.Join(kept, "\n")
}

// collapsePunct reduces "!!!" to "!" and "..." to "." (same mark only).
func collapsePunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		if r == prev && strings.ContainsRune("!?.,;:", r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// FoldDiacritics strips combining marks ("não" becomes "nao"). Used for
// tolerant token matching, never for ids.
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// SplitSentences splits on whitespace that follows '.', '!' or '?'.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	var prev rune
	for _, r := range text {
		if unicode.IsSpace(r) && (prev == '.' || prev == '!' || prev == '?') {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
			prev = r
			continue
		}
		cur.WriteRune(r)
		prev = r
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// FirstSentence returns the first non-empty period-delimited fragment,
// capped at 260 runes.
func FirstSentence(text string) string {
	if text == "" {
		return ""
	}
	for _, part := range strings.Split(strings.ReplaceAll(text, "\n", " "), ".") {
		if p := strings.TrimSpace(part); p != "" {
			return Truncate(p, 260)
		}
	}
	return Truncate(text, 260)
}

// Tokens splits text into lowercase letter runs of at least minLen runes.
func Tokens(text string, minLen int) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) >= minLen {
			out = append(out, string(cur))
		}
		cur = cur[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			cur = append(cur, unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}
