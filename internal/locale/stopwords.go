package locale

import (
	"bufio"
	"embed"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vet-analytics/internal/textnorm"
)

//go:embed stopwords/*.txt
var embedded embed.FS

// Stopwords holds per-locale stopword sets keyed by base language code.
type Stopwords struct {
	byLocale map[string]map[string]struct{}
}

// DefaultStopwords returns the embedded ru/pt/sw/en lists.
func DefaultStopwords() *Stopwords {
	s := &Stopwords{byLocale: make(map[string]map[string]struct{})}
	// The embedded lists are part of the binary; a read failure is a build defect.
	if err := s.loadFS(embedded, "stopwords"); err != nil {
		panic(err)
	}
	return s
}

// LoadStopwords returns the embedded lists extended with every <locale>.txt
// file in dir. An empty dir yields the defaults.
func LoadStopwords(dir string) (*Stopwords, error) {
	s := DefaultStopwords()
	if dir == "" {
		return s, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, eris.Wrapf(err, "locale: stopwords dir %s", dir)
	}
	if err := s.loadFS(os.DirFS(dir), "."); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stopwords) loadFS(fsys fs.FS, dir string) error {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(dir, "*.txt")))
	if err != nil {
		return eris.Wrap(err, "locale: glob stopwords")
	}
	for _, m := range matches {
		f, err := fsys.Open(m)
		if err != nil {
			return eris.Wrapf(err, "locale: open %s", m)
		}
		loc := Base(strings.TrimSuffix(filepath.Base(m), ".txt"))
		err = s.read(loc, f)
		_ = f.Close()
		if err != nil {
			return eris.Wrapf(err, "locale: read %s", m)
		}
	}
	return nil
}

func (s *Stopwords) read(loc string, r io.Reader) error {
	set, ok := s.byLocale[loc]
	if !ok {
		set = make(map[string]struct{})
		s.byLocale[loc] = set
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		w := strings.ToLower(strings.TrimSpace(sc.Text()))
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		set[w] = struct{}{}
		set[textnorm.FoldDiacritics(w)] = struct{}{}
	}
	return sc.Err()
}

// Locales returns the known locale codes in sorted order.
func (s *Stopwords) Locales() []string {
	out := make([]string, 0, len(s.byLocale))
	for loc := range s.byLocale {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// List returns the sorted union of the lists for locales (matched by base
// code). No locales means every list.
func (s *Stopwords) List(locales ...string) []string {
	merged := make(map[string]struct{})
	add := func(set map[string]struct{}) {
		for w := range set {
			merged[w] = struct{}{}
		}
	}
	if len(locales) == 0 {
		for _, set := range s.byLocale {
			add(set)
		}
	} else {
		for _, loc := range locales {
			add(s.byLocale[Base(loc)])
		}
	}
	out := make([]string, 0, len(merged))
	for w := range merged {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Set is List as a lookup set.
func (s *Stopwords) Set(locales ...string) map[string]struct{} {
	list := s.List(locales...)
	out := make(map[string]struct{}, len(list))
	for _, w := range list {
		out[w] = struct{}{}
	}
	return out
}

// Hits counts whitespace-separated tokens of text found in the list for loc.
func (s *Stopwords) Hits(text, loc string) int {
	set := s.byLocale[Base(loc)]
	if len(set) == 0 {
		return 0
	}
	n := 0
	for _, tok := range strings.Fields(text) {
		tok = strings.ToLower(strings.Trim(tok, ".,;:!?()[]{}\"'«»—-"))
		if tok == "" {
			continue
		}
		if _, ok := set[tok]; ok {
			n++
			continue
		}
		if _, ok := set[textnorm.FoldDiacritics(tok)]; ok {
			n++
		}
	}
	return n
}
