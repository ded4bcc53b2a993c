package extract

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vet-analytics/internal/textnorm"
)

//go:embed cues.yaml
var defaultCues []byte

// CueTable maps atom types to the substrings and sentence patterns that
// identify them.
type CueTable struct {
	Cues     map[string][]string `yaml:"cues" json:"cues"`
	Patterns map[string]string   `yaml:"patterns" json:"patterns"`
	Headings []string            `yaml:"headings" json:"headings"`

	types    []string
	compiled map[string]*regexp.Regexp
	headings map[string]struct{}
}

// DefaultCues returns the embedded cue table.
func DefaultCues() *CueTable {
	t, err := ParseCues(defaultCues)
	// The embedded table ships with the binary; a parse failure is a build defect.
	if err != nil {
		panic(err)
	}
	return t
}

// LoadCues reads a YAML or JSON cue file. Cues in the file replace the
// defaults; patterns and headings fall back to the defaults when the file
// has none. An empty path yields the defaults.
func LoadCues(path string) (*CueTable, error) {
	if path == "" {
		return DefaultCues(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read cues %s", path)
	}
	t, err := ParseCues(data)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: cues %s", path)
	}
	return t, nil
}

// ParseCues decodes a cue document. Besides the sectioned layout a flat
// {type: [cues]} mapping is accepted.
func ParseCues(data []byte) (*CueTable, error) {
	var t CueTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "extract: parse cues")
	}
	if len(t.Cues) == 0 {
		var flat map[string][]string
		if err := yaml.Unmarshal(data, &flat); err != nil {
			return nil, eris.Wrap(err, "extract: parse flat cues")
		}
		t.Cues = flat
	}
	if len(t.Cues) == 0 {
		return nil, eris.New("extract: cue table has no atom types")
	}
	if len(t.Patterns) == 0 || len(t.Headings) == 0 {
		var def CueTable
		if err := yaml.Unmarshal(defaultCues, &def); err != nil {
			return nil, eris.Wrap(err, "extract: parse default cues")
		}
		if len(t.Patterns) == 0 {
			t.Patterns = def.Patterns
		}
		if len(t.Headings) == 0 {
			t.Headings = def.Headings
		}
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *CueTable) compile() error {
	seen := make(map[string]struct{})
	for typ, list := range t.Cues {
		norm := make([]string, 0, len(list))
		for _, c := range list {
			if c = textnorm.Normalize(c); c != "" {
				norm = append(norm, c)
			}
		}
		t.Cues[typ] = norm
		seen[typ] = struct{}{}
	}

	t.compiled = make(map[string]*regexp.Regexp, len(t.Patterns))
	for typ, p := range t.Patterns {
		re, err := regexp.Compile("(?i)" + strings.TrimSpace(p))
		if err != nil {
			return eris.Wrapf(err, "extract: pattern for %s", typ)
		}
		t.compiled[typ] = re
		seen[typ] = struct{}{}
	}

	t.types = make([]string, 0, len(seen))
	for typ := range seen {
		t.types = append(t.types, typ)
	}
	sort.Strings(t.types)

	t.headings = make(map[string]struct{}, len(t.Headings))
	for _, h := range t.Headings {
		t.headings[textnorm.Normalize(h)] = struct{}{}
	}
	return nil
}

// Types lists every atom type the table knows, sorted.
func (t *CueTable) Types() []string { return t.types }

// PatternTypes lists the types that have a sentence pattern, sorted.
func (t *CueTable) PatternTypes() []string {
	out := make([]string, 0, len(t.compiled))
	for _, typ := range t.types {
		if _, ok := t.compiled[typ]; ok {
			out = append(out, typ)
		}
	}
	return out
}

// Match returns the types whose cues occur in the normalized line, in type
// order.
func (t *CueTable) Match(normLine string) []string {
	var out []string
	for _, typ := range t.types {
		for _, c := range t.Cues[typ] {
			if strings.Contains(normLine, c) {
				out = append(out, typ)
				break
			}
		}
	}
	return out
}

// MatchPattern reports whether the sentence pattern of typ matches s.
func (t *CueTable) MatchPattern(typ, s string) bool {
	re, ok := t.compiled[typ]
	return ok && re.MatchString(s)
}

// IsHeading reports whether the normalized line is a known section heading.
func (t *CueTable) IsHeading(normLine string) bool {
	_, ok := t.headings[normLine]
	return ok
}
