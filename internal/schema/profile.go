// Package schema profiles loosely typed documents: per-field type
// distributions, coverage and string-length statistics, reduced from a
// sample of key-value maps.
package schema

import (
	"math"
	"sort"
	"strings"
)

// Value type labels used in type distributions.
const (
	TypeMissing = "missing"
	TypeNull    = "null"
	TypeBool    = "bool"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeOther   = "other"
)

// MaxDepth bounds how far nested objects are flattened into dotted paths.
const MaxDepth = 3

// contentMinAvgLength marks a string field as free text even when its name
// is not a known content field.
const contentMinAvgLength = 250

var (
	languageNames = set("language", "lang", "locale", "output_locale", "source_locale")
	titleNames    = set("title", "name", "filename", "doc_title")
	contentNames  = set("content", "text", "body", "answer", "message")
)

// FieldProfile summarizes one dotted field path across a sample.
type FieldProfile struct {
	TypeDistribution map[string]int `json:"type_distribution"`
	MissingPct       float64        `json:"missing_pct"`
	NullPct          float64        `json:"null_pct"`
	EmptyStringPct   float64        `json:"empty_string_pct"`
	EmptyArrayPct    float64        `json:"empty_array_pct"`
	AvgLength        float64        `json:"avg_length"`
	P50Length        float64        `json:"p50_length"`
	P95Length        int            `json:"p95_length"`
	CoveragePct      float64        `json:"coverage_pct"`
}

// Profile is the reduced view of a sample.
type Profile struct {
	Fields         map[string]FieldProfile `json:"field_profiles"`
	ContentFields  []string                `json:"content_fields"`
	LanguageFields []string                `json:"language_fields"`
	TitleFields    []string                `json:"title_fields"`
}

// Infer reduces samples into a Profile. Content fields are string fields that
// are either named like content or average more than 250 characters, ordered
// by descending average length.
func Infer(samples []map[string]any) Profile {
	p := Profile{
		Fields:         map[string]FieldProfile{},
		ContentFields:  []string{},
		LanguageFields: []string{},
		TitleFields:    []string{},
	}
	total := len(samples)
	if total == 0 {
		return p
	}

	flat := make([]map[string]any, total)
	pathSet := map[string]struct{}{}
	for i, s := range samples {
		flat[i] = Flatten(s, MaxDepth)
		for k := range flat[i] {
			pathSet[k] = struct{}{}
		}
	}
	paths := make([]string, 0, len(pathSet))
	for k := range pathSet {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	for _, path := range paths {
		p.Fields[path] = reduce(flat, path, total)
	}

	type weighted struct {
		path string
		avg  float64
	}
	var content []weighted
	for _, path := range paths {
		leaf := Leaf(path)
		if _, ok := languageNames[leaf]; ok {
			p.LanguageFields = append(p.LanguageFields, path)
		}
		if _, ok := titleNames[leaf]; ok {
			p.TitleFields = append(p.TitleFields, path)
		}
		fp := p.Fields[path]
		if fp.TypeDistribution[TypeString] == 0 {
			continue
		}
		if _, ok := contentNames[leaf]; ok || fp.AvgLength > contentMinAvgLength {
			content = append(content, weighted{path, fp.AvgLength})
		}
	}
	sort.SliceStable(content, func(i, j int) bool { return content[i].avg > content[j].avg })
	for _, c := range content {
		p.ContentFields = append(p.ContentFields, c.path)
	}
	return p
}

func reduce(flat []map[string]any, path string, total int) FieldProfile {
	fp := FieldProfile{TypeDistribution: map[string]int{}}
	var missing, null, emptyStr, emptyArr int
	var lengths []int
	for _, fs := range flat {
		v, ok := fs[path]
		if !ok {
			missing++
			fp.TypeDistribution[TypeMissing]++
			continue
		}
		fp.TypeDistribution[TypeOf(v)]++
		switch val := v.(type) {
		case nil:
			null++
		case string:
			if strings.TrimSpace(val) == "" {
				emptyStr++
			} else {
				lengths = append(lengths, len([]rune(val)))
			}
		case []any:
			if len(val) == 0 {
				emptyArr++
			}
		}
	}
	n := float64(total)
	fp.MissingPct = float64(missing) / n
	fp.NullPct = float64(null) / n
	fp.EmptyStringPct = float64(emptyStr) / n
	fp.EmptyArrayPct = float64(emptyArr) / n
	fp.CoveragePct = 1 - fp.MissingPct
	if len(lengths) > 0 {
		sort.Ints(lengths)
		sum := 0
		for _, l := range lengths {
			sum += l
		}
		fp.AvgLength = float64(sum) / float64(len(lengths))
		fp.P50Length = median(lengths)
		idx := int(math.RoundToEven(0.95 * float64(len(lengths)-1)))
		fp.P95Length = lengths[max(0, min(len(lengths)-1, idx))]
	}
	return fp
}

func median(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// TypeOf labels a decoded document value.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int, int32, int64, float32, float64, uint, uint32, uint64:
		return TypeNumber
	case string:
		return TypeString
	case []any, []string, []map[string]any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return TypeOther
	}
}

// Flatten maps every field, including nested object fields down to depth
// levels, to its dotted path. Object values stay present at their own path.
func Flatten(doc map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(doc))
	flattenInto(out, doc, depth, "")
	return out
}

func flattenInto(out, doc map[string]any, depth int, prefix string) {
	for k, v := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		out[path] = v
		if depth > 1 {
			if nested, ok := v.(map[string]any); ok {
				flattenInto(out, nested, depth-1, path)
			}
		}
	}
}

// Lookup resolves a dotted path in doc, returning nil when any segment is
// missing or not an object.
func Lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil
		}
	}
	return cur
}

// Leaf returns the lowercased last segment of a dotted path.
func Leaf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}

func set(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
