// Package vector is the vectorization and clustering capability: sparse
// TF-IDF over word unigrams and bigrams, seeded k-means and cosine
// similarity. Results are deterministic for a fixed seed.
package vector

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrEmptyCorpus is returned when there is nothing to vectorize: no texts, or
// texts that produce no terms after stopword removal.
var ErrEmptyCorpus = eris.New("vector: empty corpus")

// Options configures the vectorizer.
type Options struct {
	// Stopwords are dropped before n-grams are built.
	Stopwords map[string]struct{}
	// MaxFeatures keeps the most frequent terms across the corpus. 0 keeps all.
	MaxFeatures int
	// MinTokenLen is the shortest letter run kept as a token.
	MinTokenLen int
	// MaxNGram is the longest n-gram built from consecutive tokens.
	MaxNGram int
}

// DefaultOptions mirrors the corpus-wide vectorizer: uni+bigrams, letter
// tokens of two or more characters, 30000 features.
func DefaultOptions() Options {
	return Options{MaxFeatures: 30000, MinTokenLen: 2, MaxNGram: 2}
}

func (o Options) withDefaults() Options {
	if o.MinTokenLen <= 0 {
		o.MinTokenLen = 2
	}
	if o.MaxNGram <= 0 {
		o.MaxNGram = 1
	}
	return o
}

// Vector is a sparse row with ascending indices.
type Vector struct {
	Idx []int
	Val []float64
}

// Len is the number of non-zero entries.
func (v Vector) Len() int { return len(v.Idx) }

// Norm is the Euclidean length.
func (v Vector) Norm() float64 {
	var s float64
	for _, x := range v.Val {
		s += x * x
	}
	return math.Sqrt(s)
}

// Dot is the inner product of two sparse rows.
func (v Vector) Dot(o Vector) float64 {
	var s float64
	i, j := 0, 0
	for i < len(v.Idx) && j < len(o.Idx) {
		switch {
		case v.Idx[i] == o.Idx[j]:
			s += v.Val[i] * o.Val[j]
			i++
			j++
		case v.Idx[i] < o.Idx[j]:
			i++
		default:
			j++
		}
	}
	return s
}

// Model is a fitted vocabulary with inverse document frequencies.
type Model struct {
	terms []string
	index map[string]int
	idf   []float64
	opts  Options
}

// Dim is the vocabulary size.
func (m *Model) Dim() int { return len(m.terms) }

// Terms returns the vocabulary in index order (alphabetical).
func (m *Model) Terms() []string { return m.terms }

// Fit learns a vocabulary from texts and returns the transformed rows.
func Fit(texts []string, opts Options) (*Model, []Vector, error) {
	if len(texts) == 0 {
		return nil, nil, ErrEmptyCorpus
	}
	opts = opts.withDefaults()

	analyzed := make([][]string, len(texts))
	df := map[string]int{}
	tf := map[string]int{}
	for i, t := range texts {
		terms := Analyze(t, opts)
		analyzed[i] = terms
		seen := map[string]struct{}{}
		for _, term := range terms {
			tf[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}
	if len(df) == 0 {
		return nil, nil, ErrEmptyCorpus
	}

	vocab := make([]string, 0, len(df))
	for term := range df {
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)
	if opts.MaxFeatures > 0 && len(vocab) > opts.MaxFeatures {
		sort.SliceStable(vocab, func(i, j int) bool { return tf[vocab[i]] > tf[vocab[j]] })
		vocab = vocab[:opts.MaxFeatures]
		sort.Strings(vocab)
	}

	m := &Model{
		terms: vocab,
		index: make(map[string]int, len(vocab)),
		idf:   make([]float64, len(vocab)),
		opts:  opts,
	}
	n := float64(len(texts))
	for i, term := range vocab {
		m.index[term] = i
		m.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	rows := make([]Vector, len(texts))
	for i, terms := range analyzed {
		rows[i] = m.vectorize(terms)
	}
	return m, rows, nil
}

// Transform vectorizes texts against the fitted vocabulary. Unknown terms are
// ignored.
func (m *Model) Transform(texts []string) []Vector {
	rows := make([]Vector, len(texts))
	for i, t := range texts {
		rows[i] = m.vectorize(Analyze(t, m.opts))
	}
	return rows
}

func (m *Model) vectorize(terms []string) Vector {
	counts := map[int]float64{}
	for _, term := range terms {
		if idx, ok := m.index[term]; ok {
			counts[idx]++
		}
	}
	v := Vector{Idx: make([]int, 0, len(counts)), Val: make([]float64, 0, len(counts))}
	for idx := range counts {
		v.Idx = append(v.Idx, idx)
	}
	sort.Ints(v.Idx)
	var norm float64
	for _, idx := range v.Idx {
		w := counts[idx] * m.idf[idx]
		v.Val = append(v.Val, w)
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v.Val {
			v.Val[i] /= norm
		}
	}
	return v
}

// TopTerms returns up to n vocabulary terms with the largest positive weights
// in a dense row, ties broken by vocabulary order.
func (m *Model) TopTerms(weights []float64, n int) []string {
	idx := make([]int, 0, len(weights))
	for i, w := range weights {
		if w > 0 && i < len(m.terms) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return weights[idx[a]] > weights[idx[b]] })
	if len(idx) > n {
		idx = idx[:n]
	}
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = m.terms[j]
	}
	return out
}

// Analyze lowercases text, splits it into letter-only word tokens, drops
// stopwords and returns the tokens followed by their n-grams.
func Analyze(text string, opts Options) []string {
	opts = opts.withDefaults()
	tokens := Tokenize(text, opts.MinTokenLen)
	if len(opts.Stopwords) > 0 {
		kept := tokens[:0]
		for _, t := range tokens {
			if _, stop := opts.Stopwords[t]; !stop {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}
	out := append([]string(nil), tokens...)
	for n := 2; n <= opts.MaxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

// Tokenize returns lowercased word runs that consist only of letters and are
// at least minLen runes long. Runs mixing letters with digits or underscores
// are dropped whole.
func Tokenize(text string, minLen int) []string {
	var out []string
	var cur []rune
	lettersOnly := true
	flush := func() {
		if len(cur) >= minLen && lettersOnly {
			out = append(out, string(cur))
		}
		cur = cur[:0]
		lettersOnly = true
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsMark(r):
			cur = append(cur, r)
		case unicode.IsDigit(r) || r == '_':
			cur = append(cur, r)
			lettersOnly = false
		default:
			flush()
		}
	}
	flush()
	return out
}
