package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lower and trailing spaces", "Fluffy has a fever.  ", "fluffy has a fever."},
		{"yo fold", "Ёжик ЁЛКА", "ежик елка"},
		{"control chars", "a\tb\r\nc\fd", "a b c d"},
		{"repeated punctuation", "Help!!! Now??? ok...", "help! now? ok."},
		{"mixed punctuation kept", "wait?! fine.", "wait?! fine."},
		{"page line", "Симптомы\nСтраница 12\nрвота", "симптомы рвота"},
		{"page only", "Page 3", ""},
		{"english page line kept inside sentence", "see page 3 of the leaflet", "see page 3 of the leaflet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_FluffyScenario(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Normalize("Fluffy has a fever.  "), Normalize("fluffy has a fever."))
}

func TestFoldDiacritics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nao voce", FoldDiacritics("não você"))
	assert.Equal(t, "plain", FoldDiacritics("plain"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "при", Truncate("привет", 3))
	assert.Equal(t, "hi", Truncate("hi", 10))
	assert.Equal(t, "", Truncate("hi", 0))
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	got := SplitSentences("Dog is ill. Call the vet!  Is it urgent? yes")
	assert.Equal(t, []string{"Dog is ill.", "Call the vet!", "Is it urgent?", "yes"}, got)
	assert.Empty(t, SplitSentences("   "))
	assert.Equal(t, []string{"v1.2 release"}, SplitSentences("v1.2 release"))
}

func TestFirstSentence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "First part", FirstSentence("First part. Second part."))
	assert.Equal(t, "Line one line two", FirstSentence("Line one\nline two"))
	assert.Equal(t, "", FirstSentence(""))
	long := strings.Repeat("я", 400)
	assert.Equal(t, 260, utf8.RuneCountInString(FirstSentence(long)))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"dog", "has", "fever"}, Tokens("Dog has a fever 39.5", 2))
}

func TestChunks_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, SplitChunks("", 10, 2))
	assert.Equal(t, 0, CountChunks(0, 10, 2))
}

func TestChunks_CoverageAndCount(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdefghij", 37) + "xyz" // 373 runes
	L := utf8.RuneCountInString(text)

	for _, tc := range []struct{ size, overlap int }{
		{10, 0}, {10, 3}, {100, 25}, {1500, 250}, {7, 6}, {373, 0}, {400, 10},
	} {
		chunks := SplitChunks(text, tc.size, tc.overlap)
		require.NotEmpty(t, chunks)
		assert.Equal(t, CountChunks(L, tc.size, tc.overlap), len(chunks), "size=%d overlap=%d", tc.size, tc.overlap)

		// Last chunk ends exactly at the end of the text.
		assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))

		// Reassembling the non-overlapping parts reproduces the text.
		var b strings.Builder
		b.WriteString(chunks[0])
		for _, c := range chunks[1:] {
			r := []rune(c)
			b.WriteString(string(r[min(tc.overlap, len(r)):]))
		}
		// The final window may overlap the previous one by more than
		// overlap runes; coverage still holds.
		assert.GreaterOrEqual(t, utf8.RuneCountInString(b.String()), L)
		assert.True(t, strings.HasPrefix(b.String(), text[:min(len(text), 50)]))
	}
}

func TestChunks_OverlapNotLessThanSize(t *testing.T) {
	t.Parallel()

	chunks := SplitChunks("abcdef", 2, 5)
	assert.Equal(t, []string{"ab", "bc", "cd", "de", "ef"}, chunks)
	assert.Equal(t, 5, CountChunks(6, 2, 5))
}

func TestChunks_Multibyte(t *testing.T) {
	t.Parallel()

	chunks := SplitChunks("собака", 4, 2)
	assert.Equal(t, []string{"соба", "бака"}, chunks)
}

func TestChunks_Restartable(t *testing.T) {
	t.Parallel()

	seq := Chunks("abcdefghij", 4, 1)
	first := collect(seq)
	second := collect(seq)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, first)
}

func TestChunks_EarlyStop(t *testing.T) {
	t.Parallel()

	n := 0
	for range Chunks(strings.Repeat("a", 100), 10, 0) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func collect(seq func(func(string) bool)) []string {
	var out []string
	seq(func(s string) bool {
		out = append(out, s)
		return true
	})
	return out
}
