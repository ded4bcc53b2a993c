package textnorm

import "iter"

// Chunks yields overlapping windows of size runes over text. Consecutive
// windows share overlap runes, the last window always ends at the end of the
// text, and the window start advances by at least one rune even when
// overlap >= size. Empty text yields nothing. The sequence can be ranged
// over any number of times.
func Chunks(text string, size, overlap int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		r := []rune(text)
		n := len(r)
		if size <= 0 {
			yield(text)
			return
		}
		start := 0
		for start < n {
			end := min(n, start+size)
			if !yield(string(r[start:end])) {
				return
			}
			if end == n {
				return
			}
			start = max(end-overlap, start+1)
		}
	}
}

// SplitChunks collects Chunks into a slice.
func SplitChunks(text string, size, overlap int) []string {
	var out []string
	for c := range Chunks(text, size, overlap) {
		out = append(out, c)
	}
	return out
}

// CountChunks is the number of windows Chunks yields for a text of length
// runes when 0 <= overlap < size: ceil((length-overlap)/(size-overlap)),
// at least 1 for non-empty text.
func CountChunks(length, size, overlap int) int {
	if length <= 0 {
		return 0
	}
	if size <= 0 || length <= size {
		return 1
	}
	if overlap >= size {
		// Every window advances by exactly one rune.
		return length - size + 1
	}
	step := size - overlap
	n := (length - overlap + step - 1) / step
	if n < 1 {
		return 1
	}
	return n
}
