// Package mathtext separates inline TeX math from prose in model answers and
// renders math to PNG images.
package mathtext

import "strings"

type Kind int

const (
	Text Kind = iota
	Math
)

func (k Kind) String() string {
	if k == Math {
		return "math"
	}
	return "text"
}

// Segment is one ordered piece of an answer. For Math segments Content holds
// the expression without its dollar delimiters.
type Segment struct {
	Kind    Kind
	Content string
}

// Split breaks text into Text and Math segments. Math is delimited by
// $$...$$ or $...$ where neither dollar is preceded by a backslash; the
// double form is tried first and both match the shortest non-empty body.
func Split(text string) []Segment {
	if text == "" {
		return []Segment{{Kind: Text}}
	}

	var segs []Segment
	last := 0
	for i := 0; i < len(text); i++ {
		if !isDelimiter(text, i) {
			continue
		}
		body, end, ok := matchAt(text, i)
		if !ok {
			continue
		}
		if i > last {
			segs = append(segs, Segment{Kind: Text, Content: text[last:i]})
		}
		segs = append(segs, Segment{Kind: Math, Content: body})
		last = end
		i = end - 1
	}
	if last < len(text) {
		segs = append(segs, Segment{Kind: Text, Content: text[last:]})
	}
	return segs
}

// HasMath reports whether any segment is math.
func HasMath(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind == Math {
			return true
		}
	}
	return false
}

func isDelimiter(text string, i int) bool {
	return text[i] == '$' && (i == 0 || text[i-1] != '\\')
}

// matchAt tries the $$ form and then the $ form at the opening dollar i. It
// returns the body and the index just past the closing delimiter.
func matchAt(text string, i int) (string, int, bool) {
	if strings.HasPrefix(text[i:], "$$") {
		for j := i + 3; j+1 < len(text); j++ {
			if isDelimiter(text, j) && text[j+1] == '$' {
				return text[i+2 : j], j + 2, true
			}
		}
	}
	for j := i + 2; j < len(text); j++ {
		if isDelimiter(text, j) {
			return text[i+1 : j], j + 1, true
		}
	}
	return "", 0, false
}
