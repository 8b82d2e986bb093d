// Package parser extracts identity and address fields from plain-text
// transcripts of Brazilian documents. Every function is total: fields that
// cannot be located are left empty.
package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldDiacritics removes combining marks ("JOÃO" -> "JOAO").
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize strips diacritics, uppercases, collapses whitespace inside each
// line and drops empty lines. Line structure is kept.
func Normalize(text string) string {
	return strings.Join(Lines(text), "\n")
}

// Lines returns the normalized non-empty lines of text.
func Lines(text string) []string {
	folded := strings.ToUpper(FoldDiacritics(text))
	folded = strings.ReplaceAll(folded, "\r\n", "\n")
	folded = strings.ReplaceAll(folded, "\r", "\n")
	raw := strings.Split(folded, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// containsWord reports whether label appears in line on word boundaries.
func containsWord(line, label string) bool {
	return indexWord(line, label) >= 0
}

// indexWord returns the byte index of label in line on word boundaries, or -1.
func indexWord(line, label string) int {
	start := 0
	for {
		i := strings.Index(line[start:], label)
		if i < 0 {
			return -1
		}
		i += start
		end := i + len(label)
		if isBoundary(line, i-1) && isBoundary(line, end) {
			return i
		}
		start = i + 1
		if start >= len(line) {
			return -1
		}
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z')
}

// trimValue drops leading separators left after a label ("NOME: X" -> "X").
func trimValue(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, " :-./\t|"))
}
