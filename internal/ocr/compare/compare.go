// Package compare matches extracted identity fields against the claimant's
// reference identity.
package compare

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"
	"unicode"

	"docverify/internal/ocr/parser"
)

const (
	DefaultThreshold = 0.2
	MinThreshold     = 0.05
	MaxThreshold     = 0.5
)

// Mismatch reasons.
const (
	ReasonName = "name"
	ReasonCPF  = "cpf"
)

var stopwords = map[string]struct{}{
	"DA": {}, "DE": {}, "DO": {}, "DAS": {}, "DOS": {}, "E": {},
}

// Extracted is the subset of parsed fields used for comparison.
type Extracted struct {
	Name string
	CPF  string
}

// Reference is the claimant's self-reported identity.
type Reference struct {
	FullName string
	CPFHash  string
}

// Result reports name and CPF agreement.
type Result struct {
	Mismatch       bool     `json:"mismatch"`
	Reasons        []string `json:"reasons"`
	NameSimilarity float64  `json:"nameSimilarity"`
	NameDivergence float64  `json:"nameDivergence"`
	NameThreshold  float64  `json:"nameThreshold"`
	NameCompared   bool     `json:"nameCompared"`
	CPFMatches     *bool    `json:"cpfMatches,omitempty"`
}

// NormalizeName folds case and diacritics, drops punctuation and Portuguese
// connectives, and collapses whitespace.
func NormalizeName(s string) string {
	folded := strings.ToUpper(parser.FoldDiacritics(s))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	words := strings.Fields(cleaned)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Levenshtein returns the edit distance between a and b in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - distance/maxLen over normalized names. Absent input on
// either side yields 0.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	longest := max(len([]rune(na)), len([]rune(nb)))
	return 1 - float64(Levenshtein(na, nb))/float64(longest)
}

// ClampThreshold accepts a ratio or a percentage and clamps it to
// [MinThreshold, MaxThreshold]. Invalid input falls back to the default.
func ClampThreshold(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return DefaultThreshold
	}
	if v > 1 {
		v /= 100
	}
	return math.Min(MaxThreshold, math.Max(MinThreshold, v))
}

// ParseThreshold reads a threshold such as "0.15", "15" or "15%".
func ParseThreshold(raw string) float64 {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if raw == "" {
		return DefaultThreshold
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultThreshold
	}
	return ClampThreshold(v)
}

// Compare checks extracted fields against ref. hashCPF must be the same
// one-way function that produced ref.CPFHash.
func Compare(got Extracted, ref Reference, threshold float64, hashCPF func(string) string) Result {
	res := Result{
		Reasons:       []string{},
		NameThreshold: ClampThreshold(threshold),
	}

	if strings.TrimSpace(got.Name) != "" && strings.TrimSpace(ref.FullName) != "" {
		res.NameCompared = true
		res.NameSimilarity = Similarity(got.Name, ref.FullName)
		res.NameDivergence = 1 - res.NameSimilarity
		if res.NameDivergence > res.NameThreshold {
			res.Reasons = append(res.Reasons, ReasonName)
		}
	}

	if got.CPF != "" && ref.CPFHash != "" && hashCPF != nil {
		hashed := hashCPF(got.CPF)
		matches := subtle.ConstantTimeCompare([]byte(hashed), []byte(ref.CPFHash)) == 1
		res.CPFMatches = &matches
		if !matches {
			res.Reasons = append(res.Reasons, ReasonCPF)
		}
	}

	res.Mismatch = len(res.Reasons) > 0
	return res
}
