package parser

import (
	"regexp"
	"strings"
)

// AddressFields holds what could be read from a proof-of-residence transcript.
type AddressFields struct {
	CEP          string `json:"cep,omitempty"`
	Street       string `json:"street,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	UF           string `json:"uf,omitempty"`
}

// Found counts the non-empty fields.
func (f AddressFields) Found() int {
	n := 0
	for _, v := range []string{f.CEP, f.Street, f.Neighborhood, f.City, f.UF} {
		if v != "" {
			n++
		}
	}
	return n
}

var ufCodes = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA", "MT", "MS", "MG", "PA",
	"PB", "PR", "PE", "PI", "RJ", "RN", "RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

var streetPrefixes = []string{
	"RUA", "R.", "AV", "AV.", "AVENIDA", "TRAVESSA", "TV", "TV.", "ALAMEDA", "AL", "AL.",
	"ESTRADA", "ROD", "RODOVIA", "PRACA", "LARGO", "VIA", "BECO",
}

var (
	cepRe      = regexp.MustCompile(`\b(\d{5})-?(\d{3})\b`)
	cityUFRe   = regexp.MustCompile(`([A-Z][A-Z' ]{1,40}?)\s*[-/,]\s*(` + strings.Join(ufCodes, "|") + `)\b`)
	whitespace = regexp.MustCompile(`\s+`)
)

// IsUF reports whether code is one of the 27 Brazilian state abbreviations.
func IsUF(code string) bool {
	for _, uf := range ufCodes {
		if uf == code {
			return true
		}
	}
	return false
}

// UFCodes returns a copy of the state abbreviation table.
func UFCodes() []string {
	return append([]string(nil), ufCodes...)
}

// ParseAddress extracts postal code, street, neighborhood and city/state.
func ParseAddress(text string) AddressFields {
	lines := Lines(text)
	var f AddressFields

	cepIdx := -1
	for i, line := range lines {
		if m := cepRe.FindStringSubmatch(line); m != nil {
			f.CEP = m[1] + m[2]
			cepIdx = i
			break
		}
	}
	if f.CEP == "" {
		flat := strings.Join(lines, " ")
		if m := cepRe.FindStringSubmatch(flat); m != nil {
			f.CEP = m[1] + m[2]
		}
	}

	if cepIdx > 0 {
		f.Street = whitespace.ReplaceAllString(lines[cepIdx-1]+" "+lines[cepIdx], " ")
	} else {
		for _, line := range lines {
			if isStreetLine(line) {
				f.Street = line
				break
			}
		}
	}

	for _, line := range lines {
		if m := cityUFRe.FindStringSubmatch(line); m != nil {
			city := strings.TrimSpace(m[1])
			if city != "" && !isStreetLine(city) {
				f.City = city
				f.UF = m[2]
				break
			}
		}
	}

	if cepIdx >= 2 {
		candidate := strings.TrimSpace(lines[cepIdx-2])
		if !isStreetLine(candidate) && !cepRe.MatchString(candidate) && len(candidate) >= 3 && len(candidate) <= 50 {
			f.Neighborhood = candidate
		}
	}
	return f
}

func isStreetLine(line string) bool {
	first, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	for _, prefix := range streetPrefixes {
		if first == prefix {
			return true
		}
	}
	return false
}
