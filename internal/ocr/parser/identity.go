package parser

import (
	"regexp"
	"strings"
	"time"

	"docverify/internal/shared/util"
)

// IdentityFields holds what could be read from an RG or CNH transcript.
// Empty strings mean the field was not found.
type IdentityFields struct {
	Name             string `json:"name,omitempty"`
	CPF              string `json:"cpf,omitempty"`
	RGNumber         string `json:"rg_number,omitempty"`
	CNHNumber        string `json:"cnh_number,omitempty"`
	IssueDate        string `json:"issue_date,omitempty"`
	ExpiryDate       string `json:"expiry_date,omitempty"`
	IssuingAuthority string `json:"issuing_authority,omitempty"`
	UF               string `json:"uf,omitempty"`
}

// Found counts the non-empty fields.
func (f IdentityFields) Found() int {
	n := 0
	for _, v := range []string{f.Name, f.CPF, f.RGNumber, f.CNHNumber, f.IssueDate, f.ExpiryDate, f.IssuingAuthority, f.UF} {
		if v != "" {
			n++
		}
	}
	return n
}

// DocumentNumber returns whichever registry number was found.
func (f IdentityFields) DocumentNumber() string {
	if f.RGNumber != "" {
		return f.RGNumber
	}
	return f.CNHNumber
}

// IdentityParse is the result of ParseIdentity.
type IdentityParse struct {
	Classification Classification
	Fields         IdentityFields
}

var (
	nameLabels     = []string{"NOME E SOBRENOME", "NOME CIVIL", "NOME SOCIAL", "NOME"}
	relativeLabels = []string{"MAE", "PAI", "FILIACAO", "GENITOR", "GENITORA"}
	cpfLabels      = []string{"CPF", "CIC"}
	cnhRegLabels   = []string{"NUMERO DO REGISTRO", "N DO REGISTRO", "N REGISTRO", "REGISTRO"}
	rgLabels       = []string{"REGISTRO GERAL", "DOC IDENTIDADE", "IDENTIDADE", "RG"}
	issueLabels    = []string{"DATA DE EMISSAO", "DATA EMISSAO", "DATA DE EXPEDICAO", "DATA EXPEDICAO", "EXPEDICAO", "EMISSAO"}
	expiryLabels   = []string{"DATA DE VALIDADE", "DATA VALIDADE", "VALIDADE", "VENCIMENTO"}
	authorityLabel = []string{"ORGAO EMISSOR", "ORGAO EXPEDIDOR", "EMISSOR", "EXPEDIDOR"}

	// Labels that end an inline value when several fields share one line.
	stopLabels = []string{
		"NOME", "CPF", "RG", "REGISTRO", "DATA", "VALIDADE", "EMISSAO", "EXPEDICAO",
		"ORGAO", "EMISSOR", "EXPEDIDOR", "FILIACAO", "NATURALIDADE", "NASCIMENTO",
		"DOC", "UF", "CAT", "HAB", "IDENTIDADE",
	}

	cpfRe         = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	numberRunRe   = regexp.MustCompile(`\d[\d.\-]*\d`)
	rgValueRe     = regexp.MustCompile(`\d[\d.\-]*(?:[\d]|-?X\b)`)
	registroRe    = regexp.MustCompile(`REGISTRO\D{0,20}(\d{9,11})(?:\D|$)`)
	rgFallbackRe  = regexp.MustCompile(`\bRG\b\D{0,20}(\d[\d.\-]*(?:\d|-?X\b))`)
	dateWindowRe  = regexp.MustCompile(`^\D{0,20}?(\d{2})[/-](\d{2})[/-](\d{4})`)
	ufInAuthority = regexp.MustCompile(`[/-]\s?([A-Z]{2})\b`)
	ufLabelRe     = regexp.MustCompile(`\bUF\W{0,3}([A-Z]{2})\b`)
)

// ParseIdentity classifies text and extracts identity fields.
func ParseIdentity(text string) IdentityParse {
	lines := Lines(text)
	full := strings.Join(lines, "\n")
	class := classifyLines(lines)

	f := IdentityFields{
		Name:             extractName(lines),
		CPF:              extractCPF(lines, full),
		IssueDate:        extractDate(full, issueLabels),
		ExpiryDate:       extractDate(full, expiryLabels),
		IssuingAuthority: extractAuthority(lines),
	}
	switch class.Type {
	case TypeCNH:
		f.CNHNumber = extractCNHNumber(lines, full)
	case TypeRG:
		f.RGNumber = extractRGNumber(lines, full)
	default:
		if rg := extractRGNumber(lines, full); rg != "" {
			f.RGNumber = rg
		} else {
			f.CNHNumber = extractCNHNumber(lines, full)
		}
	}
	f.UF = extractUF(f.IssuingAuthority, full)
	return IdentityParse{Classification: class, Fields: f}
}

// findLabel returns the first label present in line and the text after it.
func findLabel(line string, labels []string) (string, string, bool) {
	for _, label := range labels {
		if i := indexWord(line, label); i >= 0 {
			return label, line[i+len(label):], true
		}
	}
	return "", "", false
}

// cutAtStopLabel trims an inline value where the next field label begins.
func cutAtStopLabel(value string) string {
	cut := len(value)
	for _, label := range stopLabels {
		if i := indexWord(value, label); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(value[:cut])
}

// relativeLabel reports whether the name label between prefix and rest names
// a parent: "FILIACAO NOME ...", "NOME DA MAE ...", "NOME DO PAI ...".
func relativeLabel(prefix, rest string) bool {
	before := strings.Fields(prefix)
	if len(before) > 0 && isRelativeWord(before[len(before)-1]) {
		return true
	}
	after := strings.Fields(trimValue(rest))
	for i := 0; i < len(after) && i < 2; i++ {
		if isRelativeWord(after[i]) {
			return true
		}
	}
	return false
}

func isRelativeWord(w string) bool {
	for _, r := range relativeLabels {
		if w == r {
			return true
		}
	}
	return false
}

func extractName(lines []string) string {
	for i, line := range lines {
		label, rest, ok := findLabel(line, nameLabels)
		if !ok {
			continue
		}
		prefix := line[:len(line)-len(rest)-len(label)]
		if relativeLabel(prefix, rest) {
			continue
		}
		value := cutAtStopLabel(trimValue(rest))
		if len(value) > 2 {
			return value
		}
		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if len(next) > 2 {
				return next
			}
		}
	}
	return ""
}

func extractCPF(lines []string, full string) string {
	for _, line := range lines {
		_, rest, ok := findLabel(line, cpfLabels)
		if !ok {
			continue
		}
		if cpf := firstCPF(rest); cpf != "" {
			return cpf
		}
		if cpf := firstCPF(line); cpf != "" {
			return cpf
		}
	}
	return firstCPF(full)
}

func firstCPF(s string) string {
	for _, m := range cpfRe.FindAllString(s, -1) {
		if d := util.DigitsOnly(m); len(d) == 11 {
			return d
		}
	}
	return ""
}

func extractCNHNumber(lines []string, full string) string {
	for _, line := range lines {
		_, rest, ok := findLabel(line, cnhRegLabels)
		if !ok {
			continue
		}
		value := cutAtStopLabel(trimValue(rest))
		if m := numberRunRe.FindString(value); m != "" {
			if d := util.DigitsOnly(m); len(d) >= 9 && len(d) <= 11 {
				return d
			}
		}
	}
	if m := registroRe.FindStringSubmatch(full); m != nil {
		return m[1]
	}
	return ""
}

func extractRGNumber(lines []string, full string) string {
	for _, line := range lines {
		_, rest, ok := findLabel(line, rgLabels)
		if !ok {
			continue
		}
		value := cutAtStopLabel(trimValue(rest))
		if m := rgValueRe.FindString(value); m != "" {
			if rg := rgDigits(m); len(rg) >= 4 {
				return rg
			}
		}
	}
	if m := rgFallbackRe.FindStringSubmatch(full); m != nil {
		if rg := rgDigits(m[1]); len(rg) >= 4 {
			return rg
		}
	}
	return ""
}

// rgDigits keeps digits and a trailing X check digit.
func rgDigits(s string) string {
	d := util.DigitsOnly(s)
	if strings.HasSuffix(strings.TrimSpace(s), "X") && d != "" {
		return d + "X"
	}
	return d
}

func extractDate(full string, labels []string) string {
	for _, label := range labels {
		start := 0
		for start < len(full) {
			i := indexWord(full[start:], label)
			if i < 0 {
				break
			}
			pos := start + i + len(label)
			if m := dateWindowRe.FindStringSubmatch(full[pos:]); m != nil {
				if iso, ok := isoDate(m[1], m[2], m[3]); ok {
					return iso
				}
			}
			start = pos
		}
	}
	return ""
}

func isoDate(day, month, year string) (string, bool) {
	iso := year + "-" + month + "-" + day
	if _, err := time.Parse("2006-01-02", iso); err != nil {
		return "", false
	}
	return iso, true
}

func extractAuthority(lines []string) string {
	for i, line := range lines {
		_, rest, ok := findLabel(line, authorityLabel)
		if !ok {
			continue
		}
		value := cutAtStopLabel(trimValue(rest))
		if value != "" {
			return value
		}
		if i+1 < len(lines) {
			if next := strings.TrimSpace(lines[i+1]); next != "" {
				return next
			}
		}
	}
	return ""
}

func extractUF(authority, full string) string {
	if authority != "" {
		for _, m := range ufInAuthority.FindAllStringSubmatch(authority, -1) {
			if IsUF(m[1]) {
				return m[1]
			}
		}
	}
	for _, m := range ufLabelRe.FindAllStringSubmatch(full, -1) {
		if IsUF(m[1]) {
			return m[1]
		}
	}
	return ""
}
