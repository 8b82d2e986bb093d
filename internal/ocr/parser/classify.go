package parser

// DocumentType is the family a transcript was classified into.
type DocumentType string

const (
	TypeRG      DocumentType = "RG"
	TypeCNH     DocumentType = "CNH"
	TypeUnknown DocumentType = "UNKNOWN"
)

// Known reports whether t is RG or CNH.
func (t DocumentType) Known() bool {
	return t == TypeRG || t == TypeCNH
}

var rgKeywords = []string{
	"REGISTRO GERAL",
	"CARTEIRA DE IDENTIDADE",
	"SECRETARIA DA SEGURANCA PUBLICA",
	"SECRETARIA DE SEGURANCA PUBLICA",
	"INSTITUTO DE IDENTIFICACAO",
	"LEI N 7.116",
	"VALIDA EM TODO O TERRITORIO NACIONAL",
	"FILIACAO",
	"NATURALIDADE",
	"DOC ORIGEM",
}

var cnhKeywords = []string{
	"CARTEIRA NACIONAL DE HABILITACAO",
	"HABILITACAO",
	"DETRAN",
	"PERMISSAO",
	"CAT HAB",
	"1A HABILITACAO",
	"ACC",
	"RENACH",
	"DENATRAN",
	"MINISTERIO DA INFRAESTRUTURA",
	"N REGISTRO",
}

// Classification is the outcome of keyword scoring.
type Classification struct {
	Type     DocumentType `json:"type"`
	RGScore  int          `json:"rgScore"`
	CNHScore int          `json:"cnhScore"`
	Matched  []string     `json:"matched"`
}

// Classify scores text against both keyword families. Each keyword counts
// once no matter how often it appears. The strictly higher nonzero score
// wins; anything else is UNKNOWN.
func Classify(text string) Classification {
	return classifyLines(Lines(text))
}

func classifyLines(lines []string) Classification {
	out := Classification{Type: TypeUnknown, Matched: []string{}}
	out.RGScore = scoreKeywords(lines, rgKeywords, &out.Matched)
	out.CNHScore = scoreKeywords(lines, cnhKeywords, &out.Matched)
	switch {
	case out.RGScore > out.CNHScore && out.RGScore > 0:
		out.Type = TypeRG
	case out.CNHScore > out.RGScore && out.CNHScore > 0:
		out.Type = TypeCNH
	}
	return out
}

func scoreKeywords(lines []string, keywords []string, matched *[]string) int {
	score := 0
	for _, kw := range keywords {
		for _, line := range lines {
			if containsWord(line, kw) {
				score++
				*matched = append(*matched, kw)
				break
			}
		}
	}
	return score
}
