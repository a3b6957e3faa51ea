package nfse

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldName remove acentuação de nomes e descrições antes da renderização XML
// ("João & Cia Ltda" -> "Joao & Cia Ltda"). Vários webservices municipais
// rejeitam caracteres fora do ASCII básico no corpo da nota.
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
