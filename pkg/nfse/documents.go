package nfse

import "strings"

// Tipos de documento fiscal do tomador/prestador.
const (
	DocumentCPF  = "CPF"
	DocumentCNPJ = "CNPJ"

	cpfLength  = 11
	cnpjLength = 14
)

// OnlyDigits remove tudo que não for dígito de um documento
// ("12.345.678/0001-99" -> "12345678000199").
func OnlyDigits(s string) string {
	var out []byte
	for _, b := range []byte(s) {
		if b >= '0' && b <= '9' {
			out = append(out, b)
		}
	}
	return string(out)
}

// ClassifyDocument limpa o documento e o classifica pelo comprimento:
// 11 dígitos = CPF, 14 dígitos = CNPJ. Qualquer outro comprimento
// devolve tipo vazio.
func ClassifyDocument(raw string) (digits, docType string) {
	digits = OnlyDigits(raw)
	switch len(digits) {
	case cpfLength:
		return digits, DocumentCPF
	case cnpjLength:
		return digits, DocumentCNPJ
	default:
		return digits, ""
	}
}

// IsCNPJ indica se o valor tem exatamente 14 dígitos após a limpeza.
func IsCNPJ(raw string) bool {
	_, t := ClassifyDocument(raw)
	return t == DocumentCNPJ
}

// IsCPF indica se o valor tem exatamente 11 dígitos após a limpeza.
func IsCPF(raw string) bool {
	_, t := ClassifyDocument(raw)
	return t == DocumentCPF
}

// MaskDocument redige parcialmente um identificador fiscal para trilha de
// auditoria: mantém os 3 primeiros e os 2 últimos dígitos.
// "12345678000199" -> "123*********99". Redação parcial, não omissão: o
// documento continua rastreável sem ficar exposto por inteiro no log.
func MaskDocument(doc string) string {
	digits := OnlyDigits(doc)
	if len(digits) <= 5 {
		return strings.Repeat("*", len(digits))
	}
	return digits[:3] + strings.Repeat("*", len(digits)-5) + digits[len(digits)-2:]
}
