// Package nfse contém catálogos e validações do layout ABRASF de NFS-e
// (Nota Fiscal de Serviços eletrônica municipal).
package nfse

import "github.com/shopspring/decimal"

// =============================================================================
// Códigos fixos do RPS (Recibo Provisório de Serviços) no layout ABRASF.
// =============================================================================

const (
	// RPSTypeRPS tipo 1 = RPS comum (2 = nota conjugada, 3 = cupom).
	RPSTypeRPS = "1"
	// RPSStatusNormal situação 1 = normal (2 = cancelado).
	RPSStatusNormal = "1"

	// ISSRetainedYes / ISSRetainedNo valores do campo IssRetido no XML.
	ISSRetainedYes = "1"
	ISSRetainedNo  = "2"
)

// =============================================================================
// Lista de serviços municipal (subconjunto da LC 116/2003, item.subitem sem
// ponto). Códigos desconhecidos são rejeitados na normalização.
// =============================================================================

// ServiceCodes códigos de serviço reconhecidos e sua descrição resumida.
var ServiceCodes = map[string]string{
	"101":  "Análise e desenvolvimento de sistemas",
	"102":  "Programação",
	"103":  "Processamento de dados",
	"104":  "Elaboração de programas de computadores",
	"105":  "Licenciamento de software",
	"106":  "Assessoria e consultoria em informática",
	"107":  "Suporte técnico em informática",
	"108":  "Planejamento e confecção de páginas eletrônicas",
	"1401": "Lubrificação, limpeza e revisão de máquinas",
	"1601": "Serviços de transporte municipal",
	"1701": "Assessoria ou consultoria de qualquer natureza",
	"2501": "Serviços funerários",
}

// IsKnownServiceCode indica se o código consta na lista de serviços.
func IsKnownServiceCode(code string) bool {
	_, ok := ServiceCodes[code]
	return ok
}

// =============================================================================
// Faixas de alíquota de ISS por código de serviço. A chave "default" é a
// faixa aplicada quando o código não tem faixa própria; nunca se assume
// faixa ilimitada.
// =============================================================================

// TaxBand faixa de alíquota aceita (fração: 0.02 = 2%).
type TaxBand struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultTaxBandKey chave da faixa padrão no mapa de faixas.
const DefaultTaxBandKey = "default"

// TaxBands faixa de alíquota por código de serviço, com entrada "default"
// explícita (2% a 5% para os serviços de transporte; 1% a 5% nos demais).
var TaxBands = map[string]TaxBand{
	DefaultTaxBandKey: {Min: decimal.NewFromFloat(0.01), Max: decimal.NewFromFloat(0.05)},
	"1601":            {Min: decimal.NewFromFloat(0.02), Max: decimal.NewFromFloat(0.05)},
}

// TaxBandFor devolve a faixa do código, caindo na faixa "default" quando o
// código não tem faixa própria.
func TaxBandFor(serviceCode string) TaxBand {
	if band, ok := TaxBands[serviceCode]; ok {
		return band
	}
	return TaxBands[DefaultTaxBandKey]
}

// Contains indica se a alíquota está dentro da faixa (inclusive).
func (b TaxBand) Contains(rate decimal.Decimal) bool {
	return rate.GreaterThanOrEqual(b.Min) && rate.LessThanOrEqual(b.Max)
}
