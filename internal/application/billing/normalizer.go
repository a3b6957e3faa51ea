// Normalização de payloads heterogêneos para o modelo canônico da nota.
// Dicionário de sinônimos em tabela: adicionar um alias não toca o fluxo.

package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-api/pkg/nfse"
)

// Normalizer mapeia payloads arbitrários para NormalizedInvoice e aplica as
// regras de negócio de emissão.
type Normalizer struct {
	now func() time.Time // injetável em testes
}

// NewNormalizer cria o normalizador.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// fieldAlias entrada da tabela de sinônimos: nomes históricos/alternativos
// que apontam para um campo canônico, com sua função de coerção.
type fieldAlias struct {
	canonical string
	aliases   []string
	assign    func(inv *entity.NormalizedInvoice, v any) error
}

// aliasTable é percorrida em ordem; o primeiro alias presente no payload
// vence para cada campo canônico.
var aliasTable = []fieldAlias{
	{"rpsNumber", []string{"rpsNumber", "rps", "numeroRps", "numero_rps", "numero"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.RPSNumber = s
			return err
		}},
	{"rpsSeries", []string{"rpsSeries", "serie", "serieRps", "serie_rps", "series"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.RPSSeries = s
			return err
		}},
	{"issueDate", []string{"issueDate", "dataEmissao", "data_emissao", "emissionDate", "date"},
		func(inv *entity.NormalizedInvoice, v any) error {
			t, err := toTime(v)
			inv.IssueDate = t
			return err
		}},
	{"serviceCode", []string{"serviceCode", "codigoServico", "codigo_servico", "itemListaServico", "item_lista_servico"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.ServiceCode = s
			return err
		}},
	{"serviceDescription", []string{"serviceDescription", "discriminacao", "descricao", "description"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.ServiceDescription = s
			return err
		}},
	{"serviceAmount", []string{"serviceAmount", "valorServicos", "valor_servicos", "valor", "amount"},
		func(inv *entity.NormalizedInvoice, v any) error {
			d, err := toDecimal(v)
			inv.ServiceAmount = d
			return err
		}},
	{"taxRate", []string{"taxRate", "aliquota", "aliquotaIss", "aliquota_iss"},
		func(inv *entity.NormalizedInvoice, v any) error {
			d, err := toDecimal(v)
			inv.TaxRate = d
			return err
		}},
	{"issRetained", []string{"issRetained", "issRetido", "iss_retido", "retido"},
		func(inv *entity.NormalizedInvoice, v any) error {
			b, err := toBool(v)
			inv.ISSRetained = b
			return err
		}},
	{"cnae", []string{"cnae", "codigoCnae", "codigo_cnae"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.CNAE = s
			return err
		}},
	{"deductionsAmount", []string{"deductionsAmount", "valorDeducoes", "valor_deducoes", "deducoes"},
		func(inv *entity.NormalizedInvoice, v any) error {
			d, err := toDecimal(v)
			inv.DeductionsAmount = d
			return err
		}},
	{"additionalInfo", []string{"additionalInfo", "outrasInformacoes", "outras_informacoes", "observacoes", "notes"},
		func(inv *entity.NormalizedInvoice, v any) error {
			s, err := toString(v)
			inv.AdditionalInfo = s
			return err
		}},
}

// chaves reconhecidas dos sub-objetos de participantes.
var (
	providerKeys = []string{"provider", "prestador", "emitente"}
	customerKeys = []string{"customer", "tomador", "client", "cliente", "destinatario"}
	wrapperKeys  = []string{"invoice", "nfse"}
)

// Normalize mapeia o payload bruto para o modelo canônico e valida as regras
// de negócio. Payload malformado ou código de serviço desconhecido falham com
// domain.ErrNormalization; violações de regra com domain.ErrValidation.
func (n *Normalizer) Normalize(raw map[string]any) (*entity.NormalizedInvoice, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: payload vazio", domain.ErrNormalization)
	}
	// Aceitar payloads aninhados sob invoice/nfse
	payload := raw
	for _, key := range wrapperKeys {
		if nested, ok := raw[key].(map[string]any); ok {
			payload = nested
			break
		}
	}

	inv := &entity.NormalizedInvoice{}
	for _, entry := range aliasTable {
		for _, alias := range entry.aliases {
			v, ok := payload[alias]
			if !ok || v == nil {
				continue
			}
			if err := entry.assign(inv, v); err != nil {
				return nil, fmt.Errorf("%w: campo %s: %v", domain.ErrNormalization, entry.canonical, err)
			}
			break
		}
	}

	if m := findParticipant(payload, providerKeys); m != nil {
		mapProvider(m, &inv.Provider)
	}
	if m := findParticipant(payload, customerKeys); m != nil {
		mapCustomer(m, &inv.Customer)
	}

	if inv.IssueDate.IsZero() {
		inv.IssueDate = n.now()
		inv.IssueDateDefaulted = true
	}

	if err := n.validate(inv); err != nil {
		return nil, err
	}
	if !pkgnfse.IsKnownServiceCode(inv.ServiceCode) {
		return nil, fmt.Errorf("%w: código de serviço desconhecido: %q", domain.ErrNormalization, inv.ServiceCode)
	}
	return inv, nil
}

// validate aplica a validação de esquema e as quatro regras de negócio.
func (n *Normalizer) validate(inv *entity.NormalizedInvoice) error {
	// ── esquema ──────────────────────────────────────────────────────────
	if inv.RPSSeries == "" {
		return domain.NewValidationError("rpsSeries", "required", "série do RPS obrigatória")
	}
	if inv.ServiceCode == "" {
		return domain.NewValidationError("serviceCode", "required", "código de serviço obrigatório")
	}
	if inv.ServiceDescription == "" {
		return domain.NewValidationError("serviceDescription", "required", "discriminação do serviço obrigatória")
	}
	if !inv.ServiceAmount.IsPositive() {
		return domain.NewValidationError("serviceAmount", "positive", "valor do serviço deve ser maior que zero")
	}
	if !inv.TaxRate.IsPositive() {
		return domain.NewValidationError("taxRate", "positive", "alíquota deve ser maior que zero")
	}
	if inv.DeductionsAmount.IsNegative() {
		return domain.NewValidationError("deductionsAmount", "non_negative", "deduções não podem ser negativas")
	}
	if !pkgnfse.IsCNPJ(inv.Provider.CNPJ) {
		return domain.NewValidationError("provider.cnpj", "cnpj", "CNPJ do prestador deve ter 14 dígitos")
	}
	if inv.Customer.Name == "" {
		return domain.NewValidationError("customer.name", "required", "razão social do tomador obrigatória")
	}

	// ── regra 1: tomador com documento ───────────────────────────────────
	if doc, _ := inv.Customer.Document(); doc == "" {
		return domain.NewValidationError("customer.document", "required", "tomador deve ter CPF ou CNPJ")
	}

	// ── regra 2: retroatividade da data de emissão ───────────────────────
	if !retroactivityOK(inv.IssueDate, n.now()) {
		return domain.NewValidationError("issueDate", "retroactivity",
			"data de emissão fora da janela: últimos 10 dias, ou mês anterior até o dia 5")
	}

	// ── regra 3: alíquota dentro da faixa do código de serviço ───────────
	band := pkgnfse.TaxBandFor(inv.ServiceCode)
	if !band.Contains(inv.TaxRate) {
		return domain.NewValidationError("taxRate", "tax_band",
			fmt.Sprintf("alíquota %s fora da faixa permitida (%s a %s)",
				inv.TaxRate.String(), band.Min.String(), band.Max.String()))
	}

	// ── regra 4: ISS retido exige documento do tomador ───────────────────
	if inv.ISSRetained {
		if doc, _ := inv.Customer.Document(); doc == "" {
			return domain.NewValidationError("customer.document", "iss_retained",
				"ISS retido exige CPF ou CNPJ do tomador")
		}
	}
	return nil
}

// retroactivityOK aceita datas dentro dos últimos 10 dias, ou no mês
// calendário anterior enquanto o dia corrente for <= 5 (janela de graça de
// fechamento de mês).
func retroactivityOK(issueDate, now time.Time) bool {
	if issueDate.After(now.Add(24 * time.Hour)) {
		return false
	}
	if now.Sub(issueDate) <= 10*24*time.Hour {
		return true
	}
	prev := now.AddDate(0, -1, 0)
	sameMonth := issueDate.Year() == prev.Year() && issueDate.Month() == prev.Month()
	return sameMonth && now.Day() <= 5
}

// ── mapeamento de participantes ──────────────────────────────────────────────

func findParticipant(payload map[string]any, keys []string) map[string]any {
	for _, key := range keys {
		if m, ok := payload[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

var documentKeys = []string{"document", "documento", "cpfCnpj", "cpf_cnpj", "cnpj", "cpf", "taxId", "tax_id"}

// participantDocument extrai e classifica o documento do participante,
// limpando tudo que não for dígito.
func participantDocument(m map[string]any) (digits, docType string) {
	for _, key := range documentKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		s, err := toString(v)
		if err != nil || s == "" {
			continue
		}
		if digits, docType = pkgnfse.ClassifyDocument(s); docType != "" {
			return digits, docType
		}
	}
	return "", ""
}

func participantString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			if s, err := toString(v); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func mapProvider(m map[string]any, p *entity.Provider) {
	if digits, docType := participantDocument(m); docType == pkgnfse.DocumentCNPJ {
		p.CNPJ = digits
	}
	p.MunicipalRegistration = participantString(m,
		"municipalRegistration", "inscricaoMunicipal", "inscricao_municipal", "im")
}

func mapCustomer(m map[string]any, c *entity.Customer) {
	digits, docType := participantDocument(m)
	switch docType {
	case pkgnfse.DocumentCPF:
		c.CPF = digits
	case pkgnfse.DocumentCNPJ:
		c.CNPJ = digits
	}
	c.Name = participantString(m, "name", "nome", "razaoSocial", "razao_social")
	c.Email = participantString(m, "email")
	c.Address = participantString(m, "address", "endereco")
}

// ── coerções ─────────────────────────────────────────────────────────────────

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("tipo %T não conversível para texto", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("valor numérico inválido: %q", t)
		}
		return d, nil
	case decimal.Decimal:
		return t, nil
	default:
		return decimal.Zero, fmt.Errorf("tipo %T não conversível para decimal", v)
	}
}

var truthyStrings = map[string]bool{
	"S": true, "SIM": true, "Y": true, "YES": true, "TRUE": true, "1": true,
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return truthyStrings[strings.ToUpper(strings.TrimSpace(t))], nil
	case float64:
		return t == 1, nil
	case int:
		return t == 1, nil
	default:
		return false, fmt.Errorf("tipo %T não conversível para booleano", v)
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("data inválida: %q", t)
	default:
		return time.Time{}, fmt.Errorf("tipo %T não conversível para data", v)
	}
}
