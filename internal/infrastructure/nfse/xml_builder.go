// Construção do XML do RPS no layout ABRASF (subconjunto usado na emissão).

package nfse

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-api/pkg/nfse"
)

var _ billing.DocumentRenderer = (*XMLBuilderService)(nil)

// Namespace padrão do layout ABRASF.
const NamespaceABRASF = "http://www.abrasf.org.br/nfse.xsd"

// nomes válidos de elemento/prefixo (NCName simplificado).
var ncNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

// XMLBuilderService gera o documento XML do RPS a partir da nota normalizada.
// Função pura: sem I/O, saída determinística para a mesma entrada.
type XMLBuilderService struct{}

// NewXMLBuilderService cria o serviço.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Render gera o XML do RPS. Valores monetários saem com 2 casas decimais e
// a alíquota com 4 (fração: 2% vira 0.0200).
func (s *XMLBuilderService) Render(inv *entity.NormalizedInvoice, opts billing.RenderOptions) (string, error) {
	if inv == nil {
		return "", fmt.Errorf("nfse: nota normalizada ausente")
	}

	ns := opts.NamespaceURI
	if ns == "" {
		ns = NamespaceABRASF
	}
	rootName := safeName(opts.RootName, "Rps")
	prefix := ""
	if opts.Prefix != "" && ncNameRE.MatchString(opts.Prefix) {
		prefix = opts.Prefix
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(qualify(prefix, rootName))
	if prefix == "" {
		root.CreateAttr("xmlns", ns)
	} else {
		root.CreateAttr("xmlns:"+prefix, ns)
	}
	for _, attr := range resolveExtraAttrs(opts.ExtraAttrs, opts.PreserveAttrOrder) {
		root.CreateAttr(attr.Key, attr.Value)
	}

	infRps := root.CreateElement(qualify(prefix, "InfRps"))

	ident := infRps.CreateElement(qualify(prefix, "IdentificacaoRps"))
	ident.CreateElement(qualify(prefix, "Numero")).SetText(inv.RPSNumber)
	ident.CreateElement(qualify(prefix, "Serie")).SetText(inv.RPSSeries)
	ident.CreateElement(qualify(prefix, "Tipo")).SetText(pkgnfse.RPSTypeRPS)

	infRps.CreateElement(qualify(prefix, "DataEmissao")).SetText(inv.IssueDate.Format("2006-01-02T15:04:05"))
	infRps.CreateElement(qualify(prefix, "Status")).SetText(pkgnfse.RPSStatusNormal)

	servico := infRps.CreateElement(qualify(prefix, "Servico"))
	valores := servico.CreateElement(qualify(prefix, "Valores"))
	valores.CreateElement(qualify(prefix, "ValorServicos")).SetText(inv.ServiceAmount.StringFixed(2))
	if !inv.DeductionsAmount.IsZero() {
		valores.CreateElement(qualify(prefix, "ValorDeducoes")).SetText(inv.DeductionsAmount.StringFixed(2))
	}
	valores.CreateElement(qualify(prefix, "Aliquota")).SetText(inv.TaxRate.StringFixed(4))
	issRetido := pkgnfse.ISSRetainedNo
	if inv.ISSRetained {
		issRetido = pkgnfse.ISSRetainedYes
	}
	valores.CreateElement(qualify(prefix, "IssRetido")).SetText(issRetido)
	servico.CreateElement(qualify(prefix, "ItemListaServico")).SetText(inv.ServiceCode)
	if inv.CNAE != "" {
		servico.CreateElement(qualify(prefix, "CodigoCnae")).SetText(inv.CNAE)
	}
	servico.CreateElement(qualify(prefix, "Discriminacao")).SetText(pkgnfse.FoldName(inv.ServiceDescription))

	prestador := infRps.CreateElement(qualify(prefix, "Prestador"))
	prestador.CreateElement(qualify(prefix, "Cnpj")).SetText(inv.Provider.CNPJ)
	if inv.Provider.MunicipalRegistration != "" {
		prestador.CreateElement(qualify(prefix, "InscricaoMunicipal")).SetText(inv.Provider.MunicipalRegistration)
	}

	tomador := infRps.CreateElement(qualify(prefix, "Tomador"))
	identTomador := tomador.CreateElement(qualify(prefix, "IdentificacaoTomador"))
	cpfCnpj := identTomador.CreateElement(qualify(prefix, "CpfCnpj"))
	if inv.Customer.CNPJ != "" {
		cpfCnpj.CreateElement(qualify(prefix, "Cnpj")).SetText(inv.Customer.CNPJ)
	} else {
		cpfCnpj.CreateElement(qualify(prefix, "Cpf")).SetText(inv.Customer.CPF)
	}
	tomador.CreateElement(qualify(prefix, "RazaoSocial")).SetText(pkgnfse.FoldName(inv.Customer.Name))
	if inv.Customer.Address != "" {
		tomador.CreateElement(qualify(prefix, "Endereco")).SetText(pkgnfse.FoldName(inv.Customer.Address))
	}
	if inv.Customer.Email != "" {
		contato := tomador.CreateElement(qualify(prefix, "Contato"))
		contato.CreateElement(qualify(prefix, "Email")).SetText(inv.Customer.Email)
	}

	if inv.AdditionalInfo != "" {
		infRps.CreateElement(qualify(prefix, "OutrasInformacoes")).SetText(pkgnfse.FoldName(inv.AdditionalInfo))
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("nfse: serializar XML: %w", err)
	}
	return out, nil
}

// resolveExtraAttrs aplica a política de ordenação e descarta atributos
// inválidos ou reservados. Declarações de namespace (xmlns, xmlns:*) nunca
// podem ser sobrescritas por atributos do chamador.
func resolveExtraAttrs(attrs []billing.ExtraAttr, preserveOrder bool) []billing.ExtraAttr {
	byKey := map[string]string{}
	var order []string
	for _, a := range attrs {
		if !ncNameRE.MatchString(a.Key) && !isQualifiedName(a.Key) {
			continue
		}
		lower := strings.ToLower(a.Key)
		if lower == "xmlns" || strings.HasPrefix(lower, "xmlns:") {
			continue
		}
		if _, seen := byKey[a.Key]; !seen {
			order = append(order, a.Key)
		}
		byKey[a.Key] = a.Value
	}
	if !preserveOrder {
		sort.Strings(order)
	}
	out := make([]billing.ExtraAttr, 0, len(order))
	for _, k := range order {
		out = append(out, billing.ExtraAttr{Key: k, Value: byKey[k]})
	}
	return out
}

// isQualifiedName aceita nomes com um único prefixo (prefixo:local).
func isQualifiedName(name string) bool {
	parts := strings.SplitN(name, ":", 2)
	if len(parts) != 2 {
		return false
	}
	return ncNameRE.MatchString(parts[0]) && ncNameRE.MatchString(parts[1])
}

// safeName devolve o nome se for um NCName válido, senão o padrão.
func safeName(name, fallback string) string {
	if name != "" && ncNameRE.MatchString(name) {
		return name
	}
	return fallback
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
