// Package pdf gera o DANFSE (Documento Auxiliar da NFS-e), a representação
// gráfica da nota para impressão e conferência.
//
// Layout da página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: NFS-e nº + código de verificação │ Data de emissão  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  PRESTADOR: CNPJ + inscrição municipal                       │
//	│  TOMADOR: razão social + CPF/CNPJ + contato                  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  SERVIÇO: código + discriminação                             │
//	│  VALORES: valor dos serviços / deduções / alíquota / ISS     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: QR de verificação + observações                     │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-api/pkg/nfse"
)

// ── Paleta de cores ───────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 16, Green: 78, Blue: 60}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator gera o DANFSE usando Maroto v2.
type MarotoPDFGenerator struct {
	municipalityCode string
}

// NewMarotoPDFGenerator constrói o gerador.
func NewMarotoPDFGenerator(municipalityCode string) *MarotoPDFGenerator {
	return &MarotoPDFGenerator{municipalityCode: municipalityCode}
}

// Generate gera o PDF do DANFSE e devolve seus bytes.
func (g *MarotoPDFGenerator) Generate(inv *entity.Invoice) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("NFS-e "+inv.NfseNumber, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(inv))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(prestadorRow(inv))
	m.AddRows(tomadorRow(inv))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(servicoRows(inv)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(valoresRow(inv))
	m.AddRows(line.NewRow(3))
	m.AddRows(g.footerRows(inv)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: gerar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Seções ────────────────────────────────────────────────────────────────────

// headerRow: identificação da NFS-e (esq) e data de emissão (dir).
func headerRow(inv *entity.Invoice) core.Row {
	numero := inv.NfseNumber
	if numero == "" {
		numero = "RPS " + inv.RPSSeries + "-" + inv.RPSNumber
	}
	return row.New(18).Add(
		col.New(7).Add(
			text.New("NOTA FISCAL DE SERVIÇOS ELETRÔNICA", props.Text{
				Style: fontstyle.Bold, Size: 11, Color: colorPrimary, Top: 1,
			}),
			text.New("Nº "+numero, props.Text{
				Style: fontstyle.Bold, Size: 12, Top: 8,
			}),
			text.New("Código de verificação: "+nonEmpty(inv.VerificationCode, "—"), props.Text{
				Size: 8, Top: 14, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("Data de emissão", props.Text{
				Size: 8, Align: align.Right, Color: colorGray, Top: 1,
			}),
			text.New(inv.IssueDate.Format("02/01/2006 15:04"), props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Right, Top: 6,
			}),
			text.New("Situação: "+inv.Status, props.Text{
				Size: 8, Align: align.Right, Top: 13, Color: colorGray,
			}),
		),
	)
}

// prestadorRow: dados do prestador do serviço.
func prestadorRow(inv *entity.Invoice) core.Row {
	im := inv.ProviderMunicipalRegistration
	return row.New(12).Add(
		col.New(12).Add(
			text.New("PRESTADOR DE SERVIÇOS", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("CNPJ: %s   |   Inscrição Municipal: %s",
				formatCNPJ(inv.ProviderCNPJ), nonEmpty(im, "—"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

// tomadorRow: dados do tomador do serviço.
func tomadorRow(inv *entity.Invoice) core.Row {
	return row.New(14).Add(
		col.New(12).Add(
			text.New("TOMADOR DE SERVIÇOS", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(inv.CustomerName, props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("%s: %s   |   Email: %s",
				nonEmpty(inv.CustomerDocumentType, "Documento"),
				pkgnfse.MaskDocument(inv.CustomerDocument),
				nonEmpty(inv.CustomerEmail, "—"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

// servicoRows: código do serviço e discriminação.
func servicoRows(inv *entity.Invoice) []core.Row {
	desc := pkgnfse.ServiceCodes[inv.ServiceCode]
	return []core.Row{
		row.New(10).Add(col.New(12).Add(
			text.New("DISCRIMINAÇÃO DOS SERVIÇOS", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Item %s — %s", inv.ServiceCode, desc), props.Text{
				Size: 8, Top: 6, Color: colorGray,
			}),
		)),
		row.New(14).Add(col.New(12).Add(
			text.New(inv.ServiceDescription, props.Text{Size: 9, Top: 2}),
		)),
	}
}

// valoresRow: bloco de valores alinhado à direita.
func valoresRow(inv *entity.Invoice) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2,
		})
	}
	value := func(s string) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1})
	}

	issRetido := "Não"
	if inv.ISSRetained {
		issRetido = "Sim"
	}
	iss := inv.ServiceAmount.Sub(inv.DeductionsAmount).Mul(inv.TaxRate)

	return row.New(34).Add(
		col.New(4),
		col.New(4).Add(
			label("Valor dos serviços:"),
			label("Deduções:"),
			label("Alíquota ISS:"),
			label("ISS retido:"),
			label("Valor do ISS:"),
		),
		col.New(4).Add(
			value("R$ "+inv.ServiceAmount.StringFixed(2)),
			value("R$ "+inv.DeductionsAmount.StringFixed(2)),
			value(inv.TaxRate.Mul(hundred).StringFixed(2)+"%"),
			value(issRetido),
			value("R$ "+iss.StringFixed(2)),
		),
	)
}

// footerRows: QR de verificação + observações.
func (g *MarotoPDFGenerator) footerRows(inv *entity.Invoice) []core.Row {
	var rows []core.Row
	if inv.VerificationCode != "" {
		qrData := fmt.Sprintf("nfse:%s;verificacao:%s;cnpj:%s;municipio:%s",
			inv.NfseNumber, inv.VerificationCode, inv.ProviderCNPJ, g.municipalityCode)
		rows = append(rows, row.New(40).Add(
			col.New(4).Add(code.NewQr(qrData, props.Rect{Percent: 95, Center: true})),
			col.New(8).Add(
				text.New("Consulte a autenticidade desta nota no\nportal da prefeitura com o código de verificação.", props.Text{
					Size: 8, Top: 4, Left: 3, Color: colorGray,
				}),
			),
		))
	}
	if inv.AdditionalInfo != "" {
		rows = append(rows, row.New(10).Add(col.New(12).Add(
			text.New("Outras informações: "+inv.AdditionalInfo, props.Text{
				Size: 7, Color: colorGray, Top: 2,
			}),
		)))
	}
	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

var hundred = decimal.NewFromInt(100)

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatCNPJ formata "12345678000199" como "12.345.678/0001-99".
func formatCNPJ(cnpj string) string {
	if len(cnpj) != 14 {
		return cnpj
	}
	return cnpj[:2] + "." + cnpj[2:5] + "." + cnpj[5:8] + "/" + cnpj[8:12] + "-" + cnpj[12:]
}
