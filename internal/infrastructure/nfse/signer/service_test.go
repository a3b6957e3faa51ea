package signer_test

import (
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
)

func renderSampleXML(t *testing.T) string {
	t.Helper()
	inv := &entity.NormalizedInvoice{
		RPSNumber:          "1",
		RPSSeries:          "A",
		IssueDate:          time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		ServiceCode:        "101",
		ServiceDescription: "Consultoria em tecnologia",
		ServiceAmount:      decimal.NewFromFloat(150.5),
		TaxRate:            decimal.NewFromFloat(0.02),
		Provider:           entity.Provider{CNPJ: "12345678000199"},
		Customer:           entity.Customer{CNPJ: "99887766000155", Name: "Acme"},
	}
	out, err := infranfse.NewXMLBuilderService().Render(inv, billing.RenderOptions{})
	require.NoError(t, err)
	return out
}

func TestSign_DocumentoVerificavel(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	xml := renderSampleXML(t)

	signed, err := svc.Sign(xml)
	require.NoError(t, err)

	assert.Contains(t, signed, "ds:Signature")
	assert.Contains(t, signed, "ds:SignedInfo")
	assert.Contains(t, signed, "ds:SignatureValue")
	assert.Contains(t, signed, "ds:X509Certificate")
	assert.Contains(t, signed, signer.AlgRSASHA256)
	assert.Contains(t, signed, signer.TransformEnveloped)

	assert.True(t, svc.Verify(signed), "documento recém-assinado deve verificar")
}

func TestSign_DocumentoFinalBemFormado(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	signed, err := svc.Sign(renderSampleXML(t))
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(signed), "documento assinado deve continuar XML bem formado")
	require.NotNil(t, doc.Root())

	// Assinatura como último filho da raiz, com o certificado embutido
	children := doc.Root().ChildElements()
	require.NotEmpty(t, children)
	assert.Equal(t, "Signature", children[len(children)-1].Tag)
	assert.Contains(t, signed, "ds:KeyInfo")
}

func TestVerify_ConteudoAdulterado(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	signed, err := svc.Sign(renderSampleXML(t))
	require.NoError(t, err)

	tampered := strings.Replace(signed, "150.50", "999.99", 1)
	require.NotEqual(t, signed, tampered)
	assert.False(t, svc.Verify(tampered))
}

func TestVerify_SemAssinatura(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	assert.False(t, svc.Verify(renderSampleXML(t)))
}

func TestVerify_EntradaInvalida(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	assert.False(t, svc.Verify(""))
	assert.False(t, svc.Verify("isto nao e xml <<<"))
	assert.False(t, svc.Verify("<Rps/>"))
}

func TestSign_XMLVazio(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), false)
	_, err := svc.Sign("   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigning)
}

func TestSign_SemCertificadoEmProducao(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "production"), false)

	signed, err := svc.Sign(renderSampleXML(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigning)
	assert.Empty(t, signed)
}

func TestSign_ModoLegadoSHA1(t *testing.T) {
	svc := signer.NewService(infranfse.NewCertProvider("", "", "test"), true)
	signed, err := svc.Sign(renderSampleXML(t))
	require.NoError(t, err)

	assert.Contains(t, signed, signer.AlgRSASHA1)
	assert.Contains(t, signed, signer.AlgSHA1)
	assert.True(t, svc.Verify(signed))
}
