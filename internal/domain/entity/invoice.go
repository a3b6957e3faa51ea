package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status do ciclo de vida da NFS-e.
// PENDING -> SUCCESS | REJECTED; PENDING/SUCCESS -> CANCELLED.
// CANCELLED e REJECTED são terminais.
const (
	StatusPending   = "PENDING"
	StatusSuccess   = "SUCCESS"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// Invoice é o agregado persistente da nota. Criado em PENDING pelo
// orquestrador de emissão; mutado apenas pelo orquestrador e pelo sweeper;
// nunca apagado.
type Invoice struct {
	ID string

	// Campos desnormalizados do RPS (ver NormalizedInvoice) para consulta.
	RPSNumber          string
	RPSSeries          string
	IssueDate          time.Time
	ServiceCode        string
	ServiceDescription string
	ServiceAmount      decimal.Decimal
	TaxRate            decimal.Decimal
	ISSRetained        bool
	CNAE               string
	DeductionsAmount   decimal.Decimal

	ProviderCNPJ                  string
	ProviderMunicipalRegistration string

	CustomerDocument     string // CPF ou CNPJ, só dígitos
	CustomerDocumentType string // "CPF" | "CNPJ"
	CustomerName         string
	CustomerEmail        string
	CustomerAddress      string

	AdditionalInfo string

	Status           string
	NfseNumber       string // número da NFS-e atribuído pelo agente
	VerificationCode string
	XMLHash          string // SHA-256 (hex) do XML assinado localmente
	PDFHash          string // SHA-256 (hex) do PDF devolvido pelo agente

	// Artefatos em repouso: envelopes cifrados serializados em JSON.
	// XMLBase64/PDFBase64 vêm do agente; XMLSignedEncrypted é a assinatura
	// local, independente do XML devolvido.
	XMLBase64          string
	PDFBase64          string
	XMLSignedEncrypted string

	CancelReason string
	CanceledAt   *time.Time

	// Snapshot do NormalizedInvoice no momento da emissão; obrigatório para
	// o sweeper reemitir sem renormalizar o payload original.
	RawNormalizedJSON string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanCancel indica se a nota aceita cancelamento no status atual.
func (i *Invoice) CanCancel() bool {
	return i.Status == StatusPending || i.Status == StatusSuccess
}

// IsTerminal indica se o status é terminal (nenhuma transição possível).
func (i *Invoice) IsTerminal() bool {
	return i.Status == StatusCancelled || i.Status == StatusRejected
}
