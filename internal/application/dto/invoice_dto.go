package dto

import (
	"time"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// InvoiceResponse representação da nota devolvida pela API.
type InvoiceResponse struct {
	ID                 string     `json:"id"`
	RPSNumber          string     `json:"rpsNumber"`
	RPSSeries          string     `json:"rpsSeries"`
	IssueDate          time.Time  `json:"issueDate"`
	ServiceCode        string     `json:"serviceCode"`
	ServiceDescription string     `json:"serviceDescription"`
	ServiceAmount      string     `json:"serviceAmount"`
	TaxRate            string     `json:"taxRate"`
	ISSRetained        bool       `json:"issRetained"`
	ProviderCNPJ       string     `json:"providerCnpj"`
	CustomerName       string     `json:"customerName"`
	Status             string     `json:"status"`
	NfseNumber         string     `json:"nfseNumber,omitempty"`
	VerificationCode   string     `json:"verificationCode,omitempty"`
	XMLHash            string     `json:"xmlHash,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	CanceledAt         *time.Time `json:"canceledAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// FromInvoice converte a entidade na representação da API. Valores com as
// casas decimais do layout (2 para valores, 4 para alíquota).
func FromInvoice(inv *entity.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:                 inv.ID,
		RPSNumber:          inv.RPSNumber,
		RPSSeries:          inv.RPSSeries,
		IssueDate:          inv.IssueDate,
		ServiceCode:        inv.ServiceCode,
		ServiceDescription: inv.ServiceDescription,
		ServiceAmount:      inv.ServiceAmount.StringFixed(2),
		TaxRate:            inv.TaxRate.StringFixed(4),
		ISSRetained:        inv.ISSRetained,
		ProviderCNPJ:       inv.ProviderCNPJ,
		CustomerName:       inv.CustomerName,
		Status:             inv.Status,
		NfseNumber:         inv.NfseNumber,
		VerificationCode:   inv.VerificationCode,
		XMLHash:            inv.XMLHash,
		CancelReason:       inv.CancelReason,
		CanceledAt:         inv.CanceledAt,
		CreatedAt:          inv.CreatedAt,
		UpdatedAt:          inv.UpdatedAt,
	}
}

// CancelRequest corpo do pedido de cancelamento.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// StatsResponse agregados de emissão num intervalo.
type StatsResponse struct {
	From             time.Time        `json:"from"`
	To               time.Time        `json:"to"`
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"byStatus"`
	SuccessfulAmount string           `json:"successfulAmount"`
}

// FromStats converte o agregado do repositório na representação da API.
func FromStats(from, to time.Time, stats *repository.InvoiceStats) StatsResponse {
	return StatsResponse{
		From:             from,
		To:               to,
		Total:            stats.Total,
		ByStatus:         stats.ByStatus,
		SuccessfulAmount: stats.SuccessfulAmount.StringFixed(2),
	}
}
