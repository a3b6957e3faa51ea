// Cliente HTTP do agente de conformidade municipal. O canal usa TLS mútuo
// com o mesmo certificado A1 da assinatura.

package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
)

// Client implementa billing.AgentClient sobre HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient monta o cliente com TLS mútuo a partir do material do
// certificado. timeout limita cada requisição.
func NewClient(baseURL string, certs *infranfse.CertProvider, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	material, err := certs.Material()
	if err != nil {
		return nil, fmt.Errorf("agent: carregar certificado: %w", err)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{material.TLSCertificate()},
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// emitRequest corpo enviado na emissão.
type emitRequest struct {
	RPSNumber          string `json:"rpsNumber"`
	RPSSeries          string `json:"rpsSeries"`
	IssueDate          string `json:"issueDate"`
	ServiceCode        string `json:"serviceCode"`
	ServiceDescription string `json:"serviceDescription"`
	ServiceAmount      string `json:"serviceAmount"`
	TaxRate            string `json:"taxRate"`
	ISSRetained        bool   `json:"issRetained"`
	ProviderCNPJ       string `json:"providerCnpj"`
	CustomerDocument   string `json:"customerDocument"`
	CustomerName       string `json:"customerName"`
}

// agentResponse corpo devolvido pelo agente (emissão e cancelamento).
type agentResponse struct {
	Status           string `json:"status"`
	NfseNumber       string `json:"nfseNumber,omitempty"`
	VerificationCode string `json:"verificationCode,omitempty"`
	XMLBase64        string `json:"xmlBase64,omitempty"`
	PDFBase64        string `json:"pdfBase64,omitempty"`
	Message          string `json:"message,omitempty"`
}

// EmitInvoice envia a nota ao agente. Rejeição explícita é um resultado
// normal (Status REJECTED); só problemas de transporte viram erro.
func (c *Client) EmitInvoice(ctx context.Context, inv *entity.NormalizedInvoice) (*billing.AgentResult, error) {
	doc, _ := inv.Customer.Document()
	body := emitRequest{
		RPSNumber:          inv.RPSNumber,
		RPSSeries:          inv.RPSSeries,
		IssueDate:          inv.IssueDate.Format(time.RFC3339),
		ServiceCode:        inv.ServiceCode,
		ServiceDescription: inv.ServiceDescription,
		ServiceAmount:      inv.ServiceAmount.StringFixed(2),
		TaxRate:            inv.TaxRate.StringFixed(4),
		ISSRetained:        inv.ISSRetained,
		ProviderCNPJ:       inv.Provider.CNPJ,
		CustomerDocument:   doc,
		CustomerName:       inv.Customer.Name,
	}
	return c.post(ctx, "/nfse/emit", body)
}

// CancelInvoice solicita o cancelamento da NFS-e ao agente.
func (c *Client) CancelInvoice(ctx context.Context, nfseNumber, reason string) (*billing.AgentResult, error) {
	body := map[string]string{
		"nfseNumber": nfseNumber,
		"reason":     reason,
	}
	return c.post(ctx, "/nfse/cancel", body)
}

func (c *Client) post(ctx context.Context, path string, body any) (*billing.AgentResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("agent: serializar requisição: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: montar requisição: %v", domain.ErrAgentCommunication, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAgentCommunication, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: ler resposta: %v", domain.ErrAgentCommunication, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: agente respondeu %d", domain.ErrAgentCommunication, resp.StatusCode)
	}
	var parsed agentResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: resposta ilegível: %v", domain.ErrAgentCommunication, err)
	}
	// 4xx com corpo estruturado é tratado como rejeição do agente
	if resp.StatusCode >= 400 && parsed.Status == "" {
		parsed.Status = billing.AgentStatusRejected
	}
	return &billing.AgentResult{
		Status:           parsed.Status,
		NfseNumber:       parsed.NfseNumber,
		VerificationCode: parsed.VerificationCode,
		XMLBase64:        parsed.XMLBase64,
		PDFBase64:        parsed.PDFBase64,
		Message:          parsed.Message,
	}, nil
}

var _ billing.AgentClient = (*Client)(nil)
