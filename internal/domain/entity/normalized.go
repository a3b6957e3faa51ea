package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Provider prestador do serviço (emissor da nota).
type Provider struct {
	CNPJ                  string `json:"cnpj"`
	MunicipalRegistration string `json:"municipalRegistration,omitempty"`
}

// Customer tomador do serviço. Exatamente um documento (CPF ou CNPJ) deve
// estar presente após a normalização.
type Customer struct {
	CPF     string `json:"cpf,omitempty"`
	CNPJ    string `json:"cnpj,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// Document devolve o documento presente (CNPJ tem precedência) e seu tipo.
func (c Customer) Document() (digits, docType string) {
	if c.CNPJ != "" {
		return c.CNPJ, "CNPJ"
	}
	if c.CPF != "" {
		return c.CPF, "CPF"
	}
	return "", ""
}

// NormalizedInvoice é o modelo canônico transitório produzido pela
// normalização: todo o restante do pipeline (renderização, assinatura,
// agente) só enxerga esta forma.
type NormalizedInvoice struct {
	RPSNumber          string          `json:"rpsNumber,omitempty"`
	RPSSeries          string          `json:"rpsSeries"`
	IssueDate          time.Time       `json:"issueDate"`
	ServiceCode        string          `json:"serviceCode"`
	ServiceDescription string          `json:"serviceDescription"`
	ServiceAmount      decimal.Decimal `json:"serviceAmount"`
	TaxRate            decimal.Decimal `json:"taxRate"`
	ISSRetained        bool            `json:"issRetained"`
	CNAE               string          `json:"cnae,omitempty"`
	DeductionsAmount   decimal.Decimal `json:"deductionsAmount,omitempty"`
	Provider           Provider        `json:"provider"`
	Customer           Customer        `json:"customer"`
	AdditionalInfo     string          `json:"additionalInfo,omitempty"`

	// Flags de defaults aplicados pelo servidor. Ficam fora do JSON: o
	// fingerprint de idempotência só considera o que o chamador enviou.
	RPSNumberAssigned  bool `json:"-"`
	IssueDateDefaulted bool `json:"-"`
}

// Fingerprint calcula o hash SHA-256 (hex) do subconjunto do payload
// relevante para idempotência. Campos atribuídos pelo servidor (rpsNumber
// automático, issueDate defaultado) ficam de fora para que o defaulting não
// altere o hash de duas requisições idênticas.
func (n *NormalizedInvoice) Fingerprint() string {
	m := map[string]string{
		"rpsSeries":          n.RPSSeries,
		"serviceCode":        n.ServiceCode,
		"serviceDescription": n.ServiceDescription,
		"serviceAmount":      n.ServiceAmount.String(),
		"taxRate":            n.TaxRate.String(),
		"issRetained":        boolKey(n.ISSRetained),
		"cnae":               n.CNAE,
		"deductionsAmount":   n.DeductionsAmount.String(),
		"providerCnpj":       n.Provider.CNPJ,
		"providerIm":         n.Provider.MunicipalRegistration,
		"customerCpf":        n.Customer.CPF,
		"customerCnpj":       n.Customer.CNPJ,
		"customerName":       n.Customer.Name,
		"customerEmail":      n.Customer.Email,
		"customerAddress":    n.Customer.Address,
		"additionalInfo":     n.AdditionalInfo,
	}
	if !n.RPSNumberAssigned {
		m["rpsNumber"] = n.RPSNumber
	}
	if !n.IssueDateDefaulted {
		m["issueDate"] = n.IssueDate.UTC().Format(time.RFC3339)
	}
	// json.Marshal de map ordena as chaves: serialização determinística.
	raw, _ := json.Marshal(m)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
