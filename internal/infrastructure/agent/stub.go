// Stub determinístico do agente para ambientes sem endpoint configurado.

package agent

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// Stub responde SUCCESS com artefatos fabricados de forma determinística a
// partir do RPS: mesma entrada, mesma resposta.
type Stub struct{}

// NewStub cria o stub.
func NewStub() *Stub {
	return &Stub{}
}

// EmitInvoice fabrica uma NFS-e fake. O número deriva do par série+RPS.
func (s *Stub) EmitInvoice(_ context.Context, inv *entity.NormalizedInvoice) (*billing.AgentResult, error) {
	seed := fmt.Sprintf("%s|%s|%s", inv.Provider.CNPJ, inv.RPSSeries, inv.RPSNumber)
	sum := sha256.Sum256([]byte(seed))
	code := hex.EncodeToString(sum[:4])

	fakeXML := fmt.Sprintf(`<Nfse><Numero>%s</Numero><CodigoVerificacao>%s</CodigoVerificacao><DataEmissao>%s</DataEmissao></Nfse>`,
		inv.RPSNumber, code, inv.IssueDate.Format(time.RFC3339))
	return &billing.AgentResult{
		Status:           billing.AgentStatusSuccess,
		NfseNumber:       inv.RPSNumber,
		VerificationCode: code,
		XMLBase64:        base64.StdEncoding.EncodeToString([]byte(fakeXML)),
		Message:          "emissao simulada",
	}, nil
}

// CancelInvoice confirma qualquer cancelamento.
func (s *Stub) CancelInvoice(_ context.Context, nfseNumber, _ string) (*billing.AgentResult, error) {
	return &billing.AgentResult{
		Status:     billing.AgentStatusCancelled,
		NfseNumber: nfseNumber,
		Message:    "cancelamento simulado",
	}, nil
}

var _ billing.AgentClient = (*Stub)(nil)
