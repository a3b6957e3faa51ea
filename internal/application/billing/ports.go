package billing

import (
	"context"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// EmissionTxRunner executa uma função dentro de uma transação que abrange os
// repositórios de nota, idempotência e auditoria.
type EmissionTxRunner interface {
	RunEmission(ctx context.Context, fn func(
		invRepo repository.InvoiceRepository,
		idemRepo repository.IdempotencyRepository,
		auditRepo repository.AuditRepository,
	) error) error
}

// Status devolvidos pelo agente fiscalizador.
const (
	AgentStatusSuccess   = "SUCCESS"
	AgentStatusRejected  = "REJECTED"
	AgentStatusPending   = "PENDING"
	AgentStatusCancelled = "CANCELLED"
)

// AgentResult resposta do agente fiscalizador à emissão ou ao cancelamento.
type AgentResult struct {
	Status           string
	NfseNumber       string
	VerificationCode string
	XMLBase64        string
	PDFBase64        string
	Message          string
}

// AgentClient contrato do agente fiscalizador externo. Falhas de transporte
// devem vir embrulhadas em domain.ErrAgentCommunication; rejeição explícita
// é um resultado normal (Status REJECTED), não um erro.
type AgentClient interface {
	EmitInvoice(ctx context.Context, inv *entity.NormalizedInvoice) (*AgentResult, error)
	CancelInvoice(ctx context.Context, nfseNumber, reason string) (*AgentResult, error)
}

// WebhookNotifier dispara notificações de mudança de status. Fire-and-forget:
// o chamador não espera confirmação de entrega.
type WebhookNotifier interface {
	NotifyStatusChange(invoiceID, oldStatus, newStatus string, metadata map[string]string)
}

// ExtraAttr par chave/valor para atributos adicionais no elemento raiz.
type ExtraAttr struct {
	Key   string
	Value string
}

// RenderOptions parametriza o layout gerado pelo DocumentRenderer. O zero
// value produz o layout ABRASF padrão com raiz <Rps>.
type RenderOptions struct {
	NamespaceURI string
	Prefix       string
	RootName     string
	// ExtraAttrs são atributos adicionais da raiz. Por padrão são emitidos
	// em ordem alfabética; com PreserveAttrOrder, na ordem de inserção
	// (a última ocorrência de uma chave repetida prevalece).
	ExtraAttrs        []ExtraAttr
	PreserveAttrOrder bool
}

// DocumentRenderer gera o XML do RPS a partir da nota normalizada.
type DocumentRenderer interface {
	Render(inv *entity.NormalizedInvoice, opts RenderOptions) (string, error)
}

// XMLSigner assina e verifica documentos XML.
type XMLSigner interface {
	Sign(xmlString string) (string, error)
	Verify(signedXML string) bool
}

// ArtifactCodec encripta e decripta artefatos persistidos.
type ArtifactCodec interface {
	EncryptToJSON(plain string) (string, error)
	DecryptFromJSON(raw string) (string, error)
}

// NFSePDFGenerator gera o DANFSE em PDF para uma nota emitida.
type NFSePDFGenerator interface {
	Generate(inv *entity.Invoice) ([]byte, error)
}
