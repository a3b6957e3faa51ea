package entity

import "time"

// Níveis da trilha de auditoria.
const (
	AuditInfo  = "info"
	AuditWarn  = "warn"
	AuditError = "error"
)

// AuditRetryMark mensagem usada para marcar uma tentativa de reprocessamento.
// O sweeper conta essas marcas para limitar as tentativas por nota.
const AuditRetryMark = "invoice_retry"

// AuditEntry é um registro imutável da trilha de auditoria. Identificadores
// fiscais devem entrar mascarados no Context (ver nfse.MaskDocument).
type AuditEntry struct {
	ID            string
	Level         string
	Message       string
	Context       map[string]any
	InvoiceID     string
	CorrelationID string
	CreatedAt     time.Time
}
