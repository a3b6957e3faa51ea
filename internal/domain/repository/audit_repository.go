package repository

import (
	"context"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// AuditRepository contrato da trilha de auditoria.
type AuditRepository interface {
	Create(ctx context.Context, entry *entity.AuditEntry) error
	// CountRetryMarks conta quantas tentativas de reprocessamento já
	// foram registradas para a nota.
	CountRetryMarks(ctx context.Context, invoiceID string) (int, error)
}
