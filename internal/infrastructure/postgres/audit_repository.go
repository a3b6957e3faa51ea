package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ repository.AuditRepository = (*AuditRepo)(nil)

// AuditRepo implementação de AuditRepository (usável com pool ou tx).
type AuditRepo struct {
	q Querier
}

// NewAuditRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewAuditRepository(q Querier) *AuditRepo {
	return &AuditRepo{q: q}
}

// Create grava uma entrada imutável da trilha. Context vai como JSONB.
func (r *AuditRepo) Create(ctx context.Context, entry *entity.AuditEntry) error {
	var rawCtx []byte
	if entry.Context != nil {
		var err error
		rawCtx, err = json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("serializar contexto de auditoria: %w", err)
		}
	}
	query := `
		INSERT INTO audit_log (id, level, message, context, invoice_id, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, query,
		entry.ID, entry.Level, entry.Message, rawCtx, entry.InvoiceID, entry.CorrelationID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// CountRetryMarks conta as marcas de reprocessamento da nota.
func (r *AuditRepo) CountRetryMarks(ctx context.Context, invoiceID string) (int, error) {
	query := `SELECT COUNT(*) FROM audit_log WHERE invoice_id = $1 AND message = $2`
	var count int
	if err := r.q.QueryRow(ctx, query, invoiceID, entity.AuditRetryMark).Scan(&count); err != nil {
		return 0, fmt.Errorf("count retry marks: %w", err)
	}
	return count, nil
}
