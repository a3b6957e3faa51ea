package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ billing.EmissionTxRunner = (*TxRunner)(nil)

// TxRunner executa callbacks dentro de uma transação PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner constrói o runner com o pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunEmission inicia uma transação, executa fn com os repositórios de
// emissão presos à tx e faz Commit ou Rollback.
func (r *TxRunner) RunEmission(ctx context.Context, fn func(
	invRepo repository.InvoiceRepository,
	idemRepo repository.IdempotencyRepository,
	auditRepo repository.AuditRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invRepo := NewInvoiceRepository(tx)
	idemRepo := NewIdempotencyRepository(tx)
	auditRepo := NewAuditRepository(tx)

	if err := fn(invRepo, idemRepo, auditRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
