package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ repository.IdempotencyRepository = (*IdempotencyRepo)(nil)

// IdempotencyRepo implementação de IdempotencyRepository (usável com pool ou tx).
type IdempotencyRepo struct {
	q Querier
}

// NewIdempotencyRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewIdempotencyRepository(q Querier) *IdempotencyRepo {
	return &IdempotencyRepo{q: q}
}

// GetByKey devolve o registro da chave, ou (nil, nil) se não existir.
func (r *IdempotencyRepo) GetByKey(ctx context.Context, key string) (*entity.IdempotencyRecord, error) {
	query := `
		SELECT key, invoice_id, payload_hash, status_snapshot, created_at, updated_at
		FROM idempotency_records WHERE key = $1`
	var rec entity.IdempotencyRecord
	err := r.q.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.InvoiceID, &rec.PayloadHash, &rec.StatusSnapshot, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

// Create persiste o registro. A chave tem constraint única: dois chamadores
// concorrentes com a mesma chave fazem só um vencer a linha.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *entity.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (key, invoice_id, payload_hash, status_snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query,
		rec.Key, rec.InvoiceID, rec.PayloadHash, rec.StatusSnapshot, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: chave %q", domain.ErrIdempotencyConflict, rec.Key)
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// UpdateSnapshot atualiza só o status espelhado. PayloadHash nunca muda.
func (r *IdempotencyRepo) UpdateSnapshot(ctx context.Context, key, status string) error {
	query := `UPDATE idempotency_records SET status_snapshot = $2, updated_at = $3 WHERE key = $1`
	_, err := r.q.Exec(ctx, query, key, status, time.Now())
	if err != nil {
		return fmt.Errorf("update idempotency snapshot: %w", err)
	}
	return nil
}
