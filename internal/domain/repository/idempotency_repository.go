package repository

import (
	"context"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// IdempotencyRepository contrato da tabela de chaves de idempotência.
// GetByKey devolve (nil, nil) quando a chave não existe.
type IdempotencyRepository interface {
	GetByKey(ctx context.Context, key string) (*entity.IdempotencyRecord, error)
	Create(ctx context.Context, record *entity.IdempotencyRecord) error
	// UpdateSnapshot atualiza o status espelhado depois de uma transição
	// da nota associada.
	UpdateSnapshot(ctx context.Context, key, status string) error
}
