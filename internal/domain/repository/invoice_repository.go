package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// InvoiceStats agregados de emissão num intervalo de datas.
type InvoiceStats struct {
	Total            int64
	ByStatus         map[string]int64
	SuccessfulAmount decimal.Decimal // soma de ServiceAmount das notas SUCCESS
}

// ListFilter critérios de listagem de notas. Campos zero são ignorados.
type ListFilter struct {
	Status string
	From   time.Time
	To     time.Time
	Limit  int // default 50, teto 200
	Offset int
}

// InvoiceRepository contrato de persistência do agregado Invoice.
// GetByID devolve (nil, nil) quando a nota não existe.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	Update(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	// List devolve notas por filtro, mais recentes primeiro.
	List(ctx context.Context, filter ListFilter) ([]*entity.Invoice, error)
	// ListPendingOlderThan devolve notas PENDING criadas antes do corte,
	// para o sweeper de reprocessamento.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*entity.Invoice, error)
	// LastRPSNumber devolve o maior número de RPS já usado para o par
	// (CNPJ do prestador, série), ou 0 se nenhum.
	LastRPSNumber(ctx context.Context, providerCNPJ, series string) (int64, error)
	Stats(ctx context.Context, from, to time.Time) (*InvoiceStats, error)
}
