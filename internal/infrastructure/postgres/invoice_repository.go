package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementação de InvoiceRepository (usável com pool ou tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, rps_number, rps_series, issue_date, service_code, service_description,
	service_amount, tax_rate, iss_retained, cnae, deductions_amount,
	provider_cnpj, provider_municipal_registration,
	customer_document, customer_document_type, customer_name, customer_email, customer_address,
	additional_info, status, nfse_number, verification_code, xml_hash, pdf_hash,
	xml_base64, pdf_base64, xml_signed_encrypted,
	cancel_reason, canceled_at, raw_normalized_json, created_at, updated_at`

// Create persiste uma nova nota.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.RPSNumber, inv.RPSSeries, inv.IssueDate, inv.ServiceCode, inv.ServiceDescription,
		inv.ServiceAmount, inv.TaxRate, inv.ISSRetained, inv.CNAE, inv.DeductionsAmount,
		inv.ProviderCNPJ, inv.ProviderMunicipalRegistration,
		inv.CustomerDocument, inv.CustomerDocumentType, inv.CustomerName, inv.CustomerEmail, inv.CustomerAddress,
		inv.AdditionalInfo, inv.Status, inv.NfseNumber, inv.VerificationCode, inv.XMLHash, inv.PDFHash,
		inv.XMLBase64, inv.PDFBase64, inv.XMLSignedEncrypted,
		inv.CancelReason, inv.CanceledAt, inv.RawNormalizedJSON, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update persiste os campos mutáveis da nota.
func (r *InvoiceRepo) Update(ctx context.Context, inv *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			status = $2, nfse_number = $3, verification_code = $4,
			xml_hash = $5, pdf_hash = $6,
			xml_base64 = $7, pdf_base64 = $8, xml_signed_encrypted = $9,
			cancel_reason = $10, canceled_at = $11, updated_at = $12
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.Status, inv.NfseNumber, inv.VerificationCode,
		inv.XMLHash, inv.PDFHash,
		inv.XMLBase64, inv.PDFBase64, inv.XMLSignedEncrypted,
		inv.CancelReason, inv.CanceledAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// GetByID devolve a nota por ID, ou (nil, nil) se não existir.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// List devolve notas por filtro, mais recentes primeiro.
func (r *InvoiceRepo) List(ctx context.Context, filter repository.ListFilter) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var list []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ListPendingOlderThan devolve notas PENDING criadas antes do corte.
func (r *InvoiceRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices WHERE status = $1 AND created_at < $2 ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, entity.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	defer rows.Close()
	var list []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// LastRPSNumber devolve o maior número de RPS já usado para o par
// (CNPJ do prestador, série). 0 quando nenhum.
//
// Antes da leitura, toma um advisory lock transacional por (prestador, série):
// dentro de uma transação ele segura até o commit, serializando leitura e
// inserção de numerações concorrentes para a mesma série. Fora de transação o
// lock é liberado ao fim do statement e a chamada vira uma leitura simples.
func (r *InvoiceRepo) LastRPSNumber(ctx context.Context, providerCNPJ, series string) (int64, error) {
	lock := `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`
	if _, err := r.q.Exec(ctx, lock, providerCNPJ, series); err != nil {
		return 0, fmt.Errorf("rps number lock: %w", err)
	}
	query := `
		SELECT COALESCE(MAX(rps_number::BIGINT), 0)
		FROM invoices
		WHERE provider_cnpj = $1 AND rps_series = $2 AND rps_number ~ '^[0-9]+$'`
	var last int64
	if err := r.q.QueryRow(ctx, query, providerCNPJ, series).Scan(&last); err != nil {
		return 0, fmt.Errorf("last rps number: %w", err)
	}
	return last, nil
}

// Stats agrega contagens por status e o total faturado com sucesso no intervalo.
func (r *InvoiceRepo) Stats(ctx context.Context, from, to time.Time) (*repository.InvoiceStats, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(service_amount), 0)
		FROM invoices
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY status`
	rows, err := r.q.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("invoice stats: %w", err)
	}
	defer rows.Close()

	stats := &repository.InvoiceStats{
		ByStatus:         map[string]int64{},
		SuccessfulAmount: decimal.Zero,
	}
	for rows.Next() {
		var status string
		var count int64
		var amount decimal.Decimal
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] = count
		if status == entity.StatusSuccess {
			stats.SuccessfulAmount = amount
		}
	}
	return stats, rows.Err()
}

func scanInvoice(row pgx.Row) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := row.Scan(
		&inv.ID, &inv.RPSNumber, &inv.RPSSeries, &inv.IssueDate, &inv.ServiceCode, &inv.ServiceDescription,
		&inv.ServiceAmount, &inv.TaxRate, &inv.ISSRetained, &inv.CNAE, &inv.DeductionsAmount,
		&inv.ProviderCNPJ, &inv.ProviderMunicipalRegistration,
		&inv.CustomerDocument, &inv.CustomerDocumentType, &inv.CustomerName, &inv.CustomerEmail, &inv.CustomerAddress,
		&inv.AdditionalInfo, &inv.Status, &inv.NfseNumber, &inv.VerificationCode, &inv.XMLHash, &inv.PDFHash,
		&inv.XMLBase64, &inv.PDFBase64, &inv.XMLSignedEncrypted,
		&inv.CancelReason, &inv.CanceledAt, &inv.RawNormalizedJSON, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
