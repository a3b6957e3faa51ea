// Sweeper de reprocessamento: re-conduz notas presas em PENDING pelo
// pipeline de emissão, com número de tentativas limitado.

package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	"github.com/jhoicas/nfse-api/pkg/logger"
)

// SweeperConfig parâmetros do sweeper.
type SweeperConfig struct {
	MaxRetries int           // tentativas antes de forçar REJECTED
	PendingAge time.Duration // idade mínima de uma PENDING para ser varrida
}

// Sweeper varre notas PENDING antigas e as reemite via orquestrador.
// Funciona em passagem única (SweepOnce) ou em laço periódico (Run); a
// lógica por nota é idêntica, só muda o agendamento.
type Sweeper struct {
	orchestrator *EmissionOrchestrator
	invoiceRepo  repository.InvoiceRepository
	auditRepo    repository.AuditRepository
	notifier     WebhookNotifier
	cfg          SweeperConfig
	log          *logger.Logger
}

// NewSweeper cria o sweeper.
func NewSweeper(
	orchestrator *EmissionOrchestrator,
	invoiceRepo repository.InvoiceRepository,
	auditRepo repository.AuditRepository,
	notifier WebhookNotifier,
	cfg SweeperConfig,
	log *logger.Logger,
) *Sweeper {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PendingAge <= 0 {
		cfg.PendingAge = 30 * time.Minute
	}
	return &Sweeper{
		orchestrator: orchestrator,
		invoiceRepo:  invoiceRepo,
		auditRepo:    auditRepo,
		notifier:     notifier,
		cfg:          cfg,
		log:          log,
	}
}

// SweepOnce executa uma passagem única. Devolve quantas notas foram
// processadas; erros por nota são registrados e não interrompem a varredura.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.PendingAge)
	pending, err := s.invoiceRepo.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, inv := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		s.sweepInvoice(ctx, inv)
		processed++
	}
	return processed, nil
}

// sweepInvoice decide entre reemitir e forçar REJECTED por esgotamento de
// tentativas. Falha de transporte apenas deixa a nota PENDING para a
// próxima varredura.
func (s *Sweeper) sweepInvoice(ctx context.Context, inv *entity.Invoice) {
	attempts, err := s.auditRepo.CountRetryMarks(ctx, inv.ID)
	if err != nil {
		s.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("contar tentativas falhou; nota pulada")
		return
	}
	if attempts >= s.cfg.MaxRetries {
		s.forceReject(ctx, inv, attempts)
		return
	}

	// Marca de tentativa antes da reemissão: conta inclusive as que
	// terminarem em falha de transporte.
	if err := s.auditRepo.Create(ctx, &entity.AuditEntry{
		ID:      uuid.NewString(),
		Level:   entity.AuditInfo,
		Message: entity.AuditRetryMark,
		Context: map[string]any{
			"attempt": attempts + 1,
			"max":     s.cfg.MaxRetries,
		},
		InvoiceID: inv.ID,
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("registrar marca de tentativa falhou")
	}

	if _, err := s.orchestrator.Reemit(ctx, inv.ID); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", inv.ID).Int("attempt", attempts+1).
			Msg("reemissão falhou; nota continua PENDING")
		return
	}
	s.log.Info().Str("invoice_id", inv.ID).Int("attempt", attempts+1).Msg("nota reprocessada")
}

// forceReject encerra uma nota que esgotou as tentativas, sem nova chamada
// ao agente.
func (s *Sweeper) forceReject(ctx context.Context, inv *entity.Invoice, attempts int) {
	oldStatus := inv.Status
	inv.Status = entity.StatusRejected
	inv.UpdatedAt = time.Now()
	if err := s.invoiceRepo.Update(ctx, inv); err != nil {
		s.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("persistir REJECTED por esgotamento falhou")
		return
	}
	if err := s.auditRepo.Create(ctx, &entity.AuditEntry{
		ID:      uuid.NewString(),
		Level:   entity.AuditWarn,
		Message: "max_retries_exceeded",
		Context: map[string]any{
			"attempts": attempts,
			"max":      s.cfg.MaxRetries,
		},
		InvoiceID: inv.ID,
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("gravar auditoria falhou")
	}
	s.notifier.NotifyStatusChange(inv.ID, oldStatus, entity.StatusRejected, map[string]string{
		"reason": "max_retries_exceeded",
	})
	s.log.Warn().Str("invoice_id", inv.ID).Int("attempts", attempts).Msg("tentativas esgotadas; nota rejeitada")
}

// Run executa varreduras periódicas até o contexto ser cancelado.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("varredura falhou")
				continue
			}
			if n > 0 {
				s.log.Info().Int("processed", n).Msg("varredura concluída")
			}
		}
	}
}
