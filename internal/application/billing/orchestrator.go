// Orquestrador de emissão de NFS-e:
//
//	Normalização → XML ABRASF → Assinatura XML-DSig → Envio ao agente → Update DB
//
// Estados: PENDING -> {SUCCESS, REJECTED}; {PENDING, SUCCESS} -> CANCELLED.
// A emissão é idempotente por chave fornecida pelo chamador; falha de
// comunicação com o agente deixa a nota PENDING para o sweeper reprocessar.

package billing

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	"github.com/jhoicas/nfse-api/pkg/logger"
	pkgnfse "github.com/jhoicas/nfse-api/pkg/nfse"
)

// EmissionOrchestrator compõe normalização, renderização, assinatura,
// criptografia e o agente externo no ciclo completo da nota.
type EmissionOrchestrator struct {
	txRunner    EmissionTxRunner
	invoiceRepo repository.InvoiceRepository
	idemRepo    repository.IdempotencyRepository
	auditRepo   repository.AuditRepository
	normalizer  *Normalizer
	renderer    DocumentRenderer
	signer      XMLSigner
	codec       ArtifactCodec
	agent       AgentClient
	notifier    WebhookNotifier
	renderOpts  RenderOptions
	log         *logger.Logger
}

// NewEmissionOrchestrator constrói o orquestrador com todas as dependências.
func NewEmissionOrchestrator(
	txRunner EmissionTxRunner,
	invoiceRepo repository.InvoiceRepository,
	idemRepo repository.IdempotencyRepository,
	auditRepo repository.AuditRepository,
	normalizer *Normalizer,
	renderer DocumentRenderer,
	signer XMLSigner,
	codec ArtifactCodec,
	agent AgentClient,
	notifier WebhookNotifier,
	renderOpts RenderOptions,
	log *logger.Logger,
) *EmissionOrchestrator {
	return &EmissionOrchestrator{
		txRunner:    txRunner,
		invoiceRepo: invoiceRepo,
		idemRepo:    idemRepo,
		auditRepo:   auditRepo,
		normalizer:  normalizer,
		renderer:    renderer,
		signer:      signer,
		codec:       codec,
		agent:       agent,
		notifier:    notifier,
		renderOpts:  renderOpts,
		log:         log,
	}
}

// Emit executa o fluxo completo de emissão para um payload bruto.
// idempotencyKey pode ser vazio (sem garantia de idempotência).
//
// Quando a falha acontece depois de a nota ter sido criada (queda de
// comunicação com o agente, por exemplo), Emit devolve a nota PENDING
// junto com o erro: o chamador fica com o ID para consulta e o sweeper
// assume o reprocessamento.
func (o *EmissionOrchestrator) Emit(ctx context.Context, rawPayload map[string]any, idempotencyKey string) (*entity.Invoice, error) {
	correlationID := uuid.NewString()

	// ── 1. Normalizar e validar ──────────────────────────────────────────
	norm, err := o.normalizer.Normalize(rawPayload)
	if err != nil {
		return nil, err
	}

	// ── 2. Fingerprint de idempotência (antes dos defaults do servidor) ──
	fingerprint := norm.Fingerprint()
	if idempotencyKey != "" {
		existing, err := o.idemRepo.GetByKey(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("consultar idempotência: %w", err)
		}
		if existing != nil {
			return o.replayIdempotent(ctx, existing, fingerprint)
		}
	}

	// ── 3. Criar nota PENDING + registro de idempotência (transação) ─────
	// A numeração automática do RPS acontece dentro da mesma transação.
	inv, err := o.createPending(ctx, norm, idempotencyKey, fingerprint, correlationID)
	if err != nil {
		// Corrida na criação da chave: outro chamador venceu a linha.
		// Reler e tratar como replay/conflito.
		if idempotencyKey != "" {
			if existing, readErr := o.idemRepo.GetByKey(ctx, idempotencyKey); readErr == nil && existing != nil {
				return o.replayIdempotent(ctx, existing, fingerprint)
			}
		}
		return nil, err
	}

	// ── 4-6. Assinar, enviar ao agente e persistir o resultado ───────────
	if err := o.transmit(ctx, inv, norm, idempotencyKey, correlationID); err != nil {
		return inv, err
	}
	return inv, nil
}

// replayIdempotent resolve uma chave já registrada: mesmo payload devolve a
// nota existente sem reemitir; payload diferente é conflito.
func (o *EmissionOrchestrator) replayIdempotent(ctx context.Context, rec *entity.IdempotencyRecord, fingerprint string) (*entity.Invoice, error) {
	if rec.PayloadHash != fingerprint {
		return nil, fmt.Errorf("%w: chave %q", domain.ErrIdempotencyConflict, rec.Key)
	}
	inv, err := o.invoiceRepo.GetByID(ctx, rec.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("carregar nota da chave de idempotência: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: nota %s", domain.ErrNotFound, rec.InvoiceID)
	}
	return inv, nil
}

// createPending cria a nota em PENDING junto com o registro de idempotência
// e a entrada de auditoria, tudo na mesma transação. A numeração automática
// do RPS (último número + 1 por prestador e série) também acontece aqui
// dentro: leitura e criação ficam no mesmo escopo de serialização do banco,
// sem janela para dois chamadores concorrentes receberem o mesmo número.
func (o *EmissionOrchestrator) createPending(ctx context.Context, norm *entity.NormalizedInvoice, idempotencyKey, fingerprint, correlationID string) (*entity.Invoice, error) {
	now := time.Now()
	doc, docType := norm.Customer.Document()
	inv := &entity.Invoice{
		ID:                 uuid.NewString(),
		RPSSeries:          norm.RPSSeries,
		IssueDate:          norm.IssueDate,
		ServiceCode:        norm.ServiceCode,
		ServiceDescription: norm.ServiceDescription,
		ServiceAmount:      norm.ServiceAmount,
		TaxRate:            norm.TaxRate,
		ISSRetained:        norm.ISSRetained,
		CNAE:               norm.CNAE,
		DeductionsAmount:   norm.DeductionsAmount,

		ProviderCNPJ:                  norm.Provider.CNPJ,
		ProviderMunicipalRegistration: norm.Provider.MunicipalRegistration,

		CustomerDocument:     doc,
		CustomerDocumentType: docType,
		CustomerName:         norm.Customer.Name,
		CustomerEmail:        norm.Customer.Email,
		CustomerAddress:      norm.Customer.Address,

		AdditionalInfo: norm.AdditionalInfo,
		Status:         entity.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := o.txRunner.RunEmission(ctx, func(
		invRepo repository.InvoiceRepository,
		idemRepo repository.IdempotencyRepository,
		auditRepo repository.AuditRepository,
	) error {
		if norm.RPSNumber == "" {
			last, err := invRepo.LastRPSNumber(ctx, norm.Provider.CNPJ, norm.RPSSeries)
			if err != nil {
				return fmt.Errorf("consultar último RPS: %w", err)
			}
			norm.RPSNumber = fmt.Sprintf("%d", last+1)
			norm.RPSNumberAssigned = true
		}
		inv.RPSNumber = norm.RPSNumber
		rawJSON, err := json.Marshal(norm)
		if err != nil {
			return fmt.Errorf("serializar nota normalizada: %w", err)
		}
		inv.RawNormalizedJSON = string(rawJSON)

		if err := invRepo.Create(ctx, inv); err != nil {
			return err
		}
		if idempotencyKey != "" {
			rec := &entity.IdempotencyRecord{
				Key:            idempotencyKey,
				InvoiceID:      inv.ID,
				PayloadHash:    fingerprint,
				StatusSnapshot: entity.StatusPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := idemRepo.Create(ctx, rec); err != nil {
				return err
			}
		}
		return auditRepo.Create(ctx, &entity.AuditEntry{
			ID:      uuid.NewString(),
			Level:   entity.AuditInfo,
			Message: "invoice_created",
			Context: map[string]any{
				"rpsNumber":        inv.RPSNumber,
				"rpsSeries":        inv.RPSSeries,
				"providerCnpj":     pkgnfse.MaskDocument(inv.ProviderCNPJ),
				"customerDocument": pkgnfse.MaskDocument(inv.CustomerDocument),
			},
			InvoiceID:     inv.ID,
			CorrelationID: correlationID,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// transmit assina o XML (best-effort), envia ao agente e persiste o
// resultado. Compartilhado entre a emissão e o reprocessamento do sweeper.
func (o *EmissionOrchestrator) transmit(ctx context.Context, inv *entity.Invoice, norm *entity.NormalizedInvoice, idempotencyKey, correlationID string) error {
	// Assinatura local best-effort: falha aqui não aborta a emissão, os
	// artefatos devolvidos pelo agente continuam utilizáveis.
	o.signAndStore(ctx, inv, norm, correlationID)

	// Envio ao agente. Falha de transporte deixa a nota PENDING.
	result, err := o.agent.EmitInvoice(ctx, norm)
	if err != nil {
		o.audit(ctx, entity.AuditError, "agent_communication_failed", inv.ID, correlationID, map[string]any{
			"error": err.Error(),
		})
		if errors.Is(err, domain.ErrAgentCommunication) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrAgentCommunication, err)
	}
	return o.finalize(ctx, inv, result, idempotencyKey, correlationID)
}

// signAndStore gera e assina o XML, persistindo hash e envelope cifrado
// antes da chamada ao agente, para que o hash fique registrado qualquer que
// seja o desfecho.
func (o *EmissionOrchestrator) signAndStore(ctx context.Context, inv *entity.Invoice, norm *entity.NormalizedInvoice, correlationID string) {
	xmlString, err := o.renderer.Render(norm, o.renderOpts)
	if err != nil {
		o.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("render do XML falhou; emissão segue sem assinatura local")
		o.audit(ctx, entity.AuditWarn, "xml_render_failed", inv.ID, correlationID, map[string]any{"error": err.Error()})
		return
	}
	signedXML, err := o.signer.Sign(xmlString)
	if err != nil {
		o.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("assinatura local falhou; emissão segue")
		o.audit(ctx, entity.AuditWarn, "xml_sign_failed", inv.ID, correlationID, map[string]any{"error": err.Error()})
		return
	}
	sum := sha256.Sum256([]byte(signedXML))
	inv.XMLHash = hex.EncodeToString(sum[:])
	encrypted, err := o.codec.EncryptToJSON(base64.StdEncoding.EncodeToString([]byte(signedXML)))
	if err != nil {
		o.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("criptografia do XML assinado falhou")
	} else {
		inv.XMLSignedEncrypted = encrypted
	}
	inv.UpdatedAt = time.Now()
	if err := o.invoiceRepo.Update(ctx, inv); err != nil {
		o.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("persistir XML assinado falhou")
	}
}

// finalize aplica o resultado do agente à nota e dispara as notificações.
func (o *EmissionOrchestrator) finalize(ctx context.Context, inv *entity.Invoice, result *AgentResult, idempotencyKey, correlationID string) error {
	oldStatus := inv.Status
	switch result.Status {
	case AgentStatusSuccess:
		inv.Status = entity.StatusSuccess
	case AgentStatusRejected:
		inv.Status = entity.StatusRejected
	case AgentStatusPending:
		inv.Status = entity.StatusPending
	default:
		o.log.Warn().Str("invoice_id", inv.ID).Str("agent_status", result.Status).
			Msg("status desconhecido do agente; nota permanece como está")
		return nil
	}

	inv.NfseNumber = result.NfseNumber
	inv.VerificationCode = result.VerificationCode
	if result.XMLBase64 != "" {
		if enc, err := o.codec.EncryptToJSON(result.XMLBase64); err == nil {
			inv.XMLBase64 = enc
		}
	}
	if result.PDFBase64 != "" {
		if enc, err := o.codec.EncryptToJSON(result.PDFBase64); err == nil {
			inv.PDFBase64 = enc
		}
		if raw, err := base64.StdEncoding.DecodeString(result.PDFBase64); err == nil {
			sum := sha256.Sum256(raw)
			inv.PDFHash = hex.EncodeToString(sum[:])
		}
	}
	inv.UpdatedAt = time.Now()

	if err := o.invoiceRepo.Update(ctx, inv); err != nil {
		return fmt.Errorf("persistir resultado da emissão: %w", err)
	}
	if idempotencyKey != "" {
		if err := o.idemRepo.UpdateSnapshot(ctx, idempotencyKey, inv.Status); err != nil {
			o.log.Warn().Err(err).Str("key", idempotencyKey).Msg("atualizar snapshot de idempotência falhou")
		}
	}
	o.audit(ctx, entity.AuditInfo, "invoice_finalized", inv.ID, correlationID, map[string]any{
		"status":     inv.Status,
		"nfseNumber": inv.NfseNumber,
	})
	if inv.Status != oldStatus {
		o.notifier.NotifyStatusChange(inv.ID, oldStatus, inv.Status, map[string]string{
			"nfseNumber":       inv.NfseNumber,
			"verificationCode": inv.VerificationCode,
		})
	}
	if inv.Status == entity.StatusRejected {
		o.log.Info().Str("invoice_id", inv.ID).Str("motivo", result.Message).Msg("nota rejeitada pelo agente")
	}
	return nil
}

// Reemit reprocessa uma nota PENDING a partir do snapshot normalizado
// persistido, sem chave de idempotência. Usado pelo sweeper.
func (o *EmissionOrchestrator) Reemit(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: nota %s", domain.ErrNotFound, invoiceID)
	}
	if inv.Status != entity.StatusPending {
		return nil, fmt.Errorf("%w: nota %s está %s, reprocessamento só para PENDING", domain.ErrInvalidState, invoiceID, inv.Status)
	}
	var norm entity.NormalizedInvoice
	if err := json.Unmarshal([]byte(inv.RawNormalizedJSON), &norm); err != nil {
		return nil, fmt.Errorf("%w: snapshot normalizado ilegível: %v", domain.ErrNormalization, err)
	}
	if err := o.transmit(ctx, inv, &norm, "", uuid.NewString()); err != nil {
		return inv, err
	}
	return inv, nil
}

// Cancel solicita o cancelamento da nota ao agente e aplica a transição.
// Um resultado não reconhecido do agente não transiciona nem falha: default
// conservador, apenas registrado em log de aviso.
func (o *EmissionOrchestrator) Cancel(ctx context.Context, invoiceID, reason string) (*entity.Invoice, error) {
	correlationID := uuid.NewString()

	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: nota %s", domain.ErrNotFound, invoiceID)
	}
	if !inv.CanCancel() {
		return nil, fmt.Errorf("%w: nota %s está %s", domain.ErrInvalidState, invoiceID, inv.Status)
	}

	reference := inv.NfseNumber
	if reference == "" {
		reference = inv.ID
	}
	result, err := o.agent.CancelInvoice(ctx, reference, reason)
	if err != nil {
		if errors.Is(err, domain.ErrAgentCommunication) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAgentCommunication, err)
	}

	oldStatus := inv.Status
	switch result.Status {
	case AgentStatusCancelled:
		now := time.Now()
		inv.Status = entity.StatusCancelled
		inv.CancelReason = reason
		inv.CanceledAt = &now
	case AgentStatusRejected:
		inv.Status = entity.StatusRejected
	default:
		o.log.Warn().Str("invoice_id", inv.ID).Str("agent_status", result.Status).
			Msg("cancelamento com status desconhecido do agente; nenhuma transição aplicada")
		return inv, nil
	}
	inv.UpdatedAt = time.Now()
	if err := o.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("persistir cancelamento: %w", err)
	}
	o.audit(ctx, entity.AuditInfo, "invoice_cancel", inv.ID, correlationID, map[string]any{
		"oldStatus": oldStatus,
		"newStatus": inv.Status,
		"reason":    reason,
	})
	if inv.Status != oldStatus {
		o.notifier.NotifyStatusChange(inv.ID, oldStatus, inv.Status, map[string]string{"reason": reason})
	}
	return inv, nil
}

// Get devolve a nota pelo ID.
func (o *EmissionOrchestrator) Get(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: nota %s", domain.ErrNotFound, invoiceID)
	}
	return inv, nil
}

// List devolve as notas que atendem ao filtro, mais recentes primeiro.
func (o *EmissionOrchestrator) List(ctx context.Context, filter repository.ListFilter) ([]*entity.Invoice, error) {
	return o.invoiceRepo.List(ctx, filter)
}

// ListStats devolve os agregados de emissão no intervalo.
func (o *EmissionOrchestrator) ListStats(ctx context.Context, from, to time.Time) (*repository.InvoiceStats, error) {
	return o.invoiceRepo.Stats(ctx, from, to)
}

// audit grava na trilha de auditoria; falhas aqui nunca são fatais.
func (o *EmissionOrchestrator) audit(ctx context.Context, level, message, invoiceID, correlationID string, auditCtx map[string]any) {
	err := o.auditRepo.Create(ctx, &entity.AuditEntry{
		ID:            uuid.NewString(),
		Level:         level,
		Message:       message,
		Context:       auditCtx,
		InvoiceID:     invoiceID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		o.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("gravar auditoria falhou")
	}
}
