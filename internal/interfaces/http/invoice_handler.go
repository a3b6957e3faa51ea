package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/application/dto"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// InvoiceHandler trata as requisições HTTP de emissão de NFS-e (protegido).
type InvoiceHandler struct {
	orchestrator *billing.EmissionOrchestrator
	pdfUC        *billing.PDFUseCase
}

// NewInvoiceHandler constrói o handler.
func NewInvoiceHandler(orchestrator *billing.EmissionOrchestrator, pdfUC *billing.PDFUseCase) *InvoiceHandler {
	return &InvoiceHandler{orchestrator: orchestrator, pdfUC: pdfUC}
}

// Emit emite uma NFS-e a partir de um payload livre.
// A chave de idempotência vem no header Idempotency-Key (opcional).
// POST /api/v1/invoices
func (h *InvoiceHandler) Emit(c *fiber.Ctx) error {
	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "corpo inválido"})
	}
	idempotencyKey := c.Get("Idempotency-Key")

	inv, err := h.orchestrator.Emit(c.Context(), payload, idempotencyKey)
	if err != nil {
		// Falha de transporte ao agente: a nota ficou PENDING; devolver o
		// que existe junto do erro para o chamador acompanhar.
		if errors.Is(err, domain.ErrAgentCommunication) && inv != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   dto.ErrorResponse{Code: "AGENT_UNAVAILABLE", Message: "agente indisponível; nota pendente de reprocessamento"},
				"invoice": dto.FromInvoice(inv),
			})
		}
		return h.mapError(c, err)
	}
	// Rejeição do agente é desfecho normal: vem como 201 com status REJECTED
	return c.Status(fiber.StatusCreated).JSON(dto.FromInvoice(inv))
}

// GetByID devolve a nota.
// GET /api/v1/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	inv, err := h.orchestrator.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.FromInvoice(inv))
}

// Cancel solicita o cancelamento da nota.
// POST /api/v1/invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRequest
	if err := c.BodyParser(&in); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "corpo inválido"})
	}
	inv, err := h.orchestrator.Cancel(c.Context(), c.Params("id"), in.Reason)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.FromInvoice(inv))
}

// GetPDF devolve o PDF da nota (do agente, ou DANFSE gerado localmente).
// GET /api/v1/invoices/:id/pdf
func (h *InvoiceHandler) GetPDF(c *fiber.Ctx) error {
	raw, err := h.pdfUC.GetPDF(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	c.Set("Content-Type", "application/pdf")
	return c.Send(raw)
}

// List devolve notas por filtro (query status/from/to/limit/offset).
// GET /api/v1/invoices
func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	filter := repository.ListFilter{
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit"),
		Offset: c.QueryInt("offset"),
	}
	if q := c.Query("from"); q != "" {
		parsed, err := parseDate(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from inválido"})
		}
		filter.From = parsed
	}
	if q := c.Query("to"); q != "" {
		parsed, err := parseDate(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to inválido"})
		}
		filter.To = parsed
	}
	invoices, err := h.orchestrator.List(c.Context(), filter)
	if err != nil {
		return h.mapError(c, err)
	}
	out := make([]dto.InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, dto.FromInvoice(inv))
	}
	return c.JSON(out)
}

// Stats devolve os agregados do intervalo (query from/to, RFC 3339 ou
// 2006-01-02; default últimos 30 dias).
// GET /api/v1/invoices/stats
func (h *InvoiceHandler) Stats(c *fiber.Ctx) error {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if q := c.Query("from"); q != "" {
		parsed, err := parseDate(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from inválido"})
		}
		from = parsed
	}
	if q := c.Query("to"); q != "" {
		parsed, err := parseDate(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to inválido"})
		}
		to = parsed
	}
	stats, err := h.orchestrator.ListStats(c.Context(), from, to)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.FromStats(from, to, stats))
}

// mapError traduz os erros de domínio para status HTTP.
func (h *InvoiceHandler) mapError(c *fiber.Ctx, err error) error {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: vErr.Error()})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNormalization):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "IDEMPOTENCY_CONFLICT", Message: "chave de idempotência reutilizada com payload diferente"})
	case errors.Is(err, domain.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "nota não encontrada"})
	case errors.Is(err, domain.ErrAgentCommunication):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "AGENT_UNAVAILABLE", Message: "agente indisponível"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
