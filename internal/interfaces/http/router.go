package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-api/internal/application/billing"
)

// RouterDeps dependências para o router.
type RouterDeps struct {
	Orchestrator *billing.EmissionOrchestrator
	PDFUC        *billing.PDFUseCase
	JWTSecret    string
}

// Router registra as rotas da API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api/v1")

	// Saúde (público)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Rotas protegidas (exigem Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	invoices := protected.Group("/invoices")
	handler := NewInvoiceHandler(deps.Orchestrator, deps.PDFUC)
	invoices.Post("/", handler.Emit)
	invoices.Get("/", handler.List)
	invoices.Get("/stats", handler.Stats)
	invoices.Get("/:id", handler.GetByID)
	invoices.Get("/:id/pdf", handler.GetPDF)
	invoices.Post("/:id/cancel", handler.Cancel)
}
