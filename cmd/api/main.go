package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/infrastructure/agent"
	"github.com/jhoicas/nfse-api/internal/infrastructure/envelope"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	infrapdf "github.com/jhoicas/nfse-api/internal/infrastructure/pdf"
	"github.com/jhoicas/nfse-api/internal/infrastructure/postgres"
	"github.com/jhoicas/nfse-api/internal/infrastructure/webhook"
	httpRouter "github.com/jhoicas/nfse-api/internal/interfaces/http"
	"github.com/jhoicas/nfse-api/pkg/config"
	"github.com/jhoicas/nfse-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("carregar configuração: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando aplicação")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexão com PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	idemRepo := postgres.NewIdempotencyRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Pipeline de emissão: certificado, XML, assinatura e criptografia
	certProvider := infranfse.NewCertProvider(cfg.NFSe.CertPath, cfg.NFSe.CertPassword, cfg.NFSe.Environment)
	if _, err := certProvider.Material(); err != nil {
		log.Fatal().Err(err).Msg("certificado de assinatura")
	}
	xmlBuilder := infranfse.NewXMLBuilderService()
	signerSvc := signer.NewService(certProvider, cfg.NFSe.LegacySHA1)
	codec := envelope.NewCodec(cfg.Crypto.EncryptionSecret)
	renderOpts := billing.RenderOptions{NamespaceURI: cfg.NFSe.Namespace}

	// Agente fiscalizador: cliente real com mTLS, ou stub determinístico
	var agentClient billing.AgentClient
	if cfg.NFSe.AgentURL != "" {
		agentClient, err = agent.NewClient(cfg.NFSe.AgentURL, certProvider,
			time.Duration(cfg.NFSe.AgentTimeout)*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("cliente do agente fiscalizador")
		}
	} else {
		log.Warn().Msg("NFSE_AGENT_URL ausente: usando agente simulado")
		agentClient = agent.NewStub()
	}

	var notifier billing.WebhookNotifier = webhook.NoopNotifier{}
	if cfg.Webhook.URL != "" {
		notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret,
			time.Duration(cfg.Webhook.Timeout)*time.Second, log)
	}

	orchestrator := billing.NewEmissionOrchestrator(
		txRunner, invoiceRepo, idemRepo, auditRepo,
		billing.NewNormalizer(), xmlBuilder, signerSvc, codec,
		agentClient, notifier, renderOpts, log,
	)

	pdfGenerator := infrapdf.NewMarotoPDFGenerator(cfg.NFSe.MunicipalityCode)
	pdfUC := billing.NewPDFUseCase(invoiceRepo, codec, pdfGenerator)

	// Sweeper embutido: reprocessa PENDING antigas em segundo plano
	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if cfg.Sweeper.IntervalMinutes > 0 {
		sweeper := billing.NewSweeper(orchestrator, invoiceRepo, auditRepo, notifier,
			billing.SweeperConfig{
				MaxRetries: cfg.Sweeper.MaxRetries,
				PendingAge: time.Duration(cfg.Sweeper.PendingAgeMinutes) * time.Minute,
			}, log)
		go sweeper.Run(sweeperCtx, time.Duration(cfg.Sweeper.IntervalMinutes)*time.Minute)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    cfg.App.Name,
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Orchestrator: orchestrator,
		PDFUC:        pdfUC,
		JWTSecret:    cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("sinal de desligamento recebido, encerrando servidor...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("desligamento do servidor")
	}

	log.Info().Msg("aplicação encerrada")
}
