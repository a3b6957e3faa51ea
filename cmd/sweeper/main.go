// Processo do sweeper de reprocessamento. Com -once faz uma passagem única
// (invocação curta/agendada); sem a flag roda o laço periódico.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/infrastructure/agent"
	"github.com/jhoicas/nfse-api/internal/infrastructure/envelope"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/internal/infrastructure/postgres"
	"github.com/jhoicas/nfse-api/internal/infrastructure/webhook"
	"github.com/jhoicas/nfse-api/pkg/config"
	"github.com/jhoicas/nfse-api/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "executa uma única passagem e encerra")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("carregar configuração: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info"})
	log.Info().Bool("once", *once).Msg("iniciando sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexão com PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	idemRepo := postgres.NewIdempotencyRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	certProvider := infranfse.NewCertProvider(cfg.NFSe.CertPath, cfg.NFSe.CertPassword, cfg.NFSe.Environment)
	if _, err := certProvider.Material(); err != nil {
		log.Fatal().Err(err).Msg("certificado de assinatura")
	}
	signerSvc := signer.NewService(certProvider, cfg.NFSe.LegacySHA1)
	codec := envelope.NewCodec(cfg.Crypto.EncryptionSecret)

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
		billing.NewNormalizer(), infranfse.NewXMLBuilderService(), signerSvc, codec,
		agentClient, notifier,
		billing.RenderOptions{NamespaceURI: cfg.NFSe.Namespace}, log,
	)
	sweeper := billing.NewSweeper(orchestrator, invoiceRepo, auditRepo, notifier,
		billing.SweeperConfig{
			MaxRetries: cfg.Sweeper.MaxRetries,
			PendingAge: time.Duration(cfg.Sweeper.PendingAgeMinutes) * time.Minute,
		}, log)

	if *once {
		n, err := sweeper.SweepOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("varredura falhou")
		}
		log.Info().Int("processed", n).Msg("varredura concluída")
		return
	}
	sweeper.Run(ctx, time.Duration(cfg.Sweeper.IntervalMinutes)*time.Minute)
	log.Info().Msg("sweeper encerrado")
}
