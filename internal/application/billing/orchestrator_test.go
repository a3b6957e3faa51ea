package billing_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// emissionPayload devolve um payload sem rpsNumber: a numeração automática
// entra em cena.
func emissionPayload() map[string]any {
	return map[string]any{
		"rpsSeries":          "A",
		"serviceCode":        "101",
		"serviceDescription": "Consulting",
		"serviceAmount":      150.50,
		"taxRate":            0.02,
		"provider":           map[string]any{"cnpj": "12345678000199"},
		"customer":           map[string]any{"cnpj": "99887766000155", "name": "Acme"},
	}
}

func successAgent() *fakeAgent {
	return &fakeAgent{
		emitResult: &billing.AgentResult{
			Status:           billing.AgentStatusSuccess,
			NfseNumber:       "2026000123",
			VerificationCode: "ABCD-1234",
			XMLBase64:        base64.StdEncoding.EncodeToString([]byte("<Nfse/>")),
			PDFBase64:        base64.StdEncoding.EncodeToString([]byte("%PDF-fake")),
		},
		cancelRes: &billing.AgentResult{Status: billing.AgentStatusCancelled},
	}
}

func TestEmit_FluxoCompletoComSucesso(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "chave-1")
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, entity.StatusSuccess, inv.Status)
	assert.Equal(t, "1", inv.RPSNumber, "primeiro RPS da série recebe o número 1")
	assert.Equal(t, "2026000123", inv.NfseNumber)
	assert.Equal(t, "ABCD-1234", inv.VerificationCode)

	// Hash do XML assinado gravado antes da chamada ao agente
	assert.Len(t, inv.XMLHash, 64, "SHA-256 em hex")
	assert.NotEmpty(t, inv.XMLSignedEncrypted)
	assert.NotEmpty(t, inv.XMLBase64)
	assert.Len(t, inv.PDFHash, 64)

	// Webhook de PENDING -> SUCCESS
	events := env.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, entity.StatusPending, events[0].oldStatus)
	assert.Equal(t, entity.StatusSuccess, events[0].newStatus)

	// Snapshot de idempotência acompanha o status final
	rec, err := env.idem.GetByKey(ctx, "chave-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, entity.StatusSuccess, rec.StatusSnapshot)

	// Trilha de auditoria da emissão
	msgs := env.audit.messages(inv.ID)
	assert.Contains(t, msgs, "invoice_created")
	assert.Contains(t, msgs, "invoice_finalized")
}

func TestEmit_NumeracaoSequencialPorSerie(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	first, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)

	second := emissionPayload()
	second["serviceDescription"] = "Outra consultoria"
	inv2, err := env.orchestrator.Emit(ctx, second, "")
	require.NoError(t, err)

	assert.Equal(t, "1", first.RPSNumber)
	assert.Equal(t, "2", inv2.RPSNumber)
}

func TestEmit_NumeracaoConcorrenteSemDuplicata(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	// A numeração acontece dentro da transação de criação: emissões
	// concorrentes para a mesma série nunca repetem número.
	const emissions = 8
	errs := make(chan error, emissions)
	var wg sync.WaitGroup
	for i := 0; i < emissions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := emissionPayload()
			payload["serviceDescription"] = fmt.Sprintf("Consultoria %d", n)
			_, err := env.orchestrator.Emit(ctx, payload, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	invs, err := env.invoices.List(ctx, repository.ListFilter{Limit: emissions})
	require.NoError(t, err)
	require.Len(t, invs, emissions)

	seen := map[string]bool{}
	for _, inv := range invs {
		assert.False(t, seen[inv.RPSNumber], "número de RPS %s repetido", inv.RPSNumber)
		seen[inv.RPSNumber] = true
	}
}

func TestEmit_IdempotenciaMesmoPayload(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	first, err := env.orchestrator.Emit(ctx, emissionPayload(), "chave-idem")
	require.NoError(t, err)

	replay, err := env.orchestrator.Emit(ctx, emissionPayload(), "chave-idem")
	require.NoError(t, err)

	assert.Equal(t, first.ID, replay.ID, "mesma chave e payload devolvem a mesma nota")
	assert.Equal(t, 1, env.agent.emitCount(), "agente chamado uma única vez")
}

func TestEmit_ConflitoDeIdempotencia(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	_, err := env.orchestrator.Emit(ctx, emissionPayload(), "chave-x")
	require.NoError(t, err)

	changed := emissionPayload()
	changed["serviceAmount"] = 999.99
	_, err = env.orchestrator.Emit(ctx, changed, "chave-x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestEmit_RejeicaoNaoEhErro(t *testing.T) {
	agent := successAgent()
	agent.emitResult = &billing.AgentResult{
		Status:  billing.AgentStatusRejected,
		Message: "CNPJ do prestador irregular",
	}
	env := newTestEnv(agent)

	inv, err := env.orchestrator.Emit(context.Background(), emissionPayload(), "")
	require.NoError(t, err, "rejeição explícita é desfecho normal")
	assert.Equal(t, entity.StatusRejected, inv.Status)
	assert.NotEmpty(t, inv.XMLHash, "hash do XML gravado mesmo com rejeição")

	events := env.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, entity.StatusRejected, events[0].newStatus)
}

func TestEmit_FalhaDeTransporteDeixaPendente(t *testing.T) {
	agent := successAgent()
	agent.emitResult = nil
	agent.emitErr = domain.ErrAgentCommunication
	env := newTestEnv(agent)
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAgentCommunication)
	require.NotNil(t, inv, "nota criada vem junto com o erro de transporte")
	assert.Equal(t, entity.StatusPending, inv.Status)
	assert.NotEmpty(t, inv.XMLHash)

	stored, err := env.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Empty(t, env.notifier.all(), "sem webhook enquanto o status não muda")
}

func TestEmit_StatusDesconhecidoDoAgente(t *testing.T) {
	agent := successAgent()
	agent.emitResult = &billing.AgentResult{Status: "PROCESSANDO"}
	env := newTestEnv(agent)

	inv, err := env.orchestrator.Emit(context.Background(), emissionPayload(), "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, inv.Status, "nenhuma transição aplicada")
	assert.Empty(t, env.notifier.all())
}

func TestCancel_NotaEmitida(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)
	require.Equal(t, entity.StatusSuccess, inv.Status)

	cancelled, err := env.orchestrator.Cancel(ctx, inv.ID, "erro de digitação")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)
	assert.Equal(t, "erro de digitação", cancelled.CancelReason)
	require.NotNil(t, cancelled.CanceledAt)
	assert.WithinDuration(t, time.Now(), *cancelled.CanceledAt, time.Minute)

	// CANCELLED é terminal
	_, err = env.orchestrator.Cancel(ctx, inv.ID, "de novo")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancel_NotaPendente(t *testing.T) {
	agent := successAgent()
	agent.emitErr = domain.ErrAgentCommunication
	agent.emitResult = nil
	env := newTestEnv(agent)
	ctx := context.Background()

	inv, _ := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NotNil(t, inv)
	require.Equal(t, entity.StatusPending, inv.Status)

	cancelled, err := env.orchestrator.Cancel(ctx, inv.ID, "desistência")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)
}

func TestCancel_NotaRejeitada(t *testing.T) {
	agent := successAgent()
	agent.emitResult = &billing.AgentResult{Status: billing.AgentStatusRejected}
	env := newTestEnv(agent)
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)

	_, err = env.orchestrator.Cancel(ctx, inv.ID, "tanto faz")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancel_StatusDesconhecidoNaoTransiciona(t *testing.T) {
	agent := successAgent()
	agent.cancelRes = &billing.AgentResult{Status: "EM_ANALISE"}
	env := newTestEnv(agent)
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)

	got, err := env.orchestrator.Cancel(ctx, inv.ID, "motivo")
	require.NoError(t, err, "resultado não reconhecido não é erro")
	assert.Equal(t, entity.StatusSuccess, got.Status, "nenhuma transição aplicada")
	assert.Nil(t, got.CanceledAt)
}

func TestCancel_NotaInexistente(t *testing.T) {
	env := newTestEnv(successAgent())
	_, err := env.orchestrator.Cancel(context.Background(), "nao-existe", "motivo")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReemit_SoParaPendentes(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	inv, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)
	require.Equal(t, entity.StatusSuccess, inv.Status)

	_, err = env.orchestrator.Reemit(ctx, inv.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGet_NotaInexistente(t *testing.T) {
	env := newTestEnv(successAgent())
	_, err := env.orchestrator.Get(context.Background(), "nao-existe")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_FiltroPorStatus(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	_, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)

	all, err := env.orchestrator.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	succeeded, err := env.orchestrator.List(ctx, repository.ListFilter{Status: entity.StatusSuccess})
	require.NoError(t, err)
	assert.Len(t, succeeded, 1)

	cancelled, err := env.orchestrator.List(ctx, repository.ListFilter{Status: entity.StatusCancelled})
	require.NoError(t, err)
	assert.Empty(t, cancelled)
}

func TestListStats_Agregados(t *testing.T) {
	env := newTestEnv(successAgent())
	ctx := context.Background()

	_, err := env.orchestrator.Emit(ctx, emissionPayload(), "")
	require.NoError(t, err)

	stats, err := env.orchestrator.ListStats(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[entity.StatusSuccess])
	assert.Equal(t, "150.5", stats.SuccessfulAmount.String())
}
