package billing_test

// Dublês em memória dos colaboradores externos do orquestrador. Renderização,
// assinatura e criptografia usam as implementações reais; banco, agente e
// webhook são substituídos.

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-api/internal/application/billing"
	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	"github.com/jhoicas/nfse-api/internal/infrastructure/envelope"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/pkg/logger"
)

// ── repositórios em memória ──────────────────────────────────────────────────

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*entity.Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: map[string]*entity.Invoice{}}
}

func (r *memInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; ok {
		return fmt.Errorf("nota %s já existe", inv.ID)
	}
	r.invoices[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) Update(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return fmt.Errorf("nota %s não existe", inv.ID)
	}
	r.invoices[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invoices[id], nil
}

func (r *memInvoiceRepo) List(_ context.Context, filter repository.ListFilter) ([]*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range r.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && inv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inv.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memInvoiceRepo) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range r.invoices {
		if inv.Status == entity.StatusPending && inv.CreatedAt.Before(cutoff) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) LastRPSNumber(_ context.Context, providerCNPJ, series string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last int64
	for _, inv := range r.invoices {
		if inv.ProviderCNPJ != providerCNPJ || inv.RPSSeries != series {
			continue
		}
		if n, err := strconv.ParseInt(inv.RPSNumber, 10, 64); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

func (r *memInvoiceRepo) Stats(_ context.Context, from, to time.Time) (*repository.InvoiceStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.InvoiceStats{
		ByStatus:         map[string]int64{},
		SuccessfulAmount: decimal.Zero,
	}
	for _, inv := range r.invoices {
		if inv.CreatedAt.Before(from) || inv.CreatedAt.After(to) {
			continue
		}
		stats.Total++
		stats.ByStatus[inv.Status]++
		if inv.Status == entity.StatusSuccess {
			stats.SuccessfulAmount = stats.SuccessfulAmount.Add(inv.ServiceAmount)
		}
	}
	return stats, nil
}

type memIdemRepo struct {
	mu      sync.Mutex
	records map[string]*entity.IdempotencyRecord
}

func newMemIdemRepo() *memIdemRepo {
	return &memIdemRepo{records: map[string]*entity.IdempotencyRecord{}}
}

func (r *memIdemRepo) GetByKey(_ context.Context, key string) (*entity.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[key], nil
}

func (r *memIdemRepo) Create(_ context.Context, rec *entity.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Key]; ok {
		return fmt.Errorf("%w: chave %q", domain.ErrIdempotencyConflict, rec.Key)
	}
	r.records[rec.Key] = rec
	return nil
}

func (r *memIdemRepo) UpdateSnapshot(_ context.Context, key, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return fmt.Errorf("chave %q não existe", key)
	}
	rec.StatusSnapshot = status
	rec.UpdatedAt = time.Now()
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*entity.AuditEntry
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (r *memAuditRepo) Create(_ context.Context, e *entity.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memAuditRepo) CountRetryMarks(_ context.Context, invoiceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.InvoiceID == invoiceID && e.Message == entity.AuditRetryMark {
			count++
		}
	}
	return count, nil
}

func (r *memAuditRepo) messages(invoiceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.InvoiceID == invoiceID {
			out = append(out, e.Message)
		}
	}
	return out
}

// memTxRunner executa o callback diretamente sobre os repositórios em
// memória; não há transação real a abrir. O mutex reproduz a serialização
// que o banco dá às emissões concorrentes (advisory lock da numeração).
type memTxRunner struct {
	mu       sync.Mutex
	invoices *memInvoiceRepo
	idem     *memIdemRepo
	audit    *memAuditRepo
}

func (t *memTxRunner) RunEmission(_ context.Context, fn func(
	repository.InvoiceRepository,
	repository.IdempotencyRepository,
	repository.AuditRepository,
) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.invoices, t.idem, t.audit)
}

// ── agente e webhook ─────────────────────────────────────────────────────────

type fakeAgent struct {
	mu          sync.Mutex
	emitResult  *billing.AgentResult
	emitErr     error
	cancelRes   *billing.AgentResult
	cancelErr   error
	emitCalls   int
	cancelCalls int
}

func (a *fakeAgent) EmitInvoice(context.Context, *entity.NormalizedInvoice) (*billing.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitCalls++
	return a.emitResult, a.emitErr
}

func (a *fakeAgent) CancelInvoice(context.Context, string, string) (*billing.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelCalls++
	return a.cancelRes, a.cancelErr
}

func (a *fakeAgent) emitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitCalls
}

type notifierEvent struct {
	invoiceID, oldStatus, newStatus string
	metadata                        map[string]string
}

type recordNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
}

func (n *recordNotifier) NotifyStatusChange(invoiceID, oldStatus, newStatus string, metadata map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{invoiceID, oldStatus, newStatus, metadata})
}

func (n *recordNotifier) all() []notifierEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifierEvent(nil), n.events...)
}

// ── montagem do orquestrador de teste ────────────────────────────────────────

type testEnv struct {
	orchestrator *billing.EmissionOrchestrator
	invoices     *memInvoiceRepo
	idem         *memIdemRepo
	audit        *memAuditRepo
	agent        *fakeAgent
	notifier     *recordNotifier
}

func newTestEnv(agent *fakeAgent) *testEnv {
	invoices := newMemInvoiceRepo()
	idem := newMemIdemRepo()
	audit := newMemAuditRepo()
	notifier := &recordNotifier{}
	log := logger.New(logger.Config{Env: "production", Level: "error"})
	codec := envelope.NewCodec("segredo-de-teste-com-32-bytes-ok!!")

	orch := billing.NewEmissionOrchestrator(
		&memTxRunner{invoices: invoices, idem: idem, audit: audit},
		invoices,
		idem,
		audit,
		billing.NewNormalizer(),
		infranfse.NewXMLBuilderService(),
		signer.NewService(infranfse.NewCertProvider("", "", "test"), false),
		codec,
		agent,
		notifier,
		billing.RenderOptions{},
		log,
	)
	return &testEnv{
		orchestrator: orch,
		invoices:     invoices,
		idem:         idem,
		audit:        audit,
		agent:        agent,
		notifier:     notifier,
	}
}
