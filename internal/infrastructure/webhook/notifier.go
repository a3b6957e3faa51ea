// Notificador de mudança de status via webhook HTTP. Fire-and-forget: o
// disparo nunca bloqueia o orquestrador, falhas só vão para o log.

package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jhoicas/nfse-api/pkg/logger"
)

// statusChangePayload corpo do POST enviado ao destino.
type statusChangePayload struct {
	InvoiceID  string            `json:"invoiceId"`
	OldStatus  string            `json:"oldStatus"`
	NewStatus  string            `json:"newStatus"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier envia notificações a um único destino configurado. Com secret
// presente, assina o corpo com HMAC-SHA256 no header X-Webhook-Signature.
type Notifier struct {
	url    string
	secret string
	http   *http.Client
	log    *logger.Logger
}

// NewNotifier cria o notificador. timeout limita cada entrega.
func NewNotifier(url, secret string, timeout time.Duration, log *logger.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		url:    url,
		secret: secret,
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

// NotifyStatusChange dispara a entrega em goroutine própria.
func (n *Notifier) NotifyStatusChange(invoiceID, oldStatus, newStatus string, metadata map[string]string) {
	payload := statusChangePayload{
		InvoiceID:  invoiceID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	go n.deliver(payload)
}

func (n *Notifier) deliver(payload statusChangePayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.log.Error().Err(err).Str("invoice_id", payload.InvoiceID).Msg("serializar webhook falhou")
		return
	}
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		n.log.Error().Err(err).Str("invoice_id", payload.InvoiceID).Msg("montar webhook falhou")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		mac := hmac.New(sha256.New, []byte(n.secret))
		mac.Write(raw)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := n.http.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Str("invoice_id", payload.InvoiceID).Msg("entrega de webhook falhou")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn().Int("status", resp.StatusCode).Str("invoice_id", payload.InvoiceID).
			Msg("webhook respondeu com erro")
	}
}

// NoopNotifier descarta as notificações (nenhuma URL configurada).
type NoopNotifier struct{}

// NotifyStatusChange não faz nada.
func (NoopNotifier) NotifyStatusChange(string, string, string, map[string]string) {}
