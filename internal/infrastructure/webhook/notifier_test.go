package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/infrastructure/webhook"
	"github.com/jhoicas/nfse-api/pkg/logger"
)

type capturedDelivery struct {
	body      []byte
	signature string
}

func TestNotifier_EntregaAssinada(t *testing.T) {
	received := make(chan capturedDelivery, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- capturedDelivery{body: body, signature: r.Header.Get("X-Webhook-Signature")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	log := logger.New(logger.Config{Env: "production", Level: "error"})
	n := webhook.NewNotifier(server.URL, "segredo-webhook", 5*time.Second, log)
	n.NotifyStatusChange("inv-1", "PENDING", "SUCCESS", map[string]string{"nfseNumber": "123"})

	var got capturedDelivery
	select {
	case got = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook não entregue dentro do prazo")
	}

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "inv-1", payload["invoiceId"])
	assert.Equal(t, "PENDING", payload["oldStatus"])
	assert.Equal(t, "SUCCESS", payload["newStatus"])

	mac := hmac.New(sha256.New, []byte("segredo-webhook"))
	mac.Write(got.body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.signature)
}

func TestNotifier_SemSecretSemAssinatura(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Webhook-Signature")
	}))
	defer server.Close()

	log := logger.New(logger.Config{Env: "production", Level: "error"})
	n := webhook.NewNotifier(server.URL, "", 5*time.Second, log)
	n.NotifyStatusChange("inv-2", "PENDING", "REJECTED", nil)

	select {
	case sig := <-received:
		assert.Empty(t, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook não entregue dentro do prazo")
	}
}

func TestNotifier_DestinoForaDoArNaoBloqueia(t *testing.T) {
	log := logger.New(logger.Config{Env: "production", Level: "error"})
	n := webhook.NewNotifier("http://127.0.0.1:1", "", time.Second, log)

	done := make(chan struct{})
	go func() {
		n.NotifyStatusChange("inv-3", "PENDING", "SUCCESS", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disparo do webhook bloqueou o chamador")
	}
}
