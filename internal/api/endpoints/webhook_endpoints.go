package endpoints

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ingestservice "support-inbox-backend/internal/service/ingest"

	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/queue"

	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

type WebhookEndpoints interface {
	Webhook(http.ResponseWriter, *http.Request) error
}

type webhookEndpoints struct {
	service     *ingestservice.Service
	queue       *queue.Manager
	verifyToken string
	appSecret   string
	log         zerolog.Logger
}

func NewWebhookEndpoints(service *ingestservice.Service, q *queue.Manager, verifyToken, appSecret string, log zerolog.Logger) WebhookEndpoints {
	return &webhookEndpoints{
		service:     service,
		queue:       q,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		log:         log,
	}
}

func (h *webhookEndpoints) Webhook(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleVerify,
		http.MethodPost: h.handleReceive,
	})
}

// handleVerify answers the platform's subscription handshake by echoing the
// challenge back as plain text.
func (h *webhookEndpoints) handleVerify(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Verification failed",
			ErrorLog:   fmt.Errorf("webhook verification rejected: mode=%q", mode),
		}
	}

	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(challenge))
	return err
}

// handleReceive acknowledges the delivery before any processing happens.
// Decoded events are handed to the worker pool fire-and-forget; a failure in
// one event never delays the ack or the other events, and redelivery of the
// whole batch is safe because every mutator is idempotent.
func (h *webhookEndpoints) handleReceive(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Unable to read payload",
			ErrorLog:   fmt.Errorf("read webhook body: %w", err),
		}
	}

	if err := h.verifySignature(r, body); err != nil {
		return err
	}

	result := platform.Decode(body)
	for _, skip := range result.Skipped {
		h.log.Warn().Str("reason", skip.Reason).Msg("webhook event skipped")
	}

	for _, event := range result.Events {
		ev := event
		h.queue.EnqueueJob(queue.Job{
			Fn: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return h.service.ProcessEvent(ctx, ev)
			},
		})
	}

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "EVENT_RECEIVED"})
}

func (h *webhookEndpoints) verifySignature(r *http.Request, body []byte) error {
	if h.appSecret == "" {
		return nil
	}

	header := r.Header.Get("X-Hub-Signature-256")
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Missing signature",
			ErrorLog:   fmt.Errorf("webhook signature header missing or malformed: %q", header),
		}
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid signature",
			ErrorLog:   fmt.Errorf("webhook signature mismatch"),
		}
	}

	return nil
}
