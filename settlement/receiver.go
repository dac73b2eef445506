package settlement

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"domainvault/payments"
)

// EventSink consumes verified processor events.
type EventSink interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

// Receiver is the webhook HTTP handler. It verifies the event signature,
// acknowledges receipt immediately, and hands processing to the sink in the
// background so the processor's delivery timeout is respected.
type Receiver struct {
	verifier payments.EventVerifier
	sink     EventSink
	logger   *zap.Logger

	// async is disabled in tests that need deterministic completion.
	async bool
}

func NewReceiver(verifier payments.EventVerifier, sink EventSink, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{verifier: verifier, sink: sink, logger: logger, async: true}
}

const maxWebhookBody = 1 << 20

func (h *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		http.Error(w, "No signature found", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyEvent(payload, signature)
	if err != nil {
		// Security boundary: nothing in the payload is trusted past here.
		h.logger.Warn("webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	process := func(ctx context.Context) {
		if err := h.sink.HandleEvent(ctx, event); err != nil {
			h.logger.Error("webhook processing failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
		}
	}

	if h.async {
		go process(context.WithoutCancel(r.Context()))
	} else {
		process(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
