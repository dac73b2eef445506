package payments

import (
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Event types the settlement reconciler reacts to. Everything else is
// acknowledged and ignored.
const (
	EventCheckoutSessionCompleted = string(stripe.EventTypeCheckoutSessionCompleted)
	EventPaymentIntentSucceeded   = string(stripe.EventTypePaymentIntentSucceeded)
)

// EventVerifier checks a raw webhook delivery against the shared signing
// secret and returns the decoded event.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

// SigningVerifier implements EventVerifier with Stripe's signature scheme.
type SigningVerifier struct {
	secret string
}

// NewSigningVerifier builds a verifier for the configured webhook secret.
func NewSigningVerifier(secret string) (*SigningVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("payments: missing webhook signing secret")
	}
	return &SigningVerifier{secret: secret}, nil
}

// VerifyEvent validates the signature header before anything in the payload
// is trusted. A mismatch is a hard failure.
func (v *SigningVerifier) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("payments: webhook signature verification failed: %w", err)
	}
	return event, nil
}
