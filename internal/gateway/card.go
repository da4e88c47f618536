package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/staybook/backend/internal/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const cardSignatureHeader = "Stripe-Signature"

type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// CardGateway creates Stripe PaymentIntents and verifies Stripe webhooks.
type CardGateway struct {
	cfg     config.CardGatewayConfig
	intents intentCreator
}

func NewCardGateway(cfg config.CardGatewayConfig) *CardGateway {
	g := &CardGateway{cfg: cfg}
	if cfg.SecretKey != "" {
		sc := &client.API{}
		sc.Init(cfg.SecretKey, nil)
		g.intents = sc.PaymentIntents
	}
	return g
}

func (g *CardGateway) Name() Provider { return ProviderCard }

func (g *CardGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if g.intents == nil {
		return nil, &ConfigurationError{Provider: ProviderCard, Missing: "secret key"}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + req.TransactionLogID)
	params.AddMetadata("transaction_log_id", req.TransactionLogID)
	params.AddMetadata("target_id", req.TargetID)

	pi, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, &RejectionError{Provider: ProviderCard, StatusCode: stripeErr.HTTPStatusCode, Message: stripeErr.Msg}
		}
		return nil, &RejectionError{Provider: ProviderCard, StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	return &Intent{
		Provider:        ProviderCard,
		ProviderOrderID: pi.ID,
		ClientSecret:    pi.ClientSecret,
	}, nil
}

func (g *CardGateway) ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	if g.cfg.WebhookSecret == "" {
		return nil, &ConfigurationError{Provider: ProviderCard, Missing: "webhook secret"}
	}

	event, err := webhook.ConstructEventWithOptions(body, header.Get(cardSignatureHeader), g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := &WebhookEvent{Provider: ProviderCard, Type: string(event.Type), Outcome: OutcomeIgnored}
	if event.Data == nil || !strings.HasPrefix(ev.Type, "payment_intent.") {
		return ev, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev.ExternalOrderID = pi.ID
	ev.PaymentID = pi.ID
	ev.AmountMinor = pi.Amount
	ev.Currency = strings.ToUpper(string(pi.Currency))
	ev.TransactionLogID = pi.Metadata["transaction_log_id"]

	switch ev.Type {
	case "payment_intent.succeeded":
		ev.Outcome = OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		ev.FailureReason = ev.Type
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			ev.FailureReason = pi.LastPaymentError.Msg
		}
		// payment_failed is one declined attempt; the intent can still succeed.
		if ev.Type == "payment_intent.canceled" {
			ev.Outcome = OutcomeFailed
		}
	}
	return ev, nil
}
