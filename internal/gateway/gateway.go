package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Provider string

const (
	ProviderCard     Provider = "card"
	ProviderRegional Provider = "regional"
)

// ParseProvider accepts the two supported gateway names.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderCard, ProviderRegional:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

var (
	ErrUnknownProvider  = errors.New("unsupported payment gateway")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// ConfigurationError means the adapter lacks credentials. Callers cannot
// retry their way out of it.
type ConfigurationError struct {
	Provider Provider
	Missing  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s gateway not configured: missing %s", e.Provider, e.Missing)
}

// RejectionError carries the provider's own refusal message.
type RejectionError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s gateway rejected request: %s", e.Provider, e.Message)
}

// IsClientError reports whether the provider blamed the request itself.
func (e *RejectionError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type IntentRequest struct {
	TransactionLogID string
	TargetID         string
	AmountMinor      int64
	Currency         string
}

// Intent is the client-resumable handle for a payment. Card intents carry
// ClientSecret; regional orders carry the public KeyID.
type Intent struct {
	Provider        Provider `json:"provider"`
	ProviderOrderID string   `json:"providerOrderId"`
	ClientSecret    string   `json:"clientSecret,omitempty"`
	KeyID           string   `json:"keyId,omitempty"`
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// WebhookEvent is a verified provider callback normalized across gateways.
type WebhookEvent struct {
	Provider         Provider
	Type             string
	ExternalOrderID  string
	PaymentID        string
	TransactionLogID string
	Outcome          Outcome
	AmountMinor      int64
	Currency         string
	FailureReason    string
}

type Gateway interface {
	Name() Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// ParseWebhook verifies the signature over the raw body before decoding it.
	ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error)
}

type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	return g, nil
}
