package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"github.com/staybook/backend/internal/config"
)

const regionalSignatureHeader = "X-Razorpay-Signature"

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RegionalGateway creates Razorpay orders and verifies Razorpay webhooks.
type RegionalGateway struct {
	cfg    config.RegionalGatewayConfig
	orders orderCreator
}

func NewRegionalGateway(cfg config.RegionalGatewayConfig) *RegionalGateway {
	g := &RegionalGateway{cfg: cfg}
	if cfg.KeyID != "" && cfg.KeySecret != "" {
		g.orders = razorpay.NewClient(cfg.KeyID, cfg.KeySecret).Order
	}
	return g
}

func (g *RegionalGateway) Name() Provider { return ProviderRegional }

// CreateIntent ignores ctx; the Razorpay client has no context support.
func (g *RegionalGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	if g.orders == nil {
		return nil, &ConfigurationError{Provider: ProviderRegional, Missing: "key id or key secret"}
	}

	order, err := g.orders.Create(map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.TransactionLogID,
		"notes": map[string]interface{}{
			"transaction_log_id": req.TransactionLogID,
			"target_id":          req.TargetID,
		},
	}, nil)
	if err != nil {
		return nil, &RejectionError{Provider: ProviderRegional, StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	orderID, _ := order["id"].(string)
	if orderID == "" {
		return nil, &RejectionError{Provider: ProviderRegional, StatusCode: http.StatusBadGateway, Message: "order response missing id"}
	}

	return &Intent{
		Provider:        ProviderRegional,
		ProviderOrderID: orderID,
		KeyID:           g.cfg.KeyID,
	}, nil
}

type regionalPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity regionalPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type regionalPayment struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"order_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           string        `json:"status"`
	ErrorDescription string        `json:"error_description"`
	Notes            regionalNotes `json:"notes"`
}

// regionalNotes is the provider's free-form notes field. An entity without
// notes serializes it as an empty array rather than an object.
type regionalNotes map[string]string

func (n *regionalNotes) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		*n = nil
		return nil
	}
	notes := make(regionalNotes, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			notes[k] = s
		}
	}
	*n = notes
	return nil
}

func (g *RegionalGateway) ParseWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	if g.cfg.WebhookSecret == "" {
		return nil, &ConfigurationError{Provider: ProviderRegional, Missing: "webhook secret"}
	}

	signature := header.Get(regionalSignatureHeader)
	if signature == "" || !utils.VerifyWebhookSignature(string(body), signature, g.cfg.WebhookSecret) {
		return nil, ErrInvalidSignature
	}

	var p regionalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := &WebhookEvent{Provider: ProviderRegional, Type: p.Event, Outcome: OutcomeIgnored}

	if pay := p.Payload.Payment; pay != nil {
		ev.PaymentID = pay.Entity.ID
		ev.ExternalOrderID = pay.Entity.OrderID
		ev.AmountMinor = pay.Entity.Amount
		ev.Currency = strings.ToUpper(pay.Entity.Currency)
		ev.TransactionLogID = pay.Entity.Notes["transaction_log_id"]
		ev.FailureReason = pay.Entity.ErrorDescription
	}
	if ord := p.Payload.Order; ord != nil {
		ev.ExternalOrderID = ord.Entity.ID
		ev.AmountMinor = ord.Entity.Amount
		ev.Currency = strings.ToUpper(ord.Entity.Currency)
	}

	switch p.Event {
	case "payment.captured", "order.paid":
		ev.Outcome = OutcomeSucceeded
		ev.FailureReason = ""
	case "payment.failed":
		// A failed attempt leaves the order open for another attempt.
		if ev.FailureReason == "" {
			ev.FailureReason = p.Event
		}
	}

	if ev.Outcome != OutcomeIgnored && ev.ExternalOrderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrMalformedPayload)
	}
	return ev, nil
}
