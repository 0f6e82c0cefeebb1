package mercadopago

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Notification kinds after normalization. Anything that is not a payment is
// acknowledged without further processing.
const (
	KindPayment       = "payment"
	KindMerchantOrder = "merchant_order"
	KindUnknown       = "unknown"
)

// Notification is the normalized form of the several envelope shapes
// MercadoPago sends: {type,data.id}, {topic,resource}, and bare
// query-string pings.
type Notification struct {
	Kind      string
	PaymentID string
}

// IsPayment reports whether this notification identifies a payment the
// reconciliation flow should act on.
func (n *Notification) IsPayment() bool {
	return n != nil && n.Kind == KindPayment && n.PaymentID != ""
}

type notificationEnvelope struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// ParseNotification normalizes a webhook delivery into a Notification.
// A nil result means the delivery carries nothing this system acts on; the
// caller still acknowledges it so MercadoPago stops retrying.
func ParseNotification(rawBody []byte, query url.Values) *Notification {
	var envelope notificationEnvelope
	if len(rawBody) > 0 {
		// Malformed bodies fall through to the query params.
		_ = json.Unmarshal(rawBody, &envelope)
	}

	// Shape 1: {type:"payment", data:{id}}.
	if envelope.Type != "" {
		if envelope.Type != KindPayment {
			return &Notification{Kind: normalizeKind(envelope.Type)}
		}
		return &Notification{Kind: KindPayment, PaymentID: envelope.Data.ID}
	}

	// Shape 2: {topic:"payment", resource:"…/123"}.
	if envelope.Topic != "" {
		if envelope.Topic != KindPayment {
			return &Notification{Kind: normalizeKind(envelope.Topic)}
		}
		return &Notification{Kind: KindPayment, PaymentID: idFromResource(envelope.Resource)}
	}

	// Shape 3: bare query-string ping (id/payment_id/collection_id).
	if query != nil {
		topic := query.Get("topic")
		if topic != "" && topic != KindPayment {
			return &Notification{Kind: normalizeKind(topic)}
		}
		for _, key := range []string{"data.id", "payment_id", "collection_id", "id"} {
			if id := query.Get(key); id != "" {
				return &Notification{Kind: KindPayment, PaymentID: id}
			}
		}
	}

	return nil
}

func normalizeKind(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case KindPayment:
		return KindPayment
	case KindMerchantOrder, "merchant_orders":
		return KindMerchantOrder
	default:
		return KindUnknown
	}
}
