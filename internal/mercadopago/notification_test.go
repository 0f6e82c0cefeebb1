package mercadopago

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNotificationTypePaymentShape(t *testing.T) {
	n := ParseNotification([]byte(`{"type":"payment","action":"payment.created","data":{"id":"123"}}`), nil)
	require.NotNil(t, n)
	require.True(t, n.IsPayment())
	require.Equal(t, "123", n.PaymentID)
}

func TestParseNotificationTopicResourceShape(t *testing.T) {
	n := ParseNotification([]byte(`{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/456"}`), nil)
	require.NotNil(t, n)
	require.True(t, n.IsPayment())
	require.Equal(t, "456", n.PaymentID)

	n = ParseNotification([]byte(`{"topic":"payment","resource":"789"}`), nil)
	require.NotNil(t, n)
	require.Equal(t, "789", n.PaymentID)
}

func TestParseNotificationQueryPingShape(t *testing.T) {
	n := ParseNotification(nil, url.Values{"topic": {"payment"}, "id": {"321"}})
	require.NotNil(t, n)
	require.True(t, n.IsPayment())
	require.Equal(t, "321", n.PaymentID)

	n = ParseNotification([]byte(`{}`), url.Values{"payment_id": {"654"}})
	require.NotNil(t, n)
	require.Equal(t, "654", n.PaymentID)

	n = ParseNotification(nil, url.Values{"collection_id": {"987"}})
	require.NotNil(t, n)
	require.Equal(t, "987", n.PaymentID)
}

func TestParseNotificationIrrelevantKinds(t *testing.T) {
	n := ParseNotification([]byte(`{"type":"subscription_preapproval","data":{"id":"x"}}`), nil)
	require.NotNil(t, n)
	require.False(t, n.IsPayment())

	n = ParseNotification([]byte(`{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/1"}`), nil)
	require.NotNil(t, n)
	require.Equal(t, KindMerchantOrder, n.Kind)
	require.False(t, n.IsPayment())
}

func TestParseNotificationNothingActionable(t *testing.T) {
	require.Nil(t, ParseNotification([]byte(`{}`), nil))
	require.Nil(t, ParseNotification([]byte(`not json at all`), url.Values{}))
	require.Nil(t, ParseNotification(nil, nil))
}

func TestParseNotificationPaymentWithoutIDIsNotActionable(t *testing.T) {
	n := ParseNotification([]byte(`{"type":"payment","data":{}}`), nil)
	require.NotNil(t, n)
	require.False(t, n.IsPayment())
}
