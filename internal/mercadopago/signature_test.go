package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-webhook-secret"

func signTemplate(t *testing.T, secret, template string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(template))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureHeaderFor(t *testing.T, secret, dataID, requestID, ts string) string {
	t.Helper()
	template := ""
	if dataID != "" {
		template += "id:" + dataID + ";"
	}
	if requestID != "" {
		template += "request-id:" + requestID + ";"
	}
	template += "ts:" + ts + ";"
	return fmt.Sprintf("ts=%s,v1=%s", ts, signTemplate(t, secret, template))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	body := []byte(`{"type":"payment","data":{"id":"123"}}`)
	header := signatureHeaderFor(t, testSecret, "123", "req-1", "1700000000")

	require.True(t, v.Verify(body, header, "req-1", nil))
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	body := []byte(`{"type":"payment","data":{"id":"123"}}`)
	header := "ts=1700000000,v1=" + signTemplate(t, "other-secret", "id:123;request-id:req-1;ts:1700000000;")

	require.False(t, v.Verify(body, header, "req-1", nil))
}

func TestVerifyRejectsMissingOrMalformedHeader(t *testing.T) {
	v := NewSignatureVerifier(testSecret)
	body := []byte(`{"type":"payment","data":{"id":"123"}}`)

	require.False(t, v.Verify(body, "", "req-1", nil))
	require.False(t, v.Verify(body, "ts=1700000000", "req-1", nil))
	require.False(t, v.Verify(body, "v1=deadbeef", "req-1", nil))
	require.False(t, v.Verify(body, "garbage", "req-1", nil))
}

func TestVerifyRejectsWithEmptySecret(t *testing.T) {
	v := NewSignatureVerifier("")
	body := []byte(`{"type":"payment","data":{"id":"123"}}`)
	header := signatureHeaderFor(t, testSecret, "123", "req-1", "1700000000")

	require.False(t, v.Verify(body, header, "req-1", nil))
}

func TestVerifyQueryParamTakesPriorityOverBody(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	// Signed over the query id, not the body id.
	body := []byte(`{"type":"payment","data":{"id":"999"}}`)
	query := url.Values{"data.id": {"123"}}
	header := signatureHeaderFor(t, testSecret, "123", "req-1", "1700000000")

	require.True(t, v.Verify(body, header, "req-1", query))
}

func TestVerifyLowercasesAlphanumericID(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	body := []byte(`{"data":{"id":"ABC123"}}`)
	header := signatureHeaderFor(t, testSecret, "abc123", "req-1", "1700000000")

	require.True(t, v.Verify(body, header, "req-1", nil))
}

func TestVerifyResourceURLUsesLastPathSegment(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	body := []byte(`{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/456789"}`)
	header := signatureHeaderFor(t, testSecret, "456789", "req-2", "1700000001")

	require.True(t, v.Verify(body, header, "req-2", nil))
}

func TestVerifyOmitsMissingSegments(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	// No id anywhere, no request id: template is just "ts:<ts>;".
	body := []byte(`{}`)
	header := "ts=1700000002,v1=" + signTemplate(t, testSecret, "ts:1700000002;")

	require.True(t, v.Verify(body, header, "", nil))
}

func TestVerifyAlternateIDFields(t *testing.T) {
	v := NewSignatureVerifier(testSecret)

	cases := map[string]string{
		`{"preapproval_id":"pre1"}`:         "pre1",
		`{"chargebacks_id":"cb1"}`:          "cb1",
		`{"point_integration_id":"point1"}`: "point1",
		`{"resource":"bare-id-55"}`:         "bare-id-55",
	}
	for body, id := range cases {
		header := signatureHeaderFor(t, testSecret, id, "req-3", "1700000003")
		require.True(t, v.Verify([]byte(body), header, "req-3", nil), "body %s", body)
	}
}
