package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Header names used by MercadoPago webhook deliveries.
const (
	SignatureHeader = "x-signature"
	RequestIDHeader = "x-request-id"
)

var alphanumericRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
var numericRe = regexp.MustCompile(`^[0-9]+$`)

// SignatureVerifier validates that a webhook notification genuinely
// originated from MercadoPago. The signature covers a template string built
// from the resource id, the request id, and the timestamp carried in the
// x-signature header:
//
//	id:<data.id>;request-id:<x-request-id>;ts:<ts>;
//
// Segments whose source value is unavailable are omitted entirely.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify checks the x-signature header against the request. A missing or
// malformed header, or an empty configured secret, fails verification.
func (v *SignatureVerifier) Verify(rawBody []byte, signature, requestID string, query url.Values) bool {
	if len(v.secret) == 0 {
		return false
	}

	timestamp, receivedHash, ok := parseSignatureHeader(signature)
	if !ok {
		return false
	}

	dataID := resolveResourceID(rawBody, query)

	// Purely alphanumeric ids are lowercased before signing, per the
	// MercadoPago webhook documentation.
	if dataID != "" && alphanumericRe.MatchString(dataID) {
		dataID = strings.ToLower(dataID)
	}

	var template strings.Builder
	if dataID != "" {
		template.WriteString("id:" + dataID + ";")
	}
	if requestID != "" {
		template.WriteString("request-id:" + requestID + ";")
	}
	template.WriteString("ts:" + timestamp + ";")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(template.String()))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(receivedHash))
}

// parseSignatureHeader splits "ts=<timestamp>,v1=<hash>".
func parseSignatureHeader(signature string) (timestamp, hash string, ok bool) {
	if signature == "" {
		return "", "", false
	}
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			timestamp = value
		case "v1":
			hash = value
		}
	}
	if timestamp == "" || hash == "" {
		return "", "", false
	}
	return timestamp, hash, true
}

// signedEnvelope covers every id-bearing notification shape MercadoPago
// emits. Only one of the id fields is populated per delivery.
type signedEnvelope struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Resource           string `json:"resource"`
	PreapprovalID      string `json:"preapproval_id"`
	ChargebacksID      string `json:"chargebacks_id"`
	PointIntegrationID string `json:"point_integration_id"`
}

// resolveResourceID picks the canonical resource identifier following the
// documented priority order: query params first, then the body fields.
// Returns "" when no source carries an id.
func resolveResourceID(rawBody []byte, query url.Values) string {
	if query != nil {
		if id := query.Get("data.id"); id != "" {
			return id
		}
		if id := query.Get("id"); id != "" {
			return id
		}
	}

	var envelope signedEnvelope
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &envelope); err != nil {
			return ""
		}
	}

	switch {
	case envelope.Data.ID != "":
		return envelope.Data.ID
	case envelope.Resource != "":
		return idFromResource(envelope.Resource)
	case envelope.PreapprovalID != "":
		return envelope.PreapprovalID
	case envelope.ChargebacksID != "":
		return envelope.ChargebacksID
	case envelope.PointIntegrationID != "":
		return envelope.PointIntegrationID
	}
	return ""
}

// idFromResource extracts the id from a resource field, which is either a
// bare id or a URL whose last path segment is the id.
func idFromResource(resource string) string {
	if !strings.HasPrefix(resource, "http") {
		return resource
	}
	parsed, err := url.Parse(resource)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	last := segments[len(segments)-1]
	if numericRe.MatchString(last) {
		return last
	}
	return ""
}
