package receipt

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestProofKinds(t *testing.T) {
	cases := []struct {
		name  string
		proof Proof
		kind  Kind
	}{
		{"empty", Empty(), KindEmpty},
		{"zero value", Proof{}, KindEmpty},
		{"receipt data", FromData([]byte("receipt")), KindReceiptData},
		{"signed token", FromToken("a.b.c"), KindSignedToken},
		{"bundle", FromBundle(&Bundle{Environment: "production"}), KindBundle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.proof.Kind() != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, tc.proof.Kind())
			}
			if tc.proof.IsEmpty() != (tc.kind == KindEmpty) {
				t.Errorf("IsEmpty mismatch for kind %s", tc.kind)
			}
		})
	}
}

func TestProofJSONRoundTrip(t *testing.T) {
	bundle := &Bundle{
		Environment: "sandbox",
		SubscriptionStatuses: map[string][]SubscriptionStatus{
			"group1": {{State: "subscribed", SignedToken: "x.y.z"}},
		},
		SignedTransactions: []string{"a.b.c"},
	}

	cases := []struct {
		name  string
		proof Proof
	}{
		{"empty", Empty()},
		{"receipt data", FromData([]byte{0x01, 0x02, 0xff})},
		{"signed token", FromToken("a.b.c")},
		{"bundle", FromBundle(bundle)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.proof)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var decoded Proof
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if !decoded.Equal(tc.proof) {
				t.Errorf("round trip changed the proof: %s", raw)
			}
		})
	}
}

func TestProofUnmarshalRejectsUnknownKind(t *testing.T) {
	var proof Proof
	err := json.Unmarshal([]byte(`{"kind":"hologram"}`), &proof)
	if err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

func TestProofUnmarshalMissingKindMeansEmpty(t *testing.T) {
	var proof Proof
	if err := json.Unmarshal([]byte(`{}`), &proof); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proof.IsEmpty() {
		t.Error("expected an empty proof for a missing kind")
	}
}

func TestProofEqualDistinguishesContent(t *testing.T) {
	if FromToken("a.b.c").Equal(FromToken("d.e.f")) {
		t.Error("expected different tokens to compare unequal")
	}
	if FromToken("a.b.c").Equal(FromData([]byte("a.b.c"))) {
		t.Error("expected different kinds to compare unequal")
	}
	if !FromData([]byte("r")).Equal(FromData([]byte("r"))) {
		t.Error("expected identical proofs to compare equal")
	}
}

// unverifiedToken builds a syntactically valid JWS with the given payload
// claims and a junk signature. Claims are never verified locally, so the
// signature content is irrelevant.
func unverifiedToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	encode := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to encode segment: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}

	header := encode(map[string]string{"alg": "ES256", "typ": "JWT"})
	payload := encode(claims)
	signature := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + payload + "." + signature
}

func TestParseTokenClaims(t *testing.T) {
	expiry := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	token := unverifiedToken(t, map[string]any{
		"transactionId":         "2000000123",
		"originalTransactionId": "2000000100",
		"productId":             "sub_annual",
		"bundleId":              "com.example.app",
		"expiresDate":           expiry.UnixMilli(),
	})

	claims, err := ParseTokenClaims(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if claims.TransactionID != "2000000123" {
		t.Errorf("unexpected transaction id %q", claims.TransactionID)
	}
	if claims.OriginalTransactionID != "2000000100" {
		t.Errorf("unexpected original transaction id %q", claims.OriginalTransactionID)
	}
	if claims.ProductID != "sub_annual" {
		t.Errorf("unexpected product id %q", claims.ProductID)
	}
	if claims.BundleID != "com.example.app" {
		t.Errorf("unexpected bundle id %q", claims.BundleID)
	}
	if !claims.ExpiresAt.Equal(expiry) {
		t.Errorf("expected expiry %v, got %v", expiry, claims.ExpiresAt)
	}
}

func TestParseTokenClaimsMissingFields(t *testing.T) {
	token := unverifiedToken(t, map[string]any{"transactionId": "123"})

	claims, err := ParseTokenClaims(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.TransactionID != "123" {
		t.Errorf("unexpected transaction id %q", claims.TransactionID)
	}
	if claims.ProductID != "" || claims.BundleID != "" {
		t.Error("expected absent claims to decode as empty strings")
	}
	if !claims.ExpiresAt.IsZero() {
		t.Errorf("expected zero expiry, got %v", claims.ExpiresAt)
	}
}

func TestParseTokenClaimsRejectsGarbage(t *testing.T) {
	if _, err := ParseTokenClaims("not-a-token"); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
}
