package receipt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the purchase-relevant claims carried in a signed
// transaction token.
type TokenClaims struct {
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	BundleID              string
	ExpiresAt             time.Time
}

// ParseTokenClaims decodes the payload of a signed transaction token without
// verifying its signature. The backend verifies signatures; locally the token
// is only a source of identifiers when a transaction handle is incomplete.
func ParseTokenClaims(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction token: %w", err)
	}

	parsed := &TokenClaims{
		TransactionID:         stringClaim(claims, "transactionId"),
		OriginalTransactionID: stringClaim(claims, "originalTransactionId"),
		ProductID:             stringClaim(claims, "productId"),
		BundleID:              stringClaim(claims, "bundleId"),
	}

	// Expiry is carried in milliseconds since epoch.
	if millis, ok := claims["expiresDate"].(float64); ok {
		parsed.ExpiresAt = time.UnixMilli(int64(millis)).UTC()
	}

	return parsed, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}
