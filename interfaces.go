package purchasekit

import (
	"context"
	"time"

	"github.com/purchasekit/purchasekit-go/receipt"
)

// RefreshPolicy controls whether the local receipt is refreshed before a post.
type RefreshPolicy int

const (
	// RefreshOnlyIfEmpty refreshes only when no local receipt exists.
	// The default for release builds: the backend refreshes server-side, and
	// always refreshing risks throttling.
	RefreshOnlyIfEmpty RefreshPolicy = iota
	// RefreshAlways refreshes unconditionally.
	RefreshAlways
	// RefreshRetryUntilProductFound refreshes and retries until the receipt
	// contains the purchased product, bounded by ReceiptRetryCount.
	RefreshRetryUntilProductFound
)

// Receipt fetch retry bounds for RefreshRetryUntilProductFound.
const (
	ReceiptRetryCount = 3
	ReceiptRetrySleep = 5 * time.Second
)

// ProductLookup fetches product snapshots by identifier. Best-effort: it may
// return fewer products than requested.
type ProductLookup interface {
	Products(ctx context.Context, identifiers []string) ([]*ProductSnapshot, error)
}

// ReceiptFetcher provides the proofs of purchase available on device.
type ReceiptFetcher interface {
	// ReceiptData returns the whole encoded receipt for the legacy API,
	// or nil when none is available.
	ReceiptData(ctx context.Context, policy RefreshPolicy) ([]byte, error)

	// AppTransactionJWS returns the device-level app-transaction proof for
	// the modern API, or "" when unavailable.
	AppTransactionJWS(ctx context.Context) (string, error)

	// ReceiptBundle fetches a structured receipt bundle for the modern API.
	// Used as fallback when a transaction carries no signed token.
	ReceiptBundle(ctx context.Context) (*receipt.Bundle, error)
}

// ReceiptRequest is the backend receipt-post contract.
type ReceiptRequest struct {
	AppUserID         string                   `json:"appUserId"`
	Proof             receipt.Proof            `json:"receipt"`
	Product           *ProductSnapshot         `json:"product,omitempty"`
	Context           TransactionContext       `json:"context"`
	SDKOriginated     bool                     `json:"sdkOriginated"`
	TransactionID     string                   `json:"transactionId,omitempty"`
	ObserverMode      bool                     `json:"observerMode"`
	CompletedBy       CompletionResponsibility `json:"purchasesAreCompletedBy"`
	AppTransactionJWS string                   `json:"appTransactionJws,omitempty"`
}

// Backend posts receipts for entitlement computation. Errors returned should
// be (or wrap) *BackendError so callers can classify them.
type Backend interface {
	PostReceipt(ctx context.Context, request *ReceiptRequest) (*CustomerInfo, error)
}

// CustomerInfoCache stores backend customer-info results per user.
type CustomerInfoCache interface {
	CacheCustomerInfo(appUserID string, info *CustomerInfo)
}

// AttributionTracker marks attribute and attribution data as synced once the
// backend has durably recorded (or definitively rejected) it.
type AttributionTracker interface {
	MarkAttributesSynced(appUserID string, attributes map[string]string)
	MarkAdAttributionTokenSynced(appUserID string)
}

// CurrentUserProvider supplies the currently configured app user.
type CurrentUserProvider interface {
	CurrentAppUserID() string
}
