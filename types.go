package purchasekit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionAPI identifies which platform purchase API produced a transaction.
// The two APIs coexist: the legacy observer-pattern transaction queue and the
// modern async verified-transaction stream.
type TransactionAPI int

const (
	// APILegacy is the original transaction-queue API delivering state callbacks.
	APILegacy TransactionAPI = iota
	// APIModern is the newer API surfacing verified transactions as an async stream.
	APIModern
)

// StoreTransaction is the capability surface the poster needs from a purchase
// transaction, implemented differently per transaction API.
type StoreTransaction interface {
	// TransactionID returns the store transaction identifier.
	// May be empty for legacy transactions that are still pending.
	TransactionID() string

	// HasKnownTransactionID reports whether TransactionID is reliably known.
	HasKnownTransactionID() bool

	// ProductID returns the identifier of the purchased product.
	ProductID() string

	// SignedToken returns the signed transaction token for modern-API
	// transactions, or "" for legacy transactions.
	SignedToken() string

	// API identifies which platform purchase API produced this transaction.
	API() TransactionAPI

	// Finish marks the transaction as finished with the platform.
	Finish(ctx context.Context) error
}

// ProductCategory distinguishes subscription products from one-time purchases.
type ProductCategory string

const (
	CategorySubscription    ProductCategory = "subscription"
	CategoryNonSubscription ProductCategory = "non_subscription"
)

// ProductSnapshot captures product and pricing information at the moment of
// calling the backend. Product catalogs can disappear later, so the snapshot
// travels with the cached transaction metadata.
type ProductSnapshot struct {
	ProductID         string            `json:"productId"`
	Category          ProductCategory   `json:"category"`
	Price             string            `json:"price"` // decimal encoded as string to preserve precision
	CurrencyCode      string            `json:"currencyCode,omitempty"`
	StoreCountry      string            `json:"storeCountry,omitempty"`
	NormalDuration    string            `json:"normalDuration,omitempty"`
	IntroDuration     string            `json:"introDuration,omitempty"`
	IntroDurationType string            `json:"introDurationType,omitempty"`
	IntroPrice        string            `json:"introPrice,omitempty"`
	SubscriptionGroup string            `json:"subscriptionGroup,omitempty"`
	Discounts         []ProductDiscount `json:"discounts,omitempty"`
}

// ProductDiscount describes a promotional offer attached to a product.
type ProductDiscount struct {
	OfferID            string `json:"offerId,omitempty"`
	CurrencyCode       string `json:"currencyCode,omitempty"`
	Price              string `json:"price"`
	PaymentMode        string `json:"paymentMode"`
	SubscriptionPeriod string `json:"subscriptionPeriod"`
	NumberOfPeriods    int    `json:"numberOfPeriods"`
	Type               string `json:"type"`
}

// InitiationSource records what triggered a receipt post.
type InitiationSource string

const (
	// InitiationSourcePurchase means the post was triggered by a purchase call
	// made through this SDK.
	InitiationSourcePurchase InitiationSource = "purchase"
	// InitiationSourceQueue means the post was triggered by the platform
	// replaying its transaction queue.
	InitiationSourceQueue InitiationSource = "queue"
	// InitiationSourceRestore means the post was triggered by a restore call.
	InitiationSourceRestore InitiationSource = "restore"
)

// PurchaseSource determines what triggered a post and whether it is a restore.
type PurchaseSource struct {
	IsRestore        bool             `json:"isRestore"`
	InitiationSource InitiationSource `json:"initiationSource"`
}

// PaywallSession references the paywall that presented a purchase, if any.
type PaywallSession struct {
	SessionID   uuid.UUID `json:"sessionId"`
	OfferingID  string    `json:"offeringId"`
	SessionEnd  time.Time `json:"sessionEnd"`
	Revision    int       `json:"revision"`
	DisplayMode string    `json:"displayMode,omitempty"`
	DarkMode    bool      `json:"darkMode"`
	Locale      string    `json:"locale,omitempty"`
}

// OfferingContext identifies the offering and placement shown when a purchase
// was initiated.
type OfferingContext struct {
	OfferingID        string `json:"offeringId"`
	PlacementID       string `json:"placementId,omitempty"`
	TargetingRevision *int   `json:"targetingRevision,omitempty"`
	TargetingRuleID   string `json:"targetingRuleId,omitempty"`
}

// TransactionContext bundles the contextual attribution data available at the
// moment of a purchase call. Most of it exists only at that moment and must
// survive process death until the corresponding transaction is finished.
type TransactionContext struct {
	Offering           *OfferingContext  `json:"offering,omitempty"`
	Paywall            *PaywallSession   `json:"paywall,omitempty"`
	UnsyncedAttributes map[string]string `json:"unsyncedAttributes,omitempty"`
	AdAttributionToken string            `json:"adAttributionToken,omitempty"`
	StoreCountry       string            `json:"storeCountry,omitempty"`
	Source             PurchaseSource    `json:"source"`
}

// HasAttributionContext reports whether the context carries offering or
// paywall data that would be lost if not persisted across a retry.
func (c TransactionContext) HasAttributionContext() bool {
	return c.Offering != nil || c.Paywall != nil
}

// CompletionResponsibility records who finishes transactions: the SDK or the
// host app. Captured per purchase because configuration can change between a
// purchase and a later retry.
type CompletionResponsibility string

const (
	CompletedBySDK CompletionResponsibility = "sdk"
	CompletedByApp CompletionResponsibility = "app"
)

// NonSubscriptionTransaction is a non-subscription purchase the backend has
// durably recorded for the user.
type NonSubscriptionTransaction struct {
	ProductID          string    `json:"productId"`
	StoreTransactionID string    `json:"storeTransactionId"`
	PurchaseDate       time.Time `json:"purchaseDate"`
}

// CustomerInfo is the backend's view of a user's entitlements after a post.
type CustomerInfo struct {
	AppUserID        string                       `json:"appUserId"`
	RequestDate      time.Time                    `json:"requestDate"`
	NonSubscriptions []NonSubscriptionTransaction `json:"nonSubscriptions,omitempty"`

	// ComputedOffline is true when this result was derived from local cached
	// state because the server was unreachable. It is never a live server
	// acknowledgment, so cached transaction metadata must not be cleared
	// based on it.
	ComputedOffline bool `json:"computedOffline,omitempty"`

	// Entitlements carries the raw entitlement payload. Entitlement
	// computation is owned by the backend; the SDK does not interpret it.
	Entitlements map[string]any `json:"entitlements,omitempty"`
}

// HasNonSubscriptionTransaction reports whether the backend recorded the given
// store transaction identifier among the user's non-subscription purchases.
func (c *CustomerInfo) HasNonSubscriptionTransaction(storeTransactionID string) bool {
	for _, txn := range c.NonSubscriptions {
		if txn.StoreTransactionID == storeTransactionID {
			return true
		}
	}
	return false
}
