package purchasekit

import (
	"errors"
	"fmt"
)

// BackendError represents a failed backend receipt post.
//
// Finishable and SuccessfullySynced are distinct axes: Finishable governs
// whether the OS transaction may be completed (the backend will never accept
// this post, so retrying is pointless); SuccessfullySynced governs whether
// attribute and attribution data carried with the post should be marked as
// synced (the server durably recorded, or definitively rejected, the data).
type BackendError struct {
	Code               string         `json:"code"`
	Message            string         `json:"message"`
	StatusCode         int            `json:"statusCode,omitempty"`
	Finishable         bool           `json:"finishable"`
	SuccessfullySynced bool           `json:"successfullySynced"`
	Details            map[string]any `json:"details,omitempty"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeMissingReceipt     = "missing_receipt"
	ErrCodeMissingProductID   = "missing_transaction_product_identifier"
	ErrCodePurchaseInProgress = "purchase_already_in_progress"
	ErrCodeInvalidReceipt     = "invalid_receipt"
	ErrCodeNetworkError       = "network_error"
	ErrCodeBackendError       = "backend_error"
)

// ErrAlreadyPosted is returned when a transaction's terminal outcome was
// already recorded and no new post was performed.
var ErrAlreadyPosted = errors.New("transaction already posted")

// NewBackendError creates a new backend error.
func NewBackendError(code, message string) *BackendError {
	return &BackendError{
		Code:    code,
		Message: message,
	}
}

// NewMissingReceiptError indicates no receipt proof was available at all.
// Terminal for this attempt: there is nothing to retry with.
func NewMissingReceiptError() *BackendError {
	return &BackendError{
		Code:    ErrCodeMissingReceipt,
		Message: "no receipt data or signed transaction available",
	}
}

// NewMissingProductIDError indicates a malformed transaction without a
// product identifier.
func NewMissingProductIDError(transactionID string) *BackendError {
	return &BackendError{
		Code:    ErrCodeMissingProductID,
		Message: "transaction has no product identifier",
		Details: map[string]any{"transactionId": transactionID},
	}
}

// NewPurchaseInProgressError indicates a purchase for the same product is
// already in flight.
func NewPurchaseInProgressError(productID string) *BackendError {
	return &BackendError{
		Code:    ErrCodePurchaseInProgress,
		Message: fmt.Sprintf("purchase for product %q is already in progress", productID),
	}
}

// AsBackendError extracts a *BackendError from err's chain, or wraps err in a
// non-finishable network-class error so callers always get classification.
func AsBackendError(err error) *BackendError {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr
	}
	return &BackendError{
		Code:    ErrCodeNetworkError,
		Message: err.Error(),
	}
}
