package purchasekit

import (
	"sync"

	"go.uber.org/zap"
)

// PurchaseCompletion receives the outcome of a purchase-initiated post.
type PurchaseCompletion func(*CustomerInfo, error)

// InFlightPurchases tracks purchase completions keyed by product identifier
// with atomic check-and-insert semantics. A second purchase call for a product
// that already has a completion registered is rejected immediately with an
// already-in-progress error rather than silently queued, preventing
// double-posting from rapid repeated taps.
type InFlightPurchases struct {
	mu      sync.Mutex
	pending map[string]PurchaseCompletion
	log     *zap.Logger
}

// NewInFlightPurchases creates an empty purchase-completion table.
func NewInFlightPurchases(logger *zap.Logger) *InFlightPurchases {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InFlightPurchases{
		pending: make(map[string]PurchaseCompletion),
		log:     logger,
	}
}

// Begin registers a completion for productID. Returns an
// ErrCodePurchaseInProgress error when a purchase for the product is already
// in flight; the completion is not registered in that case.
func (p *InFlightPurchases) Begin(productID string, completion PurchaseCompletion) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.pending[productID]; exists {
		p.log.Debug("purchase already in progress for product",
			zap.String("productID", productID))
		return NewPurchaseInProgressError(productID)
	}

	p.pending[productID] = completion
	return nil
}

// Complete removes and invokes the completion registered for productID with
// the purchase outcome. No-op when nothing is registered.
func (p *InFlightPurchases) Complete(productID string, info *CustomerInfo, err error) {
	p.mu.Lock()
	completion, exists := p.pending[productID]
	delete(p.pending, productID)
	p.mu.Unlock()

	if !exists {
		return
	}
	completion(info, err)
}

// InProgress reports whether a purchase for productID is currently in flight.
func (p *InFlightPurchases) InProgress(productID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, exists := p.pending[productID]
	return exists
}
