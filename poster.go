package purchasekit

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/purchasekit/purchasekit-go/receipt"
)

// TransactionPoster posts observed purchase transactions to the backend.
//
// For every transaction it builds or recovers a metadata record, posts it,
// interprets the result, decides transaction-finish eligibility and manages
// the metadata store lifecycle: store-if-absent before the network call,
// remove on a terminal outcome. Retry of a single failed post is achieved by
// leaving metadata in place for the next queue replay or sweep, not by
// backoff loops here.
type TransactionPoster struct {
	products ProductLookup
	receipts ReceiptFetcher
	backend  Backend
	store    *MetadataStore

	completedBy   CompletionResponsibility
	observerMode  bool
	refreshPolicy RefreshPolicy
	log           *zap.Logger

	posted postedSet
}

// PosterOption configures the transaction poster.
type PosterOption func(*TransactionPoster)

// WithCompletionResponsibility sets who finishes transactions.
// Defaults to CompletedBySDK.
func WithCompletionResponsibility(completedBy CompletionResponsibility) PosterOption {
	return func(p *TransactionPoster) {
		p.completedBy = completedBy
	}
}

// WithObserverMode marks purchases as observed passively rather than made
// through the SDK.
func WithObserverMode(observerMode bool) PosterOption {
	return func(p *TransactionPoster) {
		p.observerMode = observerMode
	}
}

// WithRefreshPolicy sets the receipt refresh policy for legacy-API posts.
// Defaults to RefreshOnlyIfEmpty.
func WithRefreshPolicy(policy RefreshPolicy) PosterOption {
	return func(p *TransactionPoster) {
		p.refreshPolicy = policy
	}
}

// WithPosterLogger sets the poster's logger. Defaults to a no-op logger.
func WithPosterLogger(logger *zap.Logger) PosterOption {
	return func(p *TransactionPoster) {
		p.log = logger
	}
}

// NewTransactionPoster creates a poster over the given collaborators.
func NewTransactionPoster(
	products ProductLookup,
	receipts ReceiptFetcher,
	backend Backend,
	store *MetadataStore,
	opts ...PosterOption,
) *TransactionPoster {
	poster := &TransactionPoster{
		products:      products,
		receipts:      receipts,
		backend:       backend,
		store:         store,
		completedBy:   CompletedBySDK,
		refreshPolicy: RefreshOnlyIfEmpty,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(poster)
	}
	return poster
}

// HandlePurchasedTransaction resolves metadata for the transaction, posts it
// to the backend and reconciles the outcome into the transaction lifecycle.
//
// The finish side effect happens asynchronously relative to the returned
// result but is always attempted before completion. Returns ErrAlreadyPosted
// without re-posting when the transaction's terminal outcome was already
// recorded this process.
func (p *TransactionPoster) HandlePurchasedTransaction(
	ctx context.Context,
	txn StoreTransaction,
	data TransactionContext,
	appUserID string,
) (*CustomerInfo, error) {
	p.log.Debug("handling purchased transaction",
		zap.String("productID", txn.ProductID()),
		zap.String("transactionID", txn.TransactionID()))

	if txn.HasKnownTransactionID() && p.posted.contains(txn.TransactionID()) {
		p.log.Debug("skipping already posted transaction",
			zap.String("transactionID", txn.TransactionID()))
		p.finishAndWait(ctx, txn)
		return nil, ErrAlreadyPosted
	}

	metadata, err := p.resolveMetadata(ctx, txn, data)
	if err != nil {
		return nil, err
	}

	info, postErr := p.backend.PostReceipt(ctx, p.receiptRequest(metadata, appUserID))
	return p.reconcile(ctx, txn, metadata, info, postErr, true)
}

// PostReceiptFromSyncedTransaction posts a transaction observed asynchronously
// by the modern API's listener. Identical metadata and store lifecycle rules
// as HandlePurchasedTransaction, but it never finishes the transaction itself:
// this path may run concurrently with the listener's own finish logic, so
// finishing is left to the caller.
func (p *TransactionPoster) PostReceiptFromSyncedTransaction(
	ctx context.Context,
	txn StoreTransaction,
	data TransactionContext,
	appUserID string,
) (*CustomerInfo, error) {
	metadata, err := p.resolveMetadata(ctx, txn, data)
	if err != nil {
		return nil, err
	}

	info, postErr := p.backend.PostReceipt(ctx, p.receiptRequest(metadata, appUserID))
	return p.reconcile(ctx, txn, metadata, info, postErr, false)
}

// FinishTransactionIfNeeded finishes the transaction unless the current
// configuration makes the host app responsible for finishing, then invokes
// onComplete.
func (p *TransactionPoster) FinishTransactionIfNeeded(
	ctx context.Context,
	txn StoreTransaction,
	onComplete func(),
) {
	if p.completedBy == CompletedByApp {
		if onComplete != nil {
			onComplete()
		}
		return
	}

	p.log.Info("finishing transaction",
		zap.String("productID", txn.ProductID()),
		zap.String("transactionID", txn.TransactionID()))

	if err := txn.Finish(ctx); err != nil {
		p.log.Error("failed to finish transaction",
			zap.String("transactionID", txn.TransactionID()), zap.Error(err))
	}
	if onComplete != nil {
		onComplete()
	}
}

// SweepResult is one record's outcome from a remaining-metadata sweep.
type SweepResult struct {
	Context      TransactionContext
	CustomerInfo *CustomerInfo
	Err          error
}

// PostRemainingCachedMetadata lazily posts every record left in the metadata
// store, one at a time. These are transactions that could not be synced during
// the normal flow; there is no live transaction handle, so nothing is ever
// finished here. A failed record does not stop the sweep.
func (p *TransactionPoster) PostRemainingCachedMetadata(
	ctx context.Context,
	appUserID string,
	isRestore bool,
) iter.Seq[SweepResult] {
	return func(yield func(SweepResult) bool) {
		for _, metadata := range p.store.AllRecords() {
			metadata.Context.Source = PurchaseSource{
				IsRestore:        isRestore,
				InitiationSource: InitiationSourceQueue,
			}

			info, postErr := p.backend.PostReceipt(ctx, p.receiptRequest(metadata, appUserID))
			p.settleStoredMetadata(metadata, info, postErr)

			if !yield(SweepResult{Context: metadata.Context, CustomerInfo: info, Err: postErr}) {
				return
			}
		}
	}
}

// UnpostedTransactions returns the subset of transactions with no terminal
// outcome recorded this process.
func (p *TransactionPoster) UnpostedTransactions(txns []StoreTransaction) []StoreTransaction {
	var unposted []StoreTransaction
	for _, txn := range txns {
		if !txn.HasKnownTransactionID() || !p.posted.contains(txn.TransactionID()) {
			unposted = append(unposted, txn)
		}
	}
	return unposted
}

// ============================================================================
// Metadata resolution
// ============================================================================

// resolveMetadata recovers the stored record for the transaction or builds a
// fresh one. A stored capture is authoritative: it reflects the state at the
// moment of purchase, which may differ from current app state on retry.
func (p *TransactionPoster) resolveMetadata(
	ctx context.Context,
	txn StoreTransaction,
	data TransactionContext,
) (*TransactionMetadata, error) {
	if txn.ProductID() == "" {
		return nil, NewMissingProductIDError(txn.TransactionID())
	}

	transactionID := p.canonicalTransactionID(txn)
	key := p.storageKey(txn, transactionID)

	// Legacy pending transactions were keyed by product identifier before
	// their transaction identifier became known. Move, not copy.
	if txn.API() == APILegacy && transactionID != "" {
		p.store.Migrate(ProductKey(txn.ProductID()), key)
	}

	if stored := p.store.Retrieve(key); stored != nil {
		p.log.Debug("recovered stored transaction metadata",
			zap.String("transactionID", transactionID),
			zap.String("productID", txn.ProductID()))
		return stored, nil
	}

	proof, err := p.resolveProof(ctx, txn)
	if err != nil {
		return nil, err
	}

	metadata := NewTransactionMetadata(
		transactionID,
		txn.ProductID(),
		p.lookupProduct(ctx, txn.ProductID()),
		data,
		proof,
		p.completedBy,
		data.Source.InitiationSource == InitiationSourcePurchase,
	)

	if txn.API() == APIModern {
		if jws, err := p.receipts.AppTransactionJWS(ctx); err == nil {
			metadata.AppTransactionJWS = jws
		}
	}

	// Persist only when something would otherwise be lost: a no-context queue
	// replay can always be recomputed fresh next time.
	if data.Source.InitiationSource == InitiationSourcePurchase || data.HasAttributionContext() {
		p.store.Store(metadata, key)
	}

	return metadata, nil
}

// canonicalTransactionID returns the transaction identifier, recovering it
// from the signed token's claims when the handle doesn't carry one.
func (p *TransactionPoster) canonicalTransactionID(txn StoreTransaction) string {
	if txn.HasKnownTransactionID() {
		return txn.TransactionID()
	}
	if token := txn.SignedToken(); token != "" {
		if claims, err := receipt.ParseTokenClaims(token); err == nil && claims.TransactionID != "" {
			return claims.TransactionID
		}
	}
	return ""
}

// storageKey keys by transaction identifier when known; legacy transactions
// without one fall back to the product key until migration.
func (p *TransactionPoster) storageKey(txn StoreTransaction, transactionID string) string {
	if transactionID != "" {
		return TransactionKey(transactionID)
	}
	return ProductKey(txn.ProductID())
}

// resolveProof picks the receipt proof appropriate to the transaction API.
func (p *TransactionPoster) resolveProof(ctx context.Context, txn StoreTransaction) (receipt.Proof, error) {
	switch txn.API() {
	case APIModern:
		if token := txn.SignedToken(); token != "" {
			return receipt.FromToken(token), nil
		}
		bundle, err := p.receipts.ReceiptBundle(ctx)
		if err != nil || bundle == nil {
			return receipt.Empty(), NewMissingReceiptError()
		}
		return receipt.FromBundle(bundle), nil

	default:
		data, err := p.receipts.ReceiptData(ctx, p.refreshPolicy)
		if err != nil || len(data) == 0 {
			return receipt.Empty(), NewMissingReceiptError()
		}
		return receipt.FromData(data), nil
	}
}

func (p *TransactionPoster) lookupProduct(ctx context.Context, productID string) *ProductSnapshot {
	products, err := p.products.Products(ctx, []string{productID})
	if err != nil {
		// Best-effort: a missing product does not block posting.
		p.log.Debug("product lookup failed, posting without product snapshot",
			zap.String("productID", productID), zap.Error(err))
		return nil
	}
	for _, product := range products {
		if product != nil && product.ProductID == productID {
			return product
		}
	}
	return nil
}

func (p *TransactionPoster) receiptRequest(metadata *TransactionMetadata, appUserID string) *ReceiptRequest {
	return &ReceiptRequest{
		AppUserID:         appUserID,
		Proof:             metadata.Proof,
		Product:           metadata.Product,
		Context:           metadata.Context,
		SDKOriginated:     metadata.SDKOriginated,
		TransactionID:     metadata.TransactionID,
		ObserverMode:      p.observerMode,
		CompletedBy:       metadata.OriginalCompletedBy,
		AppTransactionJWS: metadata.AppTransactionJWS,
	}
}

// ============================================================================
// Outcome reconciliation
// ============================================================================

// reconcile applies the store lifecycle rules and, when allowed, the finish
// side effect for a completed post.
func (p *TransactionPoster) reconcile(
	ctx context.Context,
	txn StoreTransaction,
	metadata *TransactionMetadata,
	info *CustomerInfo,
	postErr error,
	mayFinish bool,
) (*CustomerInfo, error) {
	p.settleStoredMetadata(metadata, info, postErr)

	if postErr != nil {
		backendErr := AsBackendError(postErr)
		if backendErr.Finishable {
			// The backend will never accept this post. Finish so the OS stops
			// redelivering it forever.
			if txn.HasKnownTransactionID() {
				p.posted.add(txn.TransactionID())
			}
			if mayFinish {
				p.finishAndWait(ctx, txn)
			}
		}
		return nil, postErr
	}

	if txn.HasKnownTransactionID() {
		p.posted.add(txn.TransactionID())
	}

	if mayFinish && p.shouldFinish(txn, metadata.Product, info) {
		p.finishAndWait(ctx, txn)
	}
	return info, nil
}

// settleStoredMetadata clears the stored record on a terminal outcome.
// A computed-offline success means the server never actually saw the data, so
// the record stays. A non-finishable failure keeps the record for retry.
func (p *TransactionPoster) settleStoredMetadata(
	metadata *TransactionMetadata,
	info *CustomerInfo,
	postErr error,
) {
	key := metadata.StoreKey()

	if postErr == nil {
		if info != nil && !info.ComputedOffline {
			p.store.Remove(key)
		}
		return
	}

	if AsBackendError(postErr).Finishable {
		p.store.Remove(key)
	}
}

// shouldFinish governs whether a successful post finishes the OS transaction.
func (p *TransactionPoster) shouldFinish(
	txn StoreTransaction,
	product *ProductSnapshot,
	info *CustomerInfo,
) bool {
	// The server hasn't acknowledged the transaction; finishing now would
	// permanently lose it.
	if info == nil || info.ComputedOffline {
		return false
	}

	// Unknown product: nothing else reasonable to do. Don't leak a
	// transaction forever over incomplete catalog data.
	if product == nil {
		return true
	}

	switch product.Category {
	case CategorySubscription:
		// Includes non-renewing subscriptions; tracked by entitlement state
		// independent of consumption.
		return true

	case CategoryNonSubscription:
		if !txn.HasKnownTransactionID() {
			return true
		}
		// Only finish consumables the server actually recorded.
		if info.HasNonSubscriptionTransaction(txn.TransactionID()) {
			return true
		}
		p.log.Warn("not finishing consumable transaction missing from recorded non-subscriptions",
			zap.String("transactionID", txn.TransactionID()),
			zap.String("productID", txn.ProductID()))
		return false
	}

	return true
}

func (p *TransactionPoster) finishAndWait(ctx context.Context, txn StoreTransaction) {
	done := make(chan struct{})
	p.FinishTransactionIfNeeded(ctx, txn, func() { close(done) })
	<-done
}

// postedSet records transaction identifiers with a terminal outcome this
// process, so queue redeliveries don't trigger duplicate posts.
type postedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *postedSet) add(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	s.ids[transactionID] = struct{}{}
}

func (s *postedSet) contains(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[transactionID]
	return ok
}
