// Package purchasekit implements the transaction-posting core of an in-app
// purchase SDK: it durably captures purchase context at the moment of a
// purchase call, posts receipts to the subscription backend, and guarantees
// that transactions are only finished once the backend has durably recorded
// them.
//
// The central problem is that attribution context (offering, paywall session,
// subscriber attributes) exists only at the purchase call-site, while the
// backend post can fail and be retried much later, possibly after a process
// restart. TransactionMetadata bundles everything needed to redo a post, the
// MetadataStore persists it keyed by transaction, and the TransactionPoster
// and SyncHelper drive the post/retry/finish lifecycle.
package purchasekit
