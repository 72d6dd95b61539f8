package purchasekit

import (
	"context"
	"iter"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RemainingMetadataPoster is the poster surface the sync helper consumes.
type RemainingMetadataPoster interface {
	PostRemainingCachedMetadata(ctx context.Context, appUserID string, isRestore bool) iter.Seq[SweepResult]
}

// defaultSyncDelayMax bounds the jittered delay before a dispatched sweep,
// avoiding thundering-herd sweeps right at app foreground.
const defaultSyncDelayMax = 5 * time.Second

// SyncHelper periodically drains metadata records abandoned by the normal
// posting flow, re-attempting each one sequentially. At most one sweep runs
// per process at a time; a sweep requested while one is running is dropped,
// not queued.
type SyncHelper struct {
	poster       RemainingMetadataPoster
	customerInfo CustomerInfoCache
	attribution  AttributionTracker
	currentUser  CurrentUserProvider

	inProgress   atomic.Bool
	syncDelayMax time.Duration
	log          *zap.Logger
}

// SyncHelperOption configures the sync helper.
type SyncHelperOption func(*SyncHelper)

// WithSyncDelayMax bounds the jittered dispatch delay of SyncIfNeeded.
func WithSyncDelayMax(limit time.Duration) SyncHelperOption {
	return func(h *SyncHelper) {
		h.syncDelayMax = limit
	}
}

// WithSyncLogger sets the helper's logger. Defaults to a no-op logger.
func WithSyncLogger(logger *zap.Logger) SyncHelperOption {
	return func(h *SyncHelper) {
		h.log = logger
	}
}

// NewSyncHelper creates a sync helper over the given collaborators.
func NewSyncHelper(
	poster RemainingMetadataPoster,
	customerInfo CustomerInfoCache,
	attribution AttributionTracker,
	currentUser CurrentUserProvider,
	opts ...SyncHelperOption,
) *SyncHelper {
	helper := &SyncHelper{
		poster:       poster,
		customerInfo: customerInfo,
		attribution:  attribution,
		currentUser:  currentUser,
		syncDelayMax: defaultSyncDelayMax,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(helper)
	}
	return helper
}

// SyncIfNeeded dispatches a sweep onto a background goroutine after a
// jittered delay.
func (h *SyncHelper) SyncIfNeeded(ctx context.Context, allowSharingStoreAccount bool) {
	delay := time.Duration(0)
	if h.syncDelayMax > 0 {
		delay = time.Duration(rand.Int63n(int64(h.syncDelayMax)))
	}

	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		h.PerformSync(ctx, allowSharingStoreAccount)
	}()
}

// PerformSync consumes the poster's sweep fully, caching customer info for
// successful posts and marking attribute/attribution data as synced whenever
// the backend durably recorded it. No-op when a sweep is already running.
func (h *SyncHelper) PerformSync(ctx context.Context, allowSharingStoreAccount bool) {
	if !h.inProgress.CompareAndSwap(false, true) {
		h.log.Debug("transaction metadata sync already in progress, skipping")
		return
	}
	defer h.inProgress.Store(false)

	appUserID := h.currentUser.CurrentAppUserID()
	h.log.Debug("syncing remaining transaction metadata",
		zap.String("appUserID", appUserID),
		zap.Bool("isRestore", allowSharingStoreAccount))

	for result := range h.poster.PostRemainingCachedMetadata(ctx, appUserID, allowSharingStoreAccount) {
		if result.Err == nil && result.CustomerInfo != nil {
			h.customerInfo.CacheCustomerInfo(appUserID, result.CustomerInfo)
		}

		// A 4xx-class rejection still means the backend durably recorded, or
		// definitively will never record, the attribute data. Don't resend it
		// indefinitely.
		synced := result.Err == nil || AsBackendError(result.Err).SuccessfullySynced
		if !synced {
			continue
		}

		if len(result.Context.UnsyncedAttributes) > 0 {
			h.attribution.MarkAttributesSynced(appUserID, result.Context.UnsyncedAttributes)
		}
		if result.Context.AdAttributionToken != "" {
			h.attribution.MarkAdAttributionTokenSynced(appUserID)
		}
	}
}
