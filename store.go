package purchasekit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	storeNamespace  = "purchasekit"
	storeSubdir     = "metadata"
	storeFilePrefix = "txnmeta_"

	transactionKeyPrefix = "transaction."
)

// TransactionKey derives the store key for a transaction identifier. This is
// the primary durable key once the identifier is known.
func TransactionKey(transactionID string) string {
	return transactionKeyPrefix + transactionID
}

// ProductKey derives the store key for a product identifier. Used for legacy
// pending transactions whose transaction identifier is not yet known; the
// record is migrated to a TransactionKey once it is.
func ProductKey(productID string) string {
	return "product." + productID
}

// MetadataStore durably caches transaction metadata, one file per record,
// scoped to the configured API key so multiple app configurations don't
// collide. Store operations never surface errors to callers: a corrupt or
// unwritable record must not crash a purchase flow.
type MetadataStore struct {
	dir  string
	log  *zap.Logger
	lock *keyedLock
}

// StoreOption configures the metadata store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	baseDir string
	logger  *zap.Logger
}

// WithStoreBaseDir overrides the base directory for persisted records.
// Defaults to the user cache directory.
func WithStoreBaseDir(dir string) StoreOption {
	return func(c *storeConfig) {
		c.baseDir = dir
	}
}

// WithStoreLogger sets the store's logger. Defaults to a no-op logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// NewMetadataStore creates a store scoped to the given API key.
func NewMetadataStore(apiKey string, opts ...StoreOption) (*MetadataStore, error) {
	config := storeConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&config)
	}

	baseDir := config.baseDir
	if baseDir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
		}
		baseDir = userCache
	}

	// The API key is hashed into the path so keys never appear on disk.
	scope := hashKey(apiKey)[:16]
	dir := filepath.Join(baseDir, storeNamespace, storeSubdir, scope)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &MetadataStore{
		dir:  dir,
		log:  config.logger,
		lock: newKeyedLock(),
	}, nil
}

// Store durably writes the record for key unless one already exists.
// First-write-wins: concurrent or retried purchase attempts for the same
// transaction must not clobber the originally captured context.
func (s *MetadataStore) Store(metadata *TransactionMetadata, key string) {
	unlock := s.lock.acquire(key)
	defer unlock()

	path := s.path(key)
	if fileExists(path) {
		s.log.Debug("transaction metadata already exists, keeping original",
			zap.String("key", key))
		return
	}

	raw, err := encodeMetadata(metadata)
	if err != nil {
		s.log.Error("failed to encode transaction metadata",
			zap.String("key", key), zap.Error(err))
		return
	}

	if err := atomicWrite(path, raw); err != nil {
		s.log.Error("failed to write transaction metadata",
			zap.String("key", key), zap.Error(err))
	}
}

// Retrieve returns the record for key, or nil. Decode failures are treated as
// absent and logged, never surfaced.
func (s *MetadataStore) Retrieve(key string) *TransactionMetadata {
	unlock := s.lock.acquire(key)
	defer unlock()

	return s.retrieveLocked(key)
}

func (s *MetadataStore) retrieveLocked(key string) *TransactionMetadata {
	path := s.path(key)
	if !fileExists(path) {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		s.log.Error("failed to read transaction metadata",
			zap.String("key", key), zap.Error(err))
		return nil
	}

	metadata, err := decodeMetadata(raw)
	if err != nil {
		s.log.Error("failed to decode transaction metadata, treating as absent",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	return metadata
}

// Remove deletes the record for key. Idempotent: removing an absent key is a
// no-op.
func (s *MetadataStore) Remove(key string) {
	unlock := s.lock.acquire(key)
	defer unlock()

	path := s.path(key)
	if !fileExists(path) {
		s.log.Debug("no transaction metadata to remove", zap.String("key", key))
		return
	}

	if err := os.Remove(path); err != nil {
		s.log.Error("failed to remove transaction metadata",
			zap.String("key", key), zap.Error(err))
	}
}

// Migrate atomically moves the record at fromKey to toKey. No-op when fromKey
// has no record. An existing record at toKey is preserved (first-write-wins)
// and the source record is dropped.
func (s *MetadataStore) Migrate(fromKey, toKey string) {
	unlockFrom := s.lock.acquire(fromKey)
	defer unlockFrom()
	unlockTo := s.lock.acquire(toKey)
	defer unlockTo()

	fromPath := s.path(fromKey)
	if !fileExists(fromPath) {
		return
	}

	toPath := s.path(toKey)
	if fileExists(toPath) {
		s.log.Debug("destination metadata already exists, dropping source",
			zap.String("fromKey", fromKey), zap.String("toKey", toKey))
		if err := os.Remove(fromPath); err != nil {
			s.log.Error("failed to remove migrated transaction metadata",
				zap.String("key", fromKey), zap.Error(err))
		}
		return
	}

	metadata := s.retrieveLocked(fromKey)
	if metadata == nil {
		// Undecodable source: drop it rather than carry garbage forward.
		if err := os.Remove(fromPath); err != nil {
			s.log.Error("failed to remove undecodable transaction metadata",
				zap.String("key", fromKey), zap.Error(err))
		}
		return
	}

	// The record's embedded identifier keys its eventual removal, so it must
	// match the key the record now lives under.
	if metadata.TransactionID == "" {
		if id, ok := strings.CutPrefix(toKey, transactionKeyPrefix); ok {
			metadata.TransactionID = id
		}
	}

	raw, err := encodeMetadata(metadata)
	if err != nil {
		s.log.Error("failed to encode migrated transaction metadata",
			zap.String("toKey", toKey), zap.Error(err))
		return
	}
	if err := atomicWrite(toPath, raw); err != nil {
		s.log.Error("failed to write migrated transaction metadata",
			zap.String("toKey", toKey), zap.Error(err))
		return
	}
	if err := os.Remove(fromPath); err != nil {
		s.log.Error("failed to remove migrated transaction metadata",
			zap.String("key", fromKey), zap.Error(err))
	}
}

// AllRecords returns every stored record, best-effort. Entries that fail to
// decode are skipped.
func (s *MetadataStore) AllRecords() []*TransactionMetadata {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error("failed to enumerate transaction metadata", zap.Error(err))
		return nil
	}

	var records []*TransactionMetadata
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) <= len(storeFilePrefix) ||
			entry.Name()[:len(storeFilePrefix)] != storeFilePrefix {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.Error("failed to read transaction metadata entry",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		metadata, err := decodeMetadata(raw)
		if err != nil {
			s.log.Error("skipping undecodable transaction metadata entry",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		records = append(records, metadata)
	}
	return records
}

// path maps a logical key to its file, hashing the key so arbitrary
// transaction identifiers never become file name components and key length
// stays bounded.
func (s *MetadataStore) path(key string) string {
	return filepath.Join(s.dir, storeFilePrefix+hashKey(key))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// atomicWrite writes via a temp file and rename so readers never observe a
// partially written record.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".txnmeta-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
