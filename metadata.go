package purchasekit

import (
	"encoding/json"
	"fmt"

	"github.com/purchasekit/purchasekit-go/receipt"
)

// metadataSchemaVersion is bumped when the serialized record shape changes.
// Decoding tolerates older versions; records from a newer schema are treated
// as unreadable.
const metadataSchemaVersion = 1

// TransactionMetadata is the durable bundle of everything needed to redo a
// backend post later without access to the original purchase call-site. It is
// cached before posting and cleared once the backend definitively accepts or
// rejects the post.
type TransactionMetadata struct {
	SchemaVersion int    `json:"schemaVersion"`
	TransactionID string `json:"transactionId"`

	// ProductID is the purchased product's identifier, kept top-level so the
	// record stays keyable even when the product snapshot is nil.
	ProductID string `json:"productId"`

	// Product is the pricing snapshot captured at post time. Nil when the
	// product could not be looked up; the backend accepts a nil snapshot.
	Product *ProductSnapshot `json:"productData,omitempty"`

	Context TransactionContext `json:"transactionContext"`
	Proof   receipt.Proof      `json:"encodedReceipt"`

	// OriginalCompletedBy is the completion responsibility at the time of
	// purchase. It can legitimately differ from the current configuration if
	// configuration changed between purchase and retry.
	OriginalCompletedBy CompletionResponsibility `json:"originalPurchasesAreCompletedBy"`

	// SDKOriginated is true only when the purchase was initiated through this
	// SDK's own purchase call, as opposed to observed passively from the
	// queue. Governs billing-attribution semantics in the backend payload.
	SDKOriginated bool `json:"sdkOriginated"`

	AppTransactionJWS string `json:"appTransactionJws,omitempty"`
}

// NewTransactionMetadata builds a record for an observed transaction.
func NewTransactionMetadata(
	transactionID string,
	productID string,
	product *ProductSnapshot,
	data TransactionContext,
	proof receipt.Proof,
	completedBy CompletionResponsibility,
	sdkOriginated bool,
) *TransactionMetadata {
	return &TransactionMetadata{
		SchemaVersion:       metadataSchemaVersion,
		TransactionID:       transactionID,
		ProductID:           productID,
		Product:             product,
		Context:             data,
		Proof:               proof,
		OriginalCompletedBy: completedBy,
		SDKOriginated:       sdkOriginated,
	}
}

// StoreKey returns the key this record is stored under: the transaction key
// once the identifier is known, the product key for legacy pending records.
func (m *TransactionMetadata) StoreKey() string {
	if m.TransactionID != "" {
		return TransactionKey(m.TransactionID)
	}
	return ProductKey(m.ProductID)
}

func encodeMetadata(metadata *TransactionMetadata) ([]byte, error) {
	return json.Marshal(metadata)
}

func decodeMetadata(raw []byte) (*TransactionMetadata, error) {
	var metadata TransactionMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
	}
	if metadata.SchemaVersion > metadataSchemaVersion {
		return nil, fmt.Errorf("transaction metadata schema version %d is newer than supported version %d",
			metadata.SchemaVersion, metadataSchemaVersion)
	}
	return &metadata, nil
}
