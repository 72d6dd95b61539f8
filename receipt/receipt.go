// Package receipt models the proof of purchase attached to a backend receipt
// post. The platform's two purchase APIs produce different proof shapes, so
// the proof is a tagged union: whole-receipt bytes for the legacy API, a
// signed transaction token or a structured receipt bundle for the modern API.
package receipt

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the proof variants.
type Kind string

const (
	// KindEmpty means no proof is attached.
	KindEmpty Kind = "empty"
	// KindReceiptData is a whole encoded receipt from the legacy API.
	KindReceiptData Kind = "receiptData"
	// KindSignedToken is a signed transaction token from the modern API.
	KindSignedToken Kind = "signedToken"
	// KindBundle is a structured receipt bundle fetched for the modern API
	// when a transaction carries no signed token.
	KindBundle Kind = "bundle"
)

// Bundle is a structured receipt for the modern transaction API:
// subscription-group statuses plus the signed transactions they reference.
type Bundle struct {
	Environment          string                          `json:"environment"`
	SubscriptionStatuses map[string][]SubscriptionStatus `json:"subscriptionStatusByGroupId,omitempty"`
	SignedTransactions   []string                        `json:"signedTransactions,omitempty"`
}

// SubscriptionStatus is the renewal state of one subscription in a group.
type SubscriptionStatus struct {
	State       string `json:"state"`
	SignedToken string `json:"signedToken,omitempty"`
}

// Proof is the encoded receipt attached to a post. Exactly one variant is
// populated; the zero value is the empty proof.
type Proof struct {
	kind   Kind
	data   []byte
	token  string
	bundle *Bundle
}

// Empty returns a proof with no content.
func Empty() Proof {
	return Proof{kind: KindEmpty}
}

// FromData builds a proof from legacy whole-receipt bytes.
func FromData(data []byte) Proof {
	return Proof{kind: KindReceiptData, data: data}
}

// FromToken builds a proof from a signed transaction token.
func FromToken(token string) Proof {
	return Proof{kind: KindSignedToken, token: token}
}

// FromBundle builds a proof from a structured receipt bundle.
func FromBundle(bundle *Bundle) Proof {
	return Proof{kind: KindBundle, bundle: bundle}
}

// Kind returns the populated variant.
func (p Proof) Kind() Kind {
	if p.kind == "" {
		return KindEmpty
	}
	return p.kind
}

// IsEmpty reports whether the proof carries no content.
func (p Proof) IsEmpty() bool {
	return p.Kind() == KindEmpty
}

// Data returns the legacy receipt bytes, or nil for other variants.
func (p Proof) Data() []byte { return p.data }

// Token returns the signed transaction token, or "" for other variants.
func (p Proof) Token() string { return p.token }

// Bundle returns the structured receipt bundle, or nil for other variants.
func (p Proof) Bundle() *Bundle { return p.bundle }

// Equal reports whether two proofs have the same variant and content.
func (p Proof) Equal(other Proof) bool {
	a, err1 := json.Marshal(p)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(a) == string(b)
}

type proofJSON struct {
	Kind   Kind    `json:"kind"`
	Data   []byte  `json:"data,omitempty"`
	Token  string  `json:"token,omitempty"`
	Bundle *Bundle `json:"bundle,omitempty"`
}

// MarshalJSON encodes the proof with a kind discriminator.
func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON{
		Kind:   p.Kind(),
		Data:   p.data,
		Token:  p.token,
		Bundle: p.bundle,
	})
}

// UnmarshalJSON decodes a proof, validating the kind discriminator.
func (p *Proof) UnmarshalJSON(raw []byte) error {
	var decoded proofJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}

	switch decoded.Kind {
	case KindEmpty, "":
		*p = Empty()
	case KindReceiptData:
		*p = FromData(decoded.Data)
	case KindSignedToken:
		*p = FromToken(decoded.Token)
	case KindBundle:
		*p = FromBundle(decoded.Bundle)
	default:
		return fmt.Errorf("unknown receipt proof kind: %q", decoded.Kind)
	}
	return nil
}
