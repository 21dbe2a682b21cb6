package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Consent request lifecycle states. Transitions out of pending are one-shot.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// Cached transaction states. pending may move to confirmed or failed;
// terminal states are never rewritten.
const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

// Handle binds a human-readable identifier 1:1 to a wallet address.
type Handle struct {
	Handle                string    `db:"handle" json:"handle"`
	WalletAddress         string    `db:"wallet_address" json:"wallet_address"`
	DevicePublicKey       string    `db:"device_public_key" json:"device_public_key"`
	RegistrationSignature *string   `db:"registration_signature" json:"-"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// ConsentRequest is the off-chain proposal/response handshake between two
// registered handles. The on-chain consent artifact, if any, is created by
// the client after acceptance and correlated later via TransactionRecord.
type ConsentRequest struct {
	ID            uuid.UUID       `db:"id" json:"request_id"`
	FromHandle    string          `db:"from_handle" json:"from_handle"`
	FromAddress   string          `db:"from_address" json:"from_address"`
	ToHandle      string          `db:"to_handle" json:"to_handle"`
	Template      string          `db:"template" json:"template"`
	ConsentData   json.RawMessage `db:"consent_data" json:"consent_data,omitempty"`
	AcceptorProof json.RawMessage `db:"acceptor_proof" json:"acceptor_proof,omitempty"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// TransactionRecord caches an external ledger fact keyed by tx hash.
type TransactionRecord struct {
	TxHash      string     `db:"tx_hash" json:"tx_hash"`
	ChainID     string     `db:"chain_id" json:"chain_id"`
	ConsentID   *uuid.UUID `db:"consent_id" json:"consent_id,omitempty"`
	FromAddress *string    `db:"from_address" json:"from_address,omitempty"`
	ToAddress   *string    `db:"to_address" json:"to_address,omitempty"`
	Status      string     `db:"status" json:"status"`
	BlockNumber *int64     `db:"block_number" json:"block_number,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the cached status will never be re-queried.
func (t *TransactionRecord) Terminal() bool {
	return t.Status == TxConfirmed || t.Status == TxFailed
}

// DeviceRegistration maps a handle's device to its push token.
type DeviceRegistration struct {
	Handle    string    `db:"handle" json:"handle"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	PushToken string    `db:"push_token" json:"push_token"`
	Platform  string    `db:"platform" json:"platform,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
