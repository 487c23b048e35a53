// SPDX-License-Identifier: Apache-2.0
// Package core – signature engine and at-rest encryption for the
// replication substrate.
//
// Exposes:
//   - Sign / Verify    – Ed25519, the sole signature scheme this domain
//     uses for identity attestations and signed-refs manifests.
//   - Encrypt / Decrypt – XChaCha20-Poly1305, used only to protect the
//     local device private key at rest.
//   - AuditTrail        – local, unsigned record of verification and
//     commit decisions, for operator diagnosis only.
//
// BLS aggregation, Dilithium post-quantum signing, and Shamir secret
// sharing from the upstream security module are not carried forward here:
// no component in this codebase calls for multi-scheme signatures or
// key-splitting (see DESIGN.md for the per-algorithm justification).
package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/multiformats/go-multibase"
	"golang.org/x/crypto/chacha20poly1305"
)

// peerIDVersion is the leading version byte of the encoded peer-id form,
// letting future revisions change the encoded payload without colliding
// with today's.
const peerIDVersion = 0x01

// EncodePeerID renders pub as the human-displayable peer-id form: a
// version byte followed by the raw public key, multibase-encoded as
// z-base32.
func EncodePeerID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", Fail(KindMalformed, "security.encodePeerID", fmt.Errorf("invalid public key size %d", len(pub)))
	}
	payload := make([]byte, 1+len(pub))
	payload[0] = peerIDVersion
	copy(payload[1:], pub)
	encoded, err := multibase.Encode(multibase.Base32z, payload)
	if err != nil {
		return "", Fail(KindMalformed, "security.encodePeerID", err)
	}
	return encoded, nil
}

// DecodePeerID reverses EncodePeerID, validating the version byte.
func DecodePeerID(s string) (ed25519.PublicKey, error) {
	_, payload, err := multibase.Decode(s)
	if err != nil {
		return nil, Fail(KindMalformed, "security.decodePeerID", err)
	}
	if len(payload) != 1+ed25519.PublicKeySize || payload[0] != peerIDVersion {
		return nil, Fail(KindMalformed, "security.decodePeerID", fmt.Errorf("malformed peer id"))
	}
	return ed25519.PublicKey(payload[1:]), nil
}

// Sign produces an Ed25519 signature over message using priv.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, Fail(KindMalformed, "security.sign", fmt.Errorf("invalid private key size %d", len(priv)))
	}
	return ed25519.Sign(priv, message), nil
}

// Verify reports whether sig is a valid Ed25519 signature over message by
// pub. A malformed public key or signature is treated as verification
// failure, not an error -- callers that need to distinguish malformed
// input should check key/signature lengths themselves.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// GenerateKeypair returns a fresh Ed25519 keypair for a new device or
// person identity.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, Fail(KindStorage, "security.generateKeypair", err)
	}
	return pub, priv, nil
}

// Encrypt seals plaintext under key (must be 32 bytes) using
// XChaCha20-Poly1305, returning nonce||ciphertext. Used by the local
// device keystore to protect the private key at rest; not part of the
// replicated data model.
func Encrypt(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, Fail(KindMalformed, "security.encrypt", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, Fail(KindStorage, "security.encrypt", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt reverses Encrypt.
func Decrypt(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, Fail(KindMalformed, "security.decrypt", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, Fail(KindMalformed, "security.decrypt", fmt.Errorf("ciphertext too short"))
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, Fail(KindUnsigned, "security.decrypt", err)
	}
	return pt, nil
}

// AuditEvent is one local, unsigned record of a verification or
// replication-commit decision, kept for operator diagnosis only -- never
// replicated, signed, or anchored.
type AuditEvent struct {
	Time    time.Time `json:"time"`
	URN     URN       `json:"urn"`
	Peer    string    `json:"peer,omitempty"`
	Phase   string    `json:"phase"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// AuditTrail is an append-only, in-process log of AuditEvents. There is no
// ledger in this domain, so events live only in memory.
type AuditTrail struct {
	mu     sync.Mutex
	events []AuditEvent
	cap    int
}

// NewAuditTrail returns a trail retaining at most capacity events (0 means
// unbounded).
func NewAuditTrail(capacity int) *AuditTrail {
	return &AuditTrail{cap: capacity}
}

// Record appends an event, evicting the oldest if capacity is exceeded.
func (a *AuditTrail) Record(e AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	if a.cap > 0 && len(a.events) > a.cap {
		a.events = a.events[len(a.events)-a.cap:]
	}
}

// Recent returns a copy of the last n events (or all, if n <= 0 or too
// large).
func (a *AuditTrail) Recent(n int) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.events) {
		n = len(a.events)
	}
	out := make([]AuditEvent, n)
	copy(out, a.events[len(a.events)-n:])
	return out
}
