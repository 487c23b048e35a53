package core

// identity_document.go defines the hash-linked identity document and
// attestation records described by the identity-verification subsystem:
// the document carries delegations, the attestation binds a document
// revision into history with Ed25519 signatures over the revision chain.

import (
	"bytes"
	"fmt"
)

const (
	payloadKeyPerson  = "https://radicle.xyz/link/identities/person/v1"
	payloadKeyProject = "https://radicle.xyz/link/identities/project/v1"
)

// DelegationKind distinguishes a direct public key delegate from a
// person-document reference delegate.
type DelegationKind int

const (
	DelegateKey DelegationKind = iota
	DelegatePerson
)

// Delegation is one element of an identity document's delegation set: for
// a `person` document it is always a raw public key; for a `project`
// document it may instead reference a `person` document at a fixed
// revision.
type Delegation struct {
	Kind       DelegationKind `json:"kind"`
	PublicKey  []byte         `json:"public_key,omitempty"`
	PersonURN  URN            `json:"person_urn,omitempty"`
	PersonRev  ObjectID       `json:"person_rev,omitempty"`
}

func (d Delegation) canonicalKey() string {
	if d.Kind == DelegateKey {
		return "k:" + string(d.PublicKey)
	}
	return "p:" + string(d.PersonURN) + ":" + string(d.PersonRev)
}

// IdentityDocument is the record described in the data model: an optional
// previous revision, a schema-tagged payload, and a delegation set.
type IdentityDocument struct {
	Replaces    ObjectID     `json:"replaces,omitempty"`
	PayloadKind string       `json:"payload_kind"`
	Payload     map[string]interface{} `json:"payload"`
	Delegations []Delegation `json:"delegations"`
}

// IsPerson reports whether this document declares itself a `person`.
func (d *IdentityDocument) IsPerson() bool { return d.PayloadKind == payloadKeyPerson }

// IsProject reports whether this document declares itself a `project`.
func (d *IdentityDocument) IsProject() bool { return d.PayloadKind == payloadKeyProject }

// Validate enforces the structural invariants: a recognized payload
// kind, a non-empty delegation set, key-only delegations for a person
// document, and no duplicate entries in the delegation set. Uniqueness is
// checked over the set's own entries only; keys inside referenced person
// documents are not compared, since resolving them requires object-store
// access this type does not have.
func (d *IdentityDocument) Validate() error {
	if d.PayloadKind != payloadKeyPerson && d.PayloadKind != payloadKeyProject {
		return Fail(KindMalformed, "identity.validate", fmt.Errorf("unrecognized payload kind %q", d.PayloadKind))
	}
	if len(d.Delegations) == 0 {
		return Fail(KindMalformed, "identity.validate", fmt.Errorf("empty delegation set"))
	}
	seen := make(map[string]struct{}, len(d.Delegations))
	for _, del := range d.Delegations {
		if d.PayloadKind == payloadKeyPerson && del.Kind != DelegateKey {
			return Fail(KindMalformed, "identity.validate", fmt.Errorf("person document delegation must be a public key"))
		}
		key := del.canonicalKey()
		if _, dup := seen[key]; dup {
			return Fail(KindMalformed, "identity.validate", fmt.Errorf("duplicate delegation %s", key))
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Revision returns the content address of the document's canonical
// encoding -- this is the document's `revision` per the data model.
func (d *IdentityDocument) Revision(hash func([]byte) ObjectID) (ObjectID, error) {
	enc, err := CanonicalEncode(d)
	if err != nil {
		return nil, err
	}
	return hash(enc), nil
}

// Attestation is a commit-like record binding (root, revision, parents,
// signatures). Signatures are Ed25519 signatures made by delegation keys
// over SigningPayload(revision, parents).
type Attestation struct {
	ID        ObjectID   `json:"id"`
	Root      ObjectID   `json:"root"`
	Revision  ObjectID   `json:"revision"`
	Parents   []ObjectID `json:"parents"`
	Signatures []AttestationSig `json:"signatures"`
}

// AttestationSig is one Ed25519 signature over the attestation's signing
// payload, by a public key drawn from the document's delegations.
type AttestationSig struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// SigningPayload builds the message signed by each attestation signature:
// the hash of `revision || parent_revision_1 || parent_revision_2 || ...`
// in ancestor order.
func SigningPayload(revision ObjectID, parents []ObjectID) []byte {
	var buf bytes.Buffer
	buf.Write(revision)
	for _, p := range parents {
		buf.Write(p)
	}
	return HashObject(buf.Bytes())
}
