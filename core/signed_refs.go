package core

// signed_refs.go implements the signed-refs manifest: a peer's claim about
// the current tip of every ref under one urn, signed by one of its device
// keys. Generalizes the pushed-reference/push-note shape (name, old hash,
// new hash, signature) from the make-os-kit push pool into a single signed
// snapshot per (urn, peer) rather than one signed record per push.

import (
	"fmt"
	"sort"
)

// SignedRefEntry is one ref's claimed tip within a signed-refs manifest.
type SignedRefEntry struct {
	Name string   `json:"name"`
	Tip  ObjectID `json:"tip"`
}

// SignedRefs is the manifest a peer publishes (and signs) describing every
// ref it holds for one urn, plus which other peers it itself tracks for
// that urn (RemotePeers) -- the data a downstream peer's depth-2
// transitive tracking expansion walks.
type SignedRefs struct {
	URN         URN              `json:"urn"`
	Peer        string           `json:"peer"`
	Refs        []SignedRefEntry `json:"refs"`
	RemotePeers []string         `json:"remote_peers,omitempty"`
	SignerKey   []byte           `json:"signer_key"`
	Signature   []byte           `json:"signature,omitempty"`
}

// signingMessage returns the canonical bytes signed over: everything but
// the signature field itself.
func (s *SignedRefs) signingMessage() ([]byte, error) {
	cp := *s
	cp.Signature = nil
	sort.Slice(cp.Refs, func(i, j int) bool { return cp.Refs[i].Name < cp.Refs[j].Name })
	if cp.RemotePeers != nil {
		cp.RemotePeers = append([]string(nil), cp.RemotePeers...)
		sort.Strings(cp.RemotePeers)
	}
	return CanonicalEncode(cp)
}

// validateRefs rejects a manifest carrying more than one entry for the
// same ref name: a manifest is a map from ref name to claimed tip, and a
// duplicate name makes that map ambiguous.
func (s *SignedRefs) validateRefs() error {
	seen := make(map[string]struct{}, len(s.Refs))
	for _, r := range s.Refs {
		if _, dup := seen[r.Name]; dup {
			return Fail(KindMalformed, "signedrefs.validate", fmt.Errorf("duplicate ref name %q", r.Name))
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// Sign signs the manifest with priv, setting SignerKey and Signature.
func (s *SignedRefs) Sign(pub []byte, priv []byte) error {
	s.SignerKey = pub
	msg, err := s.signingMessage()
	if err != nil {
		return err
	}
	sig, err := Sign(priv, msg)
	if err != nil {
		return err
	}
	s.Signature = sig
	return nil
}

// VerifySignature checks that Signature is a valid signature by SignerKey
// over the manifest, and that SignerKey belongs to one of allowedKeys (the
// current delegation set for URN's identity, resolved by the caller).
// Returns *ReplError{Kind: KindUnsignedRefs} on any failure.
func (s *SignedRefs) VerifySignature(allowedKeys [][]byte) error {
	if len(s.Signature) == 0 || len(s.SignerKey) == 0 {
		return Fail(KindUnsignedRefs, "signedrefs.verify", fmt.Errorf("manifest for %s carries no signature", s.URN))
	}
	allowed := false
	for _, k := range allowedKeys {
		if string(k) == string(s.SignerKey) {
			allowed = true
			break
		}
	}
	if !allowed {
		return Fail(KindUnsignedRefs, "signedrefs.verify", fmt.Errorf("signer is not a current delegate of %s", s.URN))
	}
	msg, err := s.signingMessage()
	if err != nil {
		return err
	}
	if !Verify(s.SignerKey, msg, s.Signature) {
		return Fail(KindUnsignedRefs, "signedrefs.verify", fmt.Errorf("signature does not verify"))
	}
	return nil
}

// Get returns the claimed tip for name, or a zero-length ObjectID if name
// is absent from the manifest.
func (s *SignedRefs) Get(name string) ObjectID {
	for _, r := range s.Refs {
		if r.Name == name {
			return r.Tip
		}
	}
	return ObjectID{}
}

// Put sets (or replaces) name's claimed tip.
func (s *SignedRefs) Put(name string, tip ObjectID) {
	for i, r := range s.Refs {
		if r.Name == name {
			s.Refs[i].Tip = tip
			return
		}
	}
	s.Refs = append(s.Refs, SignedRefEntry{Name: name, Tip: tip})
}

// signedRefsRefName is the ref namespace a peer's signed-refs manifest for
// urn is stored under: refs/namespaces/<urn>/refs/rad/signed_refs.
func signedRefsRefName(urn URN) string {
	return fmt.Sprintf("refs/namespaces/%s/refs/rad/signed_refs", urn)
}

// LoadSignedRefs reads and verifies the signed-refs manifest currently
// committed for urn in store, checking the signature against
// allowedKeys. StaleRefs is the caller's responsibility to detect (by
// comparing LoadSignedRefs' result across fetch attempts).
func LoadSignedRefs(store ObjectStore, urn URN, allowedKeys [][]byte) (*SignedRefs, error) {
	tip, err := store.ResolveRef(signedRefsRefName(urn))
	if err != nil {
		return nil, err
	}
	if tip.IsZero() {
		return nil, Fail(KindNotFound, "signedrefs.load", fmt.Errorf("no signed-refs manifest for %s", urn))
	}
	raw, err := store.ReadBlob(tip)
	if err != nil {
		return nil, err
	}
	var manifest SignedRefs
	if err := CanonicalDecode(raw, &manifest); err != nil {
		return nil, Fail(KindMalformed, "signedrefs.load", err)
	}
	if err := manifest.validateRefs(); err != nil {
		return nil, err
	}
	if err := manifest.VerifySignature(allowedKeys); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// CommitSignedRefs canonically encodes and writes a freshly signed
// manifest, atomically repointing the urn's signed-refs ref at the new
// blob (expectedPrev is the currently-known tip, for CAS safety).
func CommitSignedRefs(store ObjectStore, manifest *SignedRefs, expectedPrev ObjectID) (ObjectID, error) {
	if err := manifest.validateRefs(); err != nil {
		return nil, err
	}
	enc, err := CanonicalEncode(manifest)
	if err != nil {
		return nil, err
	}
	id, err := store.WriteBlob(enc)
	if err != nil {
		return nil, err
	}
	if err := store.CompareAndSwapRef(signedRefsRefName(manifest.URN), expectedPrev, id); err != nil {
		return nil, err
	}
	return id, nil
}
