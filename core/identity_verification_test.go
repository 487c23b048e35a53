package core

import "testing"

func putDocument(t *testing.T, store ObjectStore, doc *IdentityDocument) ObjectID {
	t.Helper()
	enc, err := CanonicalEncode(doc)
	if err != nil {
		t.Fatalf("encode document: %v", err)
	}
	id, err := store.WriteBlob(enc)
	if err != nil {
		t.Fatalf("write document: %v", err)
	}
	return id
}

func putAttestation(t *testing.T, store ObjectStore, att *Attestation) ObjectID {
	t.Helper()
	enc, err := CanonicalEncode(att)
	if err != nil {
		t.Fatalf("encode attestation: %v", err)
	}
	id, err := store.WriteBlob(enc)
	if err != nil {
		t.Fatalf("write attestation: %v", err)
	}
	return id
}

func TestVerifySingleDelegateQuorumSucceeds(t *testing.T) {
	store := newTestStore(t)
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	doc := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "alice"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revision := putDocument(t, store, doc)

	payload := SigningPayload(revision, nil)
	sig, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	att := &Attestation{Root: revision, Revision: revision, Signatures: []AttestationSig{{PublicKey: pub, Signature: sig}}}
	tip := putAttestation(t, store, att)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	urn := URN("rad:person:alice")
	got, err := verifier.Verify(urn, tip)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !got.Revision.Equal(revision) {
		t.Fatalf("revision mismatch: got %s want %s", got.Revision, revision)
	}
}

func TestVerifyUnsignedAttestationFails(t *testing.T) {
	store := newTestStore(t)
	pub, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	doc := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "bob"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revision := putDocument(t, store, doc)
	att := &Attestation{Root: revision, Revision: revision}
	tip := putAttestation(t, store, att)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	_, err = verifier.Verify(URN("rad:person:bob"), tip)
	if !IsKind(err, KindUnsigned) {
		t.Fatalf("expected Unsigned, got %v", err)
	}
}

func TestVerifyNoQuorumFails(t *testing.T) {
	store := newTestStore(t)
	pubA, privA, _ := GenerateKeypair()
	pubB, _, _ := GenerateKeypair()

	doc := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "carol"},
		Delegations: []Delegation{
			{Kind: DelegateKey, PublicKey: pubA},
			{Kind: DelegateKey, PublicKey: pubB},
		},
	}
	revision := putDocument(t, store, doc)
	payload := SigningPayload(revision, nil)
	sigA, err := Sign(privA, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	att := &Attestation{Root: revision, Revision: revision, Signatures: []AttestationSig{{PublicKey: pubA, Signature: sigA}}}
	tip := putAttestation(t, store, att)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	_, err = verifier.Verify(URN("rad:person:carol"), tip)
	if !IsKind(err, KindNoQuorum) {
		t.Fatalf("expected NoQuorum (1 of 2 delegates signed), got %v", err)
	}
}

func TestVerifyCachesVerifiedRevision(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()
	doc := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "dana"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revision := putDocument(t, store, doc)
	payload := SigningPayload(revision, nil)
	sig, _ := Sign(priv, payload)
	att := &Attestation{Root: revision, Revision: revision, Signatures: []AttestationSig{{PublicKey: pub, Signature: sig}}}
	tip := putAttestation(t, store, att)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	urn := URN("rad:person:dana")
	first, err := verifier.Verify(urn, tip)
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	second, err := verifier.Verify(urn, tip)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached verification to return the same result pointer")
	}
}

func TestVerifyTransitionalQuorumRequiresPriorMajority(t *testing.T) {
	store := newTestStore(t)
	pubA, privA, _ := GenerateKeypair()
	pubB, privB, _ := GenerateKeypair()
	pubC, privC, _ := GenerateKeypair()

	// Revision 1: delegates A and B.
	doc1 := &IdentityDocument{
		PayloadKind: payloadKeyProject,
		Payload:     map[string]interface{}{"name": "proj"},
		Delegations: []Delegation{
			{Kind: DelegateKey, PublicKey: pubA},
			{Kind: DelegateKey, PublicKey: pubB},
		},
	}
	rev1 := putDocument(t, store, doc1)
	payload1 := SigningPayload(rev1, nil)
	sigA1, _ := Sign(privA, payload1)
	sigB1, _ := Sign(privB, payload1)
	att1 := &Attestation{Root: rev1, Revision: rev1, Signatures: []AttestationSig{{PublicKey: pubA, Signature: sigA1}, {PublicKey: pubB, Signature: sigB1}}}
	tip1 := putAttestation(t, store, att1)

	// Revision 2: replaces revision 1, now delegated solely to C.
	doc2 := &IdentityDocument{
		Replaces:    rev1,
		PayloadKind: payloadKeyProject,
		Payload:     map[string]interface{}{"name": "proj"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pubC}},
	}
	rev2 := putDocument(t, store, doc2)
	payload2 := SigningPayload(rev2, []ObjectID{tip1})
	sigC2, _ := Sign(privC, payload2)

	t.Run("missing prior majority fails", func(t *testing.T) {
		att2 := &Attestation{Root: rev1, Revision: rev2, Parents: []ObjectID{tip1}, Signatures: []AttestationSig{{PublicKey: pubC, Signature: sigC2}}}
		tip2 := putAttestation(t, store, att2)

		verifier, err := NewIdentityVerifier(store, 16)
		if err != nil {
			t.Fatalf("NewIdentityVerifier: %v", err)
		}
		_, err = verifier.Verify(URN("rad:project:proj"), tip2)
		if !IsKind(err, KindNoQuorum) {
			t.Fatalf("expected NoQuorum from transitional quorum check, got %v", err)
		}
	})

	t.Run("prior majority cosigning succeeds", func(t *testing.T) {
		sigA2, _ := Sign(privA, payload2)
		sigB2, _ := Sign(privB, payload2)
		att2 := &Attestation{
			Root: rev1, Revision: rev2, Parents: []ObjectID{tip1},
			Signatures: []AttestationSig{
				{PublicKey: pubC, Signature: sigC2},
				{PublicKey: pubA, Signature: sigA2},
				{PublicKey: pubB, Signature: sigB2},
			},
		}
		tip2 := putAttestation(t, store, att2)

		verifier, err := NewIdentityVerifier(store, 16)
		if err != nil {
			t.Fatalf("NewIdentityVerifier: %v", err)
		}
		got, err := verifier.Verify(URN("rad:project:proj"), tip2)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !got.Revision.Equal(rev2) {
			t.Fatalf("revision mismatch: got %s want %s", got.Revision, rev2)
		}
	})
}

func TestVerifyBrokenChainWhenParentAttestationMissing(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()

	doc1 := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "erin"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	rev1 := putDocument(t, store, doc1)

	doc2 := &IdentityDocument{
		Replaces:    rev1,
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "erin"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	rev2 := putDocument(t, store, doc2)
	payload2 := SigningPayload(rev2, nil)
	sig2, _ := Sign(priv, payload2)
	// No parent attestations declared, even though doc2.Replaces is set.
	att2 := &Attestation{Root: rev1, Revision: rev2, Signatures: []AttestationSig{{PublicKey: pub, Signature: sig2}}}
	tip2 := putAttestation(t, store, att2)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	_, err = verifier.Verify(URN("rad:person:erin"), tip2)
	if !IsKind(err, KindBrokenChain) {
		t.Fatalf("expected BrokenChain, got %v", err)
	}
}

func TestVerifyDetectsGenuineSiblingFork(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()

	doc1 := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "gina"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	rev1 := putDocument(t, store, doc1)
	payload1 := SigningPayload(rev1, nil)
	sig1, _ := Sign(priv, payload1)
	att1 := &Attestation{Root: rev1, Revision: rev1, Signatures: []AttestationSig{{PublicKey: pub, Signature: sig1}}}
	tip1 := putAttestation(t, store, att1)

	urn := URN("rad:person:gina")
	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	if _, err := verifier.Verify(urn, tip1); err != nil {
		t.Fatalf("Verify tip1: %v", err)
	}

	// Two distinct documents both replacing rev1, attested independently.
	docA := &IdentityDocument{
		Replaces:    rev1,
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "gina-fork-a"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revA := putDocument(t, store, docA)
	payloadA := SigningPayload(revA, []ObjectID{tip1})
	sigA, _ := Sign(priv, payloadA)
	attA := &Attestation{Root: rev1, Revision: revA, Parents: []ObjectID{tip1}, Signatures: []AttestationSig{{PublicKey: pub, Signature: sigA}}}
	tipA := putAttestation(t, store, attA)

	docB := &IdentityDocument{
		Replaces:    rev1,
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "gina-fork-b"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revB := putDocument(t, store, docB)
	payloadB := SigningPayload(revB, []ObjectID{tip1})
	sigB, _ := Sign(priv, payloadB)
	attB := &Attestation{Root: rev1, Revision: revB, Parents: []ObjectID{tip1}, Signatures: []AttestationSig{{PublicKey: pub, Signature: sigB}}}
	tipB := putAttestation(t, store, attB)

	if _, err := verifier.Verify(urn, tipA); err != nil {
		t.Fatalf("Verify tipA: %v", err)
	}
	_, err = verifier.Verify(urn, tipB)
	if !IsKind(err, KindForked) {
		t.Fatalf("expected sibling tips replacing the same revision to be detected as Forked, got %v", err)
	}
}

func TestVerifyStickyForkRejectsFurtherVerification(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()
	doc := &IdentityDocument{
		PayloadKind: payloadKeyPerson,
		Payload:     map[string]interface{}{"name": "frank"},
		Delegations: []Delegation{{Kind: DelegateKey, PublicKey: pub}},
	}
	revision := putDocument(t, store, doc)
	payload := SigningPayload(revision, nil)
	sig, _ := Sign(priv, payload)
	att := &Attestation{Root: revision, Revision: revision, Signatures: []AttestationSig{{PublicKey: pub, Signature: sig}}}
	tip := putAttestation(t, store, att)

	verifier, err := NewIdentityVerifier(store, 16)
	if err != nil {
		t.Fatalf("NewIdentityVerifier: %v", err)
	}
	urn := URN("rad:person:frank")
	verifier.markForked(urn, tip)

	_, err = verifier.Verify(urn, tip)
	if !IsKind(err, KindForked) {
		t.Fatalf("expected Forked, got %v", err)
	}
}
