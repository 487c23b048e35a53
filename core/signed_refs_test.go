package core

import "testing"

func TestSignedRefsSignAndVerify(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	manifest := &SignedRefs{URN: URN("rad:project:x"), Peer: "peer1"}
	manifest.Put("refs/heads/main", HashObject([]byte("tip")))
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := manifest.VerifySignature([][]byte{pub}); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestSignedRefsVerifyRejectsUnknownSigner(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	other, _, _ := GenerateKeypair()
	manifest := &SignedRefs{URN: URN("rad:project:x"), Peer: "peer1"}
	manifest.Put("refs/heads/main", HashObject([]byte("tip")))
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	err := manifest.VerifySignature([][]byte{other})
	if !IsKind(err, KindUnsignedRefs) {
		t.Fatalf("expected UnsignedRefs for a non-delegate signer, got %v", err)
	}
}

func TestSignedRefsVerifyRejectsMissingSignature(t *testing.T) {
	pub, _, _ := GenerateKeypair()
	manifest := &SignedRefs{URN: URN("rad:project:x"), Peer: "peer1"}
	if err := manifest.VerifySignature([][]byte{pub}); !IsKind(err, KindUnsignedRefs) {
		t.Fatalf("expected UnsignedRefs for an unsigned manifest, got %v", err)
	}
}

func TestSignedRefsVerifyRejectsTamperedRefs(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	manifest := &SignedRefs{URN: URN("rad:project:x"), Peer: "peer1"}
	manifest.Put("refs/heads/main", HashObject([]byte("tip")))
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	manifest.Put("refs/heads/main", HashObject([]byte("tampered")))
	if err := manifest.VerifySignature([][]byte{pub}); !IsKind(err, KindUnsignedRefs) {
		t.Fatalf("expected UnsignedRefs after tampering with a signed ref, got %v", err)
	}
}

func TestGetReturnsZeroForAbsentRef(t *testing.T) {
	manifest := &SignedRefs{URN: URN("rad:project:x")}
	if tip := manifest.Get("refs/heads/main"); !tip.IsZero() {
		t.Fatalf("expected zero ObjectID for absent ref, got %s", tip)
	}
}

func TestCommitAndLoadSignedRefsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()
	manifest := &SignedRefs{URN: URN("rad:project:y"), Peer: "peer1"}
	manifest.Put("refs/heads/main", HashObject([]byte("tip")))
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := CommitSignedRefs(store, manifest, ObjectID{}); err != nil {
		t.Fatalf("CommitSignedRefs: %v", err)
	}

	loaded, err := LoadSignedRefs(store, manifest.URN, [][]byte{pub})
	if err != nil {
		t.Fatalf("LoadSignedRefs: %v", err)
	}
	if !loaded.Get("refs/heads/main").Equal(manifest.Get("refs/heads/main")) {
		t.Fatalf("loaded manifest ref mismatch")
	}
}

func TestLoadSignedRefsRejectsDuplicateRefNames(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()
	manifest := &SignedRefs{
		URN:  URN("rad:project:y"),
		Peer: "peer1",
		Refs: []SignedRefEntry{
			{Name: "refs/heads/main", Tip: HashObject([]byte("a"))},
			{Name: "refs/heads/main", Tip: HashObject([]byte("b"))},
		},
	}
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	enc, err := CanonicalEncode(manifest)
	if err != nil {
		t.Fatalf("CanonicalEncode: %v", err)
	}
	id, err := store.WriteBlob(enc)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := store.CompareAndSwapRef(signedRefsRefName(manifest.URN), ObjectID{}, id); err != nil {
		t.Fatalf("CompareAndSwapRef: %v", err)
	}

	_, err = LoadSignedRefs(store, manifest.URN, [][]byte{pub})
	if !IsKind(err, KindMalformed) {
		t.Fatalf("expected Malformed for duplicate ref names, got %v", err)
	}
}

func TestCommitSignedRefsRejectsDuplicateRefNames(t *testing.T) {
	store := newTestStore(t)
	manifest := &SignedRefs{
		URN: URN("rad:project:y"),
		Refs: []SignedRefEntry{
			{Name: "refs/heads/main", Tip: HashObject([]byte("a"))},
			{Name: "refs/heads/main", Tip: HashObject([]byte("b"))},
		},
	}
	if _, err := CommitSignedRefs(store, manifest, ObjectID{}); !IsKind(err, KindMalformed) {
		t.Fatalf("expected Malformed for duplicate ref names, got %v", err)
	}
}

func TestSignedRefsRemotePeersRoundTrip(t *testing.T) {
	store := newTestStore(t)
	pub, priv, _ := GenerateKeypair()
	manifest := &SignedRefs{URN: URN("rad:project:y"), Peer: "peer1", RemotePeers: []string{"peer2", "peer3"}}
	manifest.Put("refs/heads/main", HashObject([]byte("tip")))
	if err := manifest.Sign(pub, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := CommitSignedRefs(store, manifest, ObjectID{}); err != nil {
		t.Fatalf("CommitSignedRefs: %v", err)
	}
	loaded, err := LoadSignedRefs(store, manifest.URN, [][]byte{pub})
	if err != nil {
		t.Fatalf("LoadSignedRefs: %v", err)
	}
	if len(loaded.RemotePeers) != 2 {
		t.Fatalf("expected 2 remote peers to round-trip, got %+v", loaded.RemotePeers)
	}
}

func TestLoadSignedRefsMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := LoadSignedRefs(store, URN("rad:project:none"), nil)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
