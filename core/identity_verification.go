package core

// identity_verification.go implements the identity chain verifier: given
// the tip attestation of a URN, walk the hash-linked document history,
// check signature/quorum/transitional-quorum invariants at each step, and
// report the first failure classified by ErrorKind. Verified revisions are
// cached so re-verifying an unchanged tip is O(1); forks are sticky once
// detected for a URN.
//
// Replaces a flat, ledger-backed address -> verification-blob map with a
// chain walker: there is no ledger here, verification is a pure function
// of the object store's attestation/document graph.

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// VerifiedIdentity is the result of a successful Verify call.
type VerifiedIdentity struct {
	URN      URN
	Revision ObjectID
	Document *IdentityDocument
}

// IdentityVerifier walks identity-document chains against an ObjectStore.
type IdentityVerifier struct {
	store ObjectStore

	cacheMu sync.Mutex
	cache   *lru.Cache[string, *VerifiedIdentity]

	forkMu sync.Mutex
	forked map[URN]ObjectID // URN -> the revision a fork was first detected at

	// successors tracks, for each (urn, replaces) pair, the first
	// attestation id observed claiming to succeed that revision. A second,
	// different claimant neither ancestor nor descendant of the first is
	// a fork.
	successors map[string]ObjectID
}

// NewIdentityVerifier returns a verifier backed by store, caching up to
// cacheSize verified revisions.
func NewIdentityVerifier(store ObjectStore, cacheSize int) (*IdentityVerifier, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, *VerifiedIdentity](cacheSize)
	if err != nil {
		return nil, Fail(KindStorage, "identity.newVerifier", err)
	}
	return &IdentityVerifier{
		store:      store,
		cache:      c,
		forked:     make(map[URN]ObjectID),
		successors: make(map[string]ObjectID),
	}, nil
}

// Verify checks that the attestation at tipID roots a well-formed,
// quorum-signed identity chain for urn, returning the verified document at
// the tip or the first ErrorKind-classified failure encountered.
func (v *IdentityVerifier) Verify(urn URN, tipID ObjectID) (*VerifiedIdentity, error) {
	v.forkMu.Lock()
	if forkedAt, ok := v.forked[urn]; ok {
		v.forkMu.Unlock()
		return nil, Fail(KindForked, "identity.verify",
			fmt.Errorf("urn %s already marked forked at revision %s", urn, forkedAt))
	}
	v.forkMu.Unlock()

	return v.verifyChain(urn, tipID, nil)
}

// verifyChain verifies tipID and, if it has a Replaces predecessor not
// already cached, recurses to verify that predecessor first -- children is
// the set of revisions already seen further down this call's walk, used to
// detect a revision citing its own descendant as a parent.
func (v *IdentityVerifier) verifyChain(urn URN, tipID ObjectID, children map[string]bool) (*VerifiedIdentity, error) {
	if cached, ok := v.cachedRevision(tipID); ok {
		return cached, nil
	}

	att, err := v.loadAttestation(tipID)
	if err != nil {
		return nil, err
	}
	v.store.LinkParents(tipID, att.Parents)
	doc, err := v.loadDocument(att.Revision)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	if children == nil {
		children = make(map[string]bool)
	}
	if children[tipID.String()] {
		return nil, Fail(KindBrokenChain, "identity.verify",
			fmt.Errorf("revision %s cites its own descendant as parent", tipID))
	}
	children[tipID.String()] = true

	var prev *VerifiedIdentity
	if !doc.Replaces.IsZero() {
		prevTip, err := v.findAttestationForRevision(doc.Replaces, att.Parents)
		if err != nil {
			return nil, err
		}
		prev, err = v.verifyChain(urn, prevTip, children)
		if err != nil {
			return nil, err
		}
		if detected, forkErr := v.checkFork(urn, doc.Replaces, tipID); forkErr != nil {
			return nil, forkErr
		} else if detected {
			v.markForked(urn, tipID)
			return nil, Fail(KindForked, "identity.verify", fmt.Errorf("sibling tips found for %s", urn))
		}
	}

	votes, err := v.countVotes(doc, prev, att)
	if err != nil {
		return nil, err
	}
	if !votes.HasQuorum() {
		return nil, Fail(KindNoQuorum, "identity.verify",
			fmt.Errorf("%d of %d delegations signed, quorum not met", votes.Count(), len(doc.Delegations)))
	}

	if prev != nil {
		if err := v.checkTransitionalQuorum(prev.Document, doc, att); err != nil {
			return nil, err
		}
	}

	result := &VerifiedIdentity{URN: urn, Revision: att.Revision, Document: doc}
	v.cacheRevision(tipID, result)
	return result, nil
}

func (v *IdentityVerifier) cachedRevision(tipID ObjectID) (*VerifiedIdentity, bool) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	return v.cache.Get(tipID.String())
}

func (v *IdentityVerifier) cacheRevision(tipID ObjectID, result *VerifiedIdentity) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.cache.Add(tipID.String(), result)
}

func (v *IdentityVerifier) loadAttestation(id ObjectID) (*Attestation, error) {
	raw, err := v.store.ReadBlob(id)
	if err != nil {
		return nil, err
	}
	var att Attestation
	if err := CanonicalDecode(raw, &att); err != nil {
		return nil, Fail(KindMalformed, "identity.loadAttestation", err)
	}
	return &att, nil
}

func (v *IdentityVerifier) loadDocument(revision ObjectID) (*IdentityDocument, error) {
	raw, err := v.store.ReadBlob(revision)
	if err != nil {
		return nil, err
	}
	var doc IdentityDocument
	if err := CanonicalDecode(raw, &doc); err != nil {
		return nil, Fail(KindMalformed, "identity.loadDocument", err)
	}
	return &doc, nil
}

// findAttestationForRevision locates, among att's declared parents, the
// attestation whose Revision equals wantRevision. The chain is broken if
// none of the declared parents match the document's own Replaces pointer.
func (v *IdentityVerifier) findAttestationForRevision(wantRevision ObjectID, parents []ObjectID) (ObjectID, error) {
	for _, p := range parents {
		parentAtt, err := v.loadAttestation(p)
		if err != nil {
			continue
		}
		if parentAtt.Revision.Equal(wantRevision) {
			return p, nil
		}
	}
	return nil, Fail(KindBrokenChain, "identity.verify",
		fmt.Errorf("no parent attestation matches replaces=%s", wantRevision))
}

// checkFork reports whether tipID is a sibling of another attestation
// already observed replacing the same revision: the first attestation id
// seen claiming replaces as its predecessor is recorded, and every
// subsequent claimant is compared against it via IsAncestor. Two distinct
// ids neither of which is an ancestor of the other are divergent tips --
// a genuine fork.
func (v *IdentityVerifier) checkFork(urn URN, replaces, tipID ObjectID) (bool, error) {
	key := string(urn) + "|" + replaces.String()

	v.forkMu.Lock()
	prior, seen := v.successors[key]
	if !seen {
		v.successors[key] = tipID
	}
	v.forkMu.Unlock()

	if !seen || prior.Equal(tipID) {
		return false, nil
	}

	priorDescends, err := v.store.IsAncestor(tipID, prior)
	if err != nil {
		return false, err
	}
	if priorDescends {
		return false, nil
	}
	tipDescends, err := v.store.IsAncestor(prior, tipID)
	if err != nil {
		return false, err
	}
	if tipDescends {
		return false, nil
	}
	return true, nil
}

// markForked records urn as permanently forked at revision, refusing all
// further verification of updates to it (fork stickiness).
func (v *IdentityVerifier) markForked(urn URN, revision ObjectID) {
	v.forkMu.Lock()
	v.forked[urn] = revision
	v.forkMu.Unlock()
}

// countVotes tallies distinct delegate votes over doc's signature set,
// collapsing all signatures from keys belonging to one referenced person
// delegate into a single vote for that person.
func (v *IdentityVerifier) countVotes(doc *IdentityDocument, prev *VerifiedIdentity, att *Attestation) (*QuorumTracker, error) {
	qt := NewQuorumTracker(len(doc.Delegations))
	payload := SigningPayload(att.Revision, att.Parents)

	keyDelegates := make(map[string]bool)
	personDelegates := make(map[string]*IdentityDocument)
	for _, d := range doc.Delegations {
		switch d.Kind {
		case DelegateKey:
			keyDelegates[string(d.PublicKey)] = true
		case DelegatePerson:
			personDoc, err := v.resolvePerson(d.PersonURN, d.PersonRev)
			if err != nil {
				return nil, err
			}
			personDelegates[string(d.PersonURN)] = personDoc
		}
	}

	for _, sig := range att.Signatures {
		if !Verify(sig.PublicKey, payload, sig.Signature) {
			continue
		}
		if keyDelegates[string(sig.PublicKey)] {
			qt.AddVote("key:" + string(sig.PublicKey))
			continue
		}
		for urn, personDoc := range personDelegates {
			if personDocHasKey(personDoc, sig.PublicKey) {
				qt.AddVote("person:" + urn)
			}
		}
	}

	if qt.Count() == 0 {
		return nil, Fail(KindUnsigned, "identity.verify", fmt.Errorf("no valid delegate signatures"))
	}
	return qt, nil
}

func personDocHasKey(doc *IdentityDocument, key []byte) bool {
	for _, d := range doc.Delegations {
		if d.Kind == DelegateKey && string(d.PublicKey) == string(key) {
			return true
		}
	}
	return false
}

// resolvePerson loads the referenced person document at personRev, used to
// resolve a project's person delegate to its key set, and checks that it is
// well-formed and declares itself a person. The person's own attestation
// history is not walked or verified here.
func (v *IdentityVerifier) resolvePerson(urn URN, personRev ObjectID) (*IdentityDocument, error) {
	doc, err := v.loadDocument(personRev)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if !doc.IsPerson() {
		return nil, Fail(KindMalformed, "identity.resolvePerson",
			fmt.Errorf("delegation %s does not reference a person document", urn))
	}
	return doc, nil
}

// checkTransitionalQuorum enforces that a delegation-set change is itself
// approved by a strict majority of the *previous* delegation set, per
// the transitional-quorum rule: it is not enough for the new document's
// own delegates to sign off on replacing themselves.
func (v *IdentityVerifier) checkTransitionalQuorum(prevDoc, newDoc *IdentityDocument, att *Attestation) error {
	if sameDelegationSet(prevDoc, newDoc) {
		return nil
	}
	prevQT := NewQuorumTracker(len(prevDoc.Delegations))
	payload := SigningPayload(att.Revision, att.Parents)

	prevKeyDelegates := make(map[string]bool)
	prevPersonDelegates := make(map[string]*IdentityDocument)
	for _, d := range prevDoc.Delegations {
		switch d.Kind {
		case DelegateKey:
			prevKeyDelegates[string(d.PublicKey)] = true
		case DelegatePerson:
			personDoc, err := v.resolvePerson(d.PersonURN, d.PersonRev)
			if err != nil {
				return err
			}
			prevPersonDelegates[string(d.PersonURN)] = personDoc
		}
	}

	for _, sig := range att.Signatures {
		if !Verify(sig.PublicKey, payload, sig.Signature) {
			continue
		}
		if prevKeyDelegates[string(sig.PublicKey)] {
			prevQT.AddVote("key:" + string(sig.PublicKey))
			continue
		}
		for urn, personDoc := range prevPersonDelegates {
			if personDocHasKey(personDoc, sig.PublicKey) {
				prevQT.AddVote("person:" + urn)
			}
		}
	}
	if !prevQT.HasQuorum() {
		return Fail(KindNoQuorum, "identity.transitionalQuorum",
			fmt.Errorf("delegation change not approved by a majority of the prior delegation set"))
	}
	return nil
}

func sameDelegationSet(a, b *IdentityDocument) bool {
	if len(a.Delegations) != len(b.Delegations) {
		return false
	}
	keys := make(map[string]struct{}, len(a.Delegations))
	for _, d := range a.Delegations {
		keys[d.canonicalKey()] = struct{}{}
	}
	for _, d := range b.Delegations {
		if _, ok := keys[d.canonicalKey()]; !ok {
			return false
		}
	}
	return true
}
