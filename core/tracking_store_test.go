package core

import "testing"

func TestTrackThenGet(t *testing.T) {
	store := newTestStore(t)
	ts := NewTrackingStore(store)
	urn := URN("rad:project:z")

	if _, err := ts.Track(urn, "peer1", PolicyAny); err != nil {
		t.Fatalf("Track: %v", err)
	}
	entry, ok, err := ts.Get(urn, "peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !entry.Active {
		t.Fatalf("expected an active tracking entry, got %+v ok=%v", entry, ok)
	}
}

func TestTrackMustNotExistRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	ts := NewTrackingStore(store)
	urn := URN("rad:project:z")

	if _, err := ts.Track(urn, "peer1", PolicyMustNotExist); err != nil {
		t.Fatalf("first Track: %v", err)
	}
	_, err := ts.Track(urn, "peer1", PolicyMustNotExist)
	if !IsKind(err, KindExists) {
		t.Fatalf("expected Exists, got %v", err)
	}
}

func TestUntrackMustExistRejectsAbsent(t *testing.T) {
	store := newTestStore(t)
	ts := NewTrackingStore(store)
	err := ts.Untrack(URN("rad:project:z"), "peer1", PolicyMustExist)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUntrackRemovesEntry(t *testing.T) {
	store := newTestStore(t)
	ts := NewTrackingStore(store)
	urn := URN("rad:project:z")

	if _, err := ts.Track(urn, "peer1", PolicyAny); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := ts.Untrack(urn, "peer1", PolicyAny); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	_, ok, err := ts.Get(urn, "peer1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to be gone after Untrack")
	}
}

func TestAllowsCOBDelegateExemptFromFiltering(t *testing.T) {
	entry := TrackingEntry{COBs: map[string]COBFilter{"issue": {Policy: COBDeny}}}
	if !entry.AllowsCOB("issue", "anything", true) {
		t.Fatalf("expected a delegate to bypass cob filtering")
	}
}

func TestAllowsCOBWildcardPatternDenyRejectsEverything(t *testing.T) {
	entry := TrackingEntry{COBs: map[string]COBFilter{"issue": {Policy: COBDeny}}}
	if entry.AllowsCOB("issue", "abc", false) {
		t.Fatalf("expected a wildcard-pattern deny rule to reject every issue object")
	}
}

func TestAllowsCOBListedPatternAllowOnlyAdmitsListed(t *testing.T) {
	entry := TrackingEntry{COBs: map[string]COBFilter{"issue": {Policy: COBAllow, Pattern: []string{"abc"}}}}
	if !entry.AllowsCOB("issue", "abc", false) {
		t.Fatalf("expected the listed id to be admitted")
	}
	if entry.AllowsCOB("issue", "xyz", false) {
		t.Fatalf("expected an unlisted id to be rejected under an allow-list rule")
	}
}

func TestAllowsCOBNoRuleAdmitsEverything(t *testing.T) {
	entry := TrackingEntry{}
	if !entry.AllowsCOB("issue", "abc", false) {
		t.Fatalf("expected no configured cobs to admit everything")
	}
}

func TestListReturnsOnlyTrackedCandidates(t *testing.T) {
	store := newTestStore(t)
	ts := NewTrackingStore(store)
	urn := URN("rad:project:z")

	if _, err := ts.Track(urn, "peer1", PolicyAny); err != nil {
		t.Fatalf("Track peer1: %v", err)
	}
	entries, err := ts.List(urn, []string{"peer1", "peer2"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Peer != "peer1" {
		t.Fatalf("expected only peer1 tracked, got %+v", entries)
	}
}

func TestFuseBatchesCollapsesSameKey(t *testing.T) {
	urn := URN("rad:project:z")
	a := []TrackingChange{{URN: urn, Peer: "peer1", Track: true, Policy: PolicyAny}}
	b := []TrackingChange{{URN: urn, Peer: "peer1", Track: false, Policy: PolicyMustExist}}

	fused := FuseBatches(a, b)
	if len(fused) != 1 {
		t.Fatalf("expected one fused change, got %d", len(fused))
	}
	if fused[0].Track {
		t.Fatalf("expected the later untrack to win")
	}
	if fused[0].Policy != PolicyAny {
		t.Fatalf("expected the earlier Any to discharge the later MustExist, got %v", fused[0].Policy)
	}
}

func TestFuseBatchesKeepsEarlierPolicyWhenNeitherAny(t *testing.T) {
	urn := URN("rad:project:z")
	a := []TrackingChange{{URN: urn, Peer: "peer1", Track: true, Policy: PolicyMustNotExist}}
	b := []TrackingChange{{URN: urn, Peer: "peer1", Track: true, Policy: PolicyMustExist}}

	fused := FuseBatches(a, b)
	if len(fused) != 1 || fused[0].Policy != PolicyMustNotExist {
		t.Fatalf("expected the earlier policy (MustNotExist) to survive, got %+v", fused)
	}

	// Reversed order proves this is about position, not strictness: the
	// earlier op now carries the weaker policy, and it still wins.
	reversed := FuseBatches(b, a)
	if len(reversed) != 1 || reversed[0].Policy != PolicyMustExist {
		t.Fatalf("expected the earlier policy (MustExist) to survive, got %+v", reversed)
	}
}

func TestFuseBatchesAnyAnywhereInChainDischargesPrecondition(t *testing.T) {
	// §8 scenario 5: track(X, MustNotExist); untrack(Any); track(Y, Any)
	// must fuse to policy Any / config Y regardless of prior existence.
	urn := URN("rad:project:z")
	trackX := []TrackingChange{{URN: urn, Peer: "peer1", Track: true, Policy: PolicyMustNotExist, Data: true}}
	untrackAny := []TrackingChange{{URN: urn, Peer: "peer1", Track: false, Policy: PolicyAny}}
	trackY := []TrackingChange{{URN: urn, Peer: "peer1", Track: true, Policy: PolicyAny, Data: false}}

	fused := FuseBatches(FuseBatches(trackX, untrackAny), trackY)
	if len(fused) != 1 {
		t.Fatalf("expected one fused change, got %d", len(fused))
	}
	if fused[0].Policy != PolicyAny {
		t.Fatalf("expected the fused policy to be Any, got %v", fused[0].Policy)
	}
	if !fused[0].Track || fused[0].Data {
		t.Fatalf("expected the final change to be track(Y) with Y's config, got %+v", fused[0])
	}
}

func TestFuseBatchesPreservesOrderAcrossKeys(t *testing.T) {
	a := []TrackingChange{{URN: "u", Peer: "p1", Track: true}}
	b := []TrackingChange{{URN: "u", Peer: "p2", Track: true}}

	fused := FuseBatches(a, b)
	if len(fused) != 2 || fused[0].Peer != "p1" || fused[1].Peer != "p2" {
		t.Fatalf("expected distinct keys to both survive in order, got %+v", fused)
	}
}
