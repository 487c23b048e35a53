package core

// tracking_store.go implements the tracking store: per-(urn, peer) policy
// blobs describing what to replicate from whom, with CAS-style track and
// untrack operations and a composition algebra for fusing two batches of
// changes into one. Generalizes the object store's CAS-ref primitive
// (core/object_store.go's CompareAndSwapRef) from a single pointer to a
// keyed collection of small config blobs.

import (
	"encoding/json"
	"fmt"
)

// CASPolicy constrains a track/untrack write by the entry's current
// existence, mirroring a compare-and-swap precondition.
type CASPolicy int

const (
	// PolicyAny applies regardless of whether the entry currently exists.
	PolicyAny CASPolicy = iota
	// PolicyMustExist fails unless the entry is already present.
	PolicyMustExist
	// PolicyMustNotExist fails if the entry is already present.
	PolicyMustNotExist
)

// COBPolicy names the disposition of a cob filter: whether matching
// objects are admitted or rejected.
type COBPolicy string

const (
	COBAllow COBPolicy = "allow"
	COBDeny  COBPolicy = "deny"
)

// COBFilter is one collaborative-object-type rule within a tracking
// entry's cobs map, keyed by cob type name (or "*" for every type not
// otherwise listed). Pattern nil means the rule applies to every object
// of the type ("*" on the wire); a non-nil Pattern restricts it to the
// listed object ids.
type COBFilter struct {
	Policy  COBPolicy
	Pattern []string
}

// MarshalJSON renders Pattern as the literal string "*" when it is nil,
// or as a JSON array of object ids otherwise.
func (f COBFilter) MarshalJSON() ([]byte, error) {
	var pattern interface{} = "*"
	if f.Pattern != nil {
		pattern = f.Pattern
	}
	return json.Marshal(struct {
		Policy  COBPolicy   `json:"policy"`
		Pattern interface{} `json:"pattern"`
	}{Policy: f.Policy, Pattern: pattern})
}

// UnmarshalJSON accepts either the literal string "*" or a JSON array of
// object ids for Pattern.
func (f *COBFilter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Policy  COBPolicy       `json:"policy"`
		Pattern json.RawMessage `json:"pattern"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Policy = raw.Policy
	if len(raw.Pattern) == 0 {
		f.Pattern = nil
		return nil
	}
	var wildcard string
	if err := json.Unmarshal(raw.Pattern, &wildcard); err == nil {
		if wildcard != "*" {
			return fmt.Errorf("cob pattern string must be \"*\", got %q", wildcard)
		}
		f.Pattern = nil
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw.Pattern, &ids); err != nil {
		return fmt.Errorf("cob pattern must be \"*\" or an array of object ids: %w", err)
	}
	f.Pattern = ids
	return nil
}

// TrackingEntry is the policy stored for one (urn, peer) pair: whether to
// follow the peer's signed-refs for urn, whether to replicate its code
// data at all, and which collaborative-object types/instances to admit.
type TrackingEntry struct {
	URN    URN                  `json:"urn"`
	Peer   string               `json:"peer"`
	Active bool                 `json:"active"`
	Data   bool                 `json:"data"`
	COBs   map[string]COBFilter `json:"cobs,omitempty"`
}

// AllowsCOB reports whether a collaborative object of the given type and
// id should be admitted under this entry's filter. Delegates are exempt
// from cob filtering entirely, regardless of any configured rule. With no
// rule configured for the type (nor a "*" fallback), every object of that
// type is admitted; a wildcard Pattern admits every instance of the type,
// otherwise only the listed ids are affected by the rule's policy.
func (e TrackingEntry) AllowsCOB(cobType, objID string, isDelegate bool) bool {
	if isDelegate {
		return true
	}
	if len(e.COBs) == 0 {
		return true
	}
	filter, ok := e.COBs[cobType]
	if !ok {
		if filter, ok = e.COBs["*"]; !ok {
			return true
		}
	}
	matches := filter.Pattern == nil
	for _, id := range filter.Pattern {
		if id == objID {
			matches = true
			break
		}
	}
	if filter.Policy == COBDeny {
		return !matches
	}
	return matches
}

// trackingKey is the tracking-config blob's ref pointer. Unlike the
// per-urn object and signed-refs namespaces, tracking config is not
// namespaced under refs/namespaces/<urn>/...: it is local bookkeeping
// about that namespace, not part of it. An empty peer means the
// namespace-wide default entry.
func trackingKey(urn URN, peer string) string {
	if peer == "" {
		peer = "default"
	}
	return fmt.Sprintf("refs/rad/remotes/%s/%s", urn, peer)
}

// TrackingStore is a CAS-backed collection of TrackingEntry records keyed
// by (urn, peer), persisted as small blobs through an ObjectStore's ref
// namespace.
type TrackingStore struct {
	store ObjectStore
}

// NewTrackingStore returns a tracking store backed by store.
func NewTrackingStore(store ObjectStore) *TrackingStore {
	return &TrackingStore{store: store}
}

// Get returns the tracking entry for (urn, peer), or ok=false if absent.
func (t *TrackingStore) Get(urn URN, peer string) (TrackingEntry, bool, error) {
	key := trackingKey(urn, peer)
	tip, err := t.store.ResolveRef(key)
	if err != nil {
		return TrackingEntry{}, false, err
	}
	if tip.IsZero() {
		return TrackingEntry{}, false, nil
	}
	raw, err := t.store.ReadBlob(tip)
	if err != nil {
		return TrackingEntry{}, false, err
	}
	var e TrackingEntry
	if err := CanonicalDecode(raw, &e); err != nil {
		return TrackingEntry{}, false, Fail(KindMalformed, "tracking.get", err)
	}
	return e, true, nil
}

// List returns every tracking entry for urn (all peers tracked for it) --
// backed by the caller-supplied peer list, since ObjectStore exposes no
// prefix scan. Peers tracked but absent from candidatePeers are not
// returned; the daemon passes its transport's current peer list.
func (t *TrackingStore) List(urn URN, candidatePeers []string) ([]TrackingEntry, error) {
	var out []TrackingEntry
	for _, peer := range candidatePeers {
		e, ok, err := t.Get(urn, peer)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Track writes (or updates) a tracking entry under policy, and returns the
// resulting entry's blob id.
func (t *TrackingStore) Track(urn URN, peer string, policy CASPolicy) (ObjectID, error) {
	return t.TrackWithConfig(urn, peer, policy, TrackingEntry{})
}

// TrackWithConfig is Track plus a caller-supplied data/cobs payload.
func (t *TrackingStore) TrackWithConfig(urn URN, peer string, policy CASPolicy, cfg TrackingEntry) (ObjectID, error) {
	key := trackingKey(urn, peer)
	prev, err := t.store.ResolveRef(key)
	if err != nil {
		return nil, err
	}
	if err := enforcePolicy(policy, !prev.IsZero()); err != nil {
		return nil, err
	}
	entry := TrackingEntry{URN: urn, Peer: peer, Active: true, Data: cfg.Data, COBs: cfg.COBs}
	enc, err := CanonicalEncode(entry)
	if err != nil {
		return nil, err
	}
	id, err := t.store.WriteBlob(enc)
	if err != nil {
		return nil, err
	}
	if err := t.store.CompareAndSwapRef(key, prev, id); err != nil {
		return nil, err
	}
	return id, nil
}

// Untrack removes the tracking entry under policy.
func (t *TrackingStore) Untrack(urn URN, peer string, policy CASPolicy) error {
	key := trackingKey(urn, peer)
	prev, err := t.store.ResolveRef(key)
	if err != nil {
		return err
	}
	if err := enforcePolicy(policy, !prev.IsZero()); err != nil {
		return err
	}
	return t.store.CompareAndSwapRef(key, prev, ObjectID{})
}

func enforcePolicy(policy CASPolicy, exists bool) error {
	switch policy {
	case PolicyMustExist:
		if !exists {
			return Fail(KindNotFound, "tracking.policy", fmt.Errorf("entry must already exist"))
		}
	case PolicyMustNotExist:
		if exists {
			return Fail(KindExists, "tracking.policy", fmt.Errorf("entry must not already exist"))
		}
	}
	return nil
}

// TrackingChange is one proposed mutation in a batch: Track==false means
// untrack. Data/COBs are the config payload a track change writes; they
// are ignored for untrack changes.
type TrackingChange struct {
	URN    URN
	Peer   string
	Track  bool
	Policy CASPolicy
	Data   bool
	COBs   map[string]COBFilter
}

// FuseBatches composes two ordered batches of tracking changes into one
// equivalent batch, applying b after a to the same (urn, peer) key: a
// track followed by an untrack of the same key collapses to a single
// change carrying the later op's direction and config, per fusePolicy's
// rule for which op's precondition survives the fusion.
func FuseBatches(a, b []TrackingChange) []TrackingChange {
	type key struct {
		urn  URN
		peer string
	}
	order := make([]key, 0, len(a)+len(b))
	fused := make(map[key]TrackingChange)
	apply := func(c TrackingChange) {
		k := key{c.URN, c.Peer}
		if existing, ok := fused[k]; ok {
			c.Policy = fusePolicy(existing.Policy, c.Policy)
		} else {
			order = append(order, k)
		}
		fused[k] = c
	}
	for _, c := range a {
		apply(c)
	}
	for _, c := range b {
		apply(c)
	}
	out := make([]TrackingChange, 0, len(order))
	for _, k := range order {
		out = append(out, fused[k])
	}
	return out
}

// fusePolicy decides which of two colliding CAS policies on the same key
// governs the fused change: track MustExist c' ∘ track Any c ≡ track Any
// c' -- once earlier has already pinned the key's existence one way or
// the other (deterministically, since it ran), later's own precondition
// against that now-known state is automatically satisfied and carries no
// further constraint of its own, *unless* later is itself unconditional
// (Any), in which case later's lack of a precondition discharges
// earlier's too: an unconditional op anywhere in the chain makes the
// fused precondition unconditional.
func fusePolicy(earlier, later CASPolicy) CASPolicy {
	if earlier == PolicyAny || later == PolicyAny {
		return PolicyAny
	}
	return earlier
}
