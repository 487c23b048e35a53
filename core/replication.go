package core

// replication.go implements the replication engine: the
// Peek -> Validate -> Fetch -> Commit state machine for pulling one urn's
// history from one peer, plus its mutual-sync (push) counterpart. The
// request/response exchange (a signed-refs request, then one
// context-bounded object request per missing tip, awaited in turn)
// operates on (urn, peer, ref) triples rather than opaque block hashes.

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Wire message codes for the replication protocol, carried as the Code
// byte of an InboundMsg.
const (
	msgAdvertiseTip byte = iota + 1
	msgSignedRefsRequest
	msgSignedRefsResponse
	msgObjectRequest
	msgObjectResponse
	msgPushSignedRefs
	msgPushAck
)

// replicationProtocol is the libp2p/gossip protocol id this engine speaks.
const replicationProtocol = "/repl/1.0.0"

// Phase names the replication state machine's current step.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePeek     Phase = "peek"
	PhaseValidate Phase = "validate"
	PhaseFetch    Phase = "fetch"
	PhaseCommit   Phase = "commit"
	PhaseDone     Phase = "done"
	PhaseAborted  Phase = "aborted"
	PhaseRejected Phase = "rejected"
	PhaseFailed   Phase = "failed"
)

// ReplicationConfig tunes the engine's phase timeouts, retry behaviour and
// transfer limits.
type ReplicationConfig struct {
	PerPhaseTimeout  time.Duration
	MaxTransferBytes int64
	MaxRetries       uint64
	Workers          int
}

// DefaultReplicationConfig returns conservative defaults.
func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		PerPhaseTimeout:  30 * time.Second,
		MaxTransferBytes: 256 << 20,
		MaxRetries:       3,
		Workers:          4,
	}
}

// ReplicationResult summarizes a completed (or aborted) replication run.
type ReplicationResult struct {
	URN     URN
	Peer    string
	Phase   Phase
	Fetched int
	Updated []string
}

// PeerManager is the transport surface the replication engine drives:
// peer discovery, fan-out sampling, and request/response messaging over a
// named protocol. Implemented by PeerManagement (core/peer_management.go).
type PeerManager interface {
	Peers() []string
	Sample(n int) []string
	SendAsync(peerID, proto string, code byte, payload []byte) error
	Subscribe(proto string) <-chan InboundMsg
	Unsubscribe(proto string)
}

// Replicator drives the replication state machine for a set of tracked
// (urn, peer) pairs.
type Replicator struct {
	store    ObjectStore
	verifier *IdentityVerifier
	tracking *TrackingStore
	pm       PeerManager
	cfg      ReplicationConfig
	log      *logrus.Logger
	audit    *AuditTrail
}

// NewReplicator constructs a replication engine over the given object
// store, identity verifier, tracking store and peer manager.
func NewReplicator(store ObjectStore, verifier *IdentityVerifier, tracking *TrackingStore, pm PeerManager, cfg ReplicationConfig, log *logrus.Logger, audit *AuditTrail) *Replicator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Replicator{store: store, verifier: verifier, tracking: tracking, pm: pm, cfg: cfg, log: log, audit: audit}
}

// Replicate runs Peek -> Validate -> Fetch -> Commit for urn against peer
// and returns the terminal phase reached. Only Peek is retried: any Peek
// error is retried with exponential backoff, bounded by PerPhaseTimeout
// and MaxRetries; a failure in a later phase ends the run.
func (r *Replicator) Replicate(ctx context.Context, urn URN, peer string) (*ReplicationResult, error) {
	res := &ReplicationResult{URN: urn, Peer: peer, Phase: PhaseIdle}

	var manifest *SignedRefs
	operation := func() error {
		var err error
		manifest, err = r.peek(ctx, urn, peer)
		return err
	}
	bo := r.retryPolicy(ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		res.Phase = PhaseFailed
		r.recordAudit(urn, peer, "peek", "failed", err)
		return res, err
	}
	res.Phase = PhasePeek

	localKeys, err := r.currentDelegateKeys(urn)
	if err != nil {
		res.Phase = PhaseFailed
		r.recordAudit(urn, peer, "validate", "failed", err)
		return res, err
	}
	authorized, err := r.isAuthorizedPeer(ctx, urn, peer, localKeys)
	if err != nil {
		res.Phase = PhaseFailed
		r.recordAudit(urn, peer, "validate", "failed", err)
		return res, err
	}
	if !authorized {
		err := Fail(KindUnsignedRefs, "replicator.validate",
			fmt.Errorf("peer %s is neither a delegate nor tracked (directly or transitively) for %s", peer, urn))
		res.Phase = PhaseRejected
		r.recordAudit(urn, peer, "validate", "rejected", err)
		return res, err
	}
	if err := manifest.VerifySignature(localKeys); err != nil {
		res.Phase = PhaseRejected
		r.recordAudit(urn, peer, "validate", "rejected", err)
		return res, err
	}
	if err := r.checkFastForward(urn, manifest); err != nil {
		res.Phase = PhaseRejected
		r.recordAudit(urn, peer, "validate", "rejected", err)
		return res, err
	}
	res.Phase = PhaseValidate

	missing := r.missingObjects(urn, manifest)
	fetched, err := r.fetch(ctx, peer, missing)
	if err != nil {
		res.Phase = PhaseFailed
		r.recordAudit(urn, peer, "fetch", "failed", err)
		return res, err
	}
	res.Fetched = fetched
	res.Phase = PhaseFetch

	updated, err := r.commit(urn, manifest)
	if err != nil {
		res.Phase = PhaseFailed
		r.recordAudit(urn, peer, "commit", "failed", err)
		return res, err
	}
	res.Updated = updated
	res.Phase = PhaseDone
	r.recordAudit(urn, peer, "commit", "done", nil)
	return res, nil
}

func (r *Replicator) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = r.cfg.PerPhaseTimeout
	var bo backoff.BackOff = eb
	if r.cfg.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, r.cfg.MaxRetries)
	}
	return backoff.WithContext(bo, ctx)
}

// peek requests the peer's signed-refs manifest for urn and awaits the
// response, bounded by the per-phase timeout.
func (r *Replicator) peek(ctx context.Context, urn URN, peer string) (*SignedRefs, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PerPhaseTimeout)
	defer cancel()

	ch := r.pm.Subscribe(replicationProtocol)
	defer r.pm.Unsubscribe(replicationProtocol)

	payload, err := CanonicalEncode(urn)
	if err != nil {
		return nil, err
	}
	if err := r.pm.SendAsync(peer, replicationProtocol, msgSignedRefsRequest, payload); err != nil {
		return nil, Fail(KindTransport, "replicator.peek", err)
	}

	for {
		select {
		case <-pctx.Done():
			return nil, Fail(KindTimeout, "replicator.peek", fmt.Errorf("peer %s did not respond", peer))
		case m := <-ch:
			if m.PeerID != peer || m.Code != msgSignedRefsResponse {
				continue
			}
			var manifest SignedRefs
			if err := CanonicalDecode(m.Payload, &manifest); err != nil {
				return nil, Fail(KindMalformed, "replicator.peek", err)
			}
			return &manifest, nil
		}
	}
}

// currentDelegateKeys resolves the delegation keys currently authorized to
// sign refs for urn, by verifying the locally known identity tip.
func (r *Replicator) currentDelegateKeys(urn URN) ([][]byte, error) {
	tip, err := r.store.ResolveRef(fmt.Sprintf("refs/namespaces/%s/refs/rad/id", urn))
	if err != nil {
		return nil, err
	}
	if tip.IsZero() {
		return nil, Fail(KindNotFound, "replicator.delegates", fmt.Errorf("no local identity for %s", urn))
	}
	verified, err := r.verifier.Verify(urn, tip)
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	for _, d := range verified.Document.Delegations {
		if d.Kind == DelegateKey {
			keys = append(keys, d.PublicKey)
		}
	}
	return keys, nil
}

// isAuthorizedPeer applies the tracking-policy authorization gate: peer
// must be a current delegate of urn's identity, directly present in the
// local tracking store, or named in the remote-peer map of some peer
// that is itself directly tracked -- a depth-2 transitive expansion of
// the local tracking set. An untracked, non-delegate peer's manifest is
// never replicated, however well-signed it is.
func (r *Replicator) isAuthorizedPeer(ctx context.Context, urn URN, peer string, delegateKeys [][]byte) (bool, error) {
	if peerIsDelegate(peer, delegateKeys) {
		return true, nil
	}
	if r.tracking == nil {
		return false, nil
	}
	if _, ok, err := r.tracking.Get(urn, peer); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	tracked, err := r.tracking.List(urn, r.pm.Peers())
	if err != nil {
		return false, err
	}
	for _, entry := range tracked {
		if !entry.Active || entry.Peer == peer {
			continue
		}
		remote, err := r.peek(ctx, urn, entry.Peer)
		if err != nil {
			continue
		}
		if err := remote.VerifySignature(delegateKeys); err != nil {
			continue
		}
		for _, p := range remote.RemotePeers {
			if p == peer {
				return true, nil
			}
		}
	}
	return false, nil
}

// peerIsDelegate reports whether peer's decoded public key is a member of
// delegateKeys.
func peerIsDelegate(peer string, delegateKeys [][]byte) bool {
	pub, err := DecodePeerID(peer)
	if err != nil {
		return false
	}
	for _, k := range delegateKeys {
		if string(k) == string(pub) {
			return true
		}
	}
	return false
}

// checkFastForward rejects a manifest whose claimed tips are not
// fast-forwards of the locally known tips, classifying the violation as
// NonFastForward (diverged history) or StaleRefs (peer behind us).
func (r *Replicator) checkFastForward(urn URN, manifest *SignedRefs) error {
	for _, entry := range manifest.Refs {
		localTip, err := r.store.ResolveRef(string(urn) + "/" + entry.Name)
		if err != nil {
			return err
		}
		if localTip.IsZero() || localTip.Equal(entry.Tip) {
			continue
		}
		isFF, err := r.store.IsAncestor(localTip, entry.Tip)
		if err != nil {
			return err
		}
		if !isFF {
			stale, err := r.store.IsAncestor(entry.Tip, localTip)
			if err == nil && stale {
				return Fail(KindStaleRefs, "replicator.validate", fmt.Errorf("peer's %s is behind local tip", entry.Name))
			}
			return Fail(KindNonFastForward, "replicator.validate", fmt.Errorf("%s diverged from local tip", entry.Name))
		}
	}
	return nil
}

// missingObjects returns the object ids referenced by manifest that are
// not yet locally present.
func (r *Replicator) missingObjects(urn URN, manifest *SignedRefs) []ObjectID {
	var missing []ObjectID
	for _, entry := range manifest.Refs {
		if !r.store.Has(entry.Tip) {
			missing = append(missing, entry.Tip)
		}
	}
	return missing
}

// fetch requests each missing object from peer, enforcing the configured
// transfer size ceiling, and writes them into the object store.
func (r *Replicator) fetch(ctx context.Context, peer string, missing []ObjectID) (int, error) {
	if len(missing) == 0 {
		return 0, nil
	}
	fctx, cancel := context.WithTimeout(ctx, r.cfg.PerPhaseTimeout)
	defer cancel()

	ch := r.pm.Subscribe(replicationProtocol)
	defer r.pm.Unsubscribe(replicationProtocol)

	var total int64
	var merr *multierror.Error
	fetched := 0
	for _, id := range missing {
		if err := r.pm.SendAsync(peer, replicationProtocol, msgObjectRequest, id); err != nil {
			merr = multierror.Append(merr, Fail(KindTransport, "replicator.fetch", err))
			continue
		}
	loop:
		for {
			select {
			case <-fctx.Done():
				merr = multierror.Append(merr, Fail(KindTimeout, "replicator.fetch", fmt.Errorf("timed out fetching %s", id)))
				break loop
			case m := <-ch:
				if m.PeerID != peer || m.Code != msgObjectResponse {
					continue
				}
				total += int64(len(m.Payload))
				if r.cfg.MaxTransferBytes > 0 && total > r.cfg.MaxTransferBytes {
					return fetched, Fail(KindTransferTooLarge, "replicator.fetch", fmt.Errorf("transfer exceeded %d bytes", r.cfg.MaxTransferBytes))
				}
				if _, err := r.store.WriteBlob(m.Payload); err != nil {
					merr = multierror.Append(merr, err)
				} else {
					fetched++
				}
				break loop
			}
		}
	}
	return fetched, merr.ErrorOrNil()
}

// commit atomically repoints each ref named in manifest at its new tip.
func (r *Replicator) commit(urn URN, manifest *SignedRefs) ([]string, error) {
	var updated []string
	var merr *multierror.Error
	for _, entry := range manifest.Refs {
		refName := string(urn) + "/" + entry.Name
		old, err := r.store.ResolveRef(refName)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if old.Equal(entry.Tip) {
			continue
		}
		if err := r.store.CompareAndSwapRef(refName, old, entry.Tip); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		updated = append(updated, entry.Name)
	}
	return updated, merr.ErrorOrNil()
}

// Push is the mutual-sync variant: it sends the local signed-refs
// manifest for urn to peer and awaits acknowledgement, letting the remote
// run its own Validate/Fetch/Commit against us.
func (r *Replicator) Push(ctx context.Context, urn URN, peer string, manifest *SignedRefs) error {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PerPhaseTimeout)
	defer cancel()

	ch := r.pm.Subscribe(replicationProtocol)
	defer r.pm.Unsubscribe(replicationProtocol)

	frame, err := EncodeFrame(manifest)
	if err != nil {
		return err
	}
	if err := r.pm.SendAsync(peer, replicationProtocol, msgPushSignedRefs, frame); err != nil {
		return Fail(KindTransport, "replicator.push", err)
	}
	for {
		select {
		case <-pctx.Done():
			return Fail(KindTimeout, "replicator.push", fmt.Errorf("peer %s did not acknowledge push", peer))
		case m := <-ch:
			if m.PeerID != peer || m.Code != msgPushAck {
				continue
			}
			return nil
		}
	}
}

func (r *Replicator) recordAudit(urn URN, peer, phase, outcome string, err error) {
	if r.audit == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.audit.Record(AuditEvent{Time: time.Now(), URN: urn, Peer: peer, Phase: phase, Outcome: outcome, Detail: detail})
}
