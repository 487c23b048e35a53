package core

// bootstrap_node.go is the daemon bootstrap: it wires together the object
// store, identity verifier, tracking store, transport node and
// replication engine into one running process. There is no
// ledger/consensus dependency here; it's replaced by this domain's object
// store and identity verifier.

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DaemonConfig aggregates everything needed to start a daemon.
type DaemonConfig struct {
	Network       Config
	DataDir       string
	CacheEntries  int
	Replication   ReplicationConfig
	QueueCapacity int
	VerifierCache int
	AuditCapacity int
	ControlAddr   string

	// DevicePublicKey and DevicePrivateKey are this node's device
	// keypair, loaded (or generated) by the caller from the on-disk
	// keystore -- core has no opinion on key custody, only on how the
	// key is used once unsealed.
	DevicePublicKey  ed25519.PublicKey
	DevicePrivateKey ed25519.PrivateKey
}

// Daemon bundles the transport node, object store, identity verifier,
// tracking store, replication engine and scheduler into one running
// process.
type Daemon struct {
	mu sync.RWMutex

	cfg   DaemonConfig
	ctx   context.Context
	cancel context.CancelFunc

	node       *Node
	peers      *PeerManagement
	store      *DiskObjectStore
	verifier   *IdentityVerifier
	tracking   *TrackingStore
	replicator *Replicator
	scheduler  *Scheduler
	audit      *AuditTrail
	control    *ControlServer
	log        *logrus.Logger
}

// NewDaemon constructs and wires a daemon's components, ready to be
// started with Start.
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	log := logrus.StandardLogger()

	node, err := NewNode(cfg.Network)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("daemon: start transport: %w", err)
	}

	store, err := NewDiskObjectStore(cfg.DataDir, cfg.CacheEntries)
	if err != nil {
		cancel()
		_ = node.Close()
		return nil, fmt.Errorf("daemon: open object store: %w", err)
	}

	verifier, err := NewIdentityVerifier(store, cfg.VerifierCache)
	if err != nil {
		cancel()
		_ = node.Close()
		return nil, fmt.Errorf("daemon: start verifier: %w", err)
	}

	tracking := NewTrackingStore(store)
	peers := NewPeerManagement(node)
	audit := NewAuditTrail(cfg.AuditCapacity)
	replicator := NewReplicator(store, verifier, tracking, peers, cfg.Replication, log, audit)
	scheduler := NewScheduler(replicator, cfg.QueueCapacity, cfg.Replication.Workers, log)

	d := &Daemon{
		cfg: cfg, ctx: ctx, cancel: cancel,
		node: node, peers: peers, store: store, verifier: verifier,
		tracking: tracking, replicator: replicator, scheduler: scheduler,
		audit: audit, log: log,
	}
	d.control = NewControlServer(d)
	return d, nil
}

// Start launches the scheduler's worker pool, the transport's serve loop
// and, if configured, the control listener.
func (d *Daemon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduler.Start(d.ctx)
	go d.node.ListenAndServe()
	if d.cfg.ControlAddr != "" {
		go func() {
			if err := d.control.ListenAndServe(d.ctx, d.cfg.ControlAddr); err != nil {
				d.log.Warnf("control listener stopped: %v", err)
			}
		}()
	}
}

// Stop gracefully shuts down the control listener, scheduler and transport
// node.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.control.Close()
	d.scheduler.Stop()
	d.cancel()
	return d.node.Close()
}

// ObjectStore exposes the daemon's object store to the control interface.
func (d *Daemon) ObjectStore() *DiskObjectStore { return d.store }

// Verifier exposes the daemon's identity verifier to the control interface.
func (d *Daemon) Verifier() *IdentityVerifier { return d.verifier }

// Tracking exposes the daemon's tracking store to the control interface.
func (d *Daemon) Tracking() *TrackingStore { return d.tracking }

// Scheduler exposes the daemon's task scheduler to the control interface.
func (d *Daemon) Scheduler() *Scheduler { return d.scheduler }

// Audit exposes the daemon's audit trail to the control interface.
func (d *Daemon) Audit() *AuditTrail { return d.audit }

// Peers exposes the daemon's peer manager to the control interface.
func (d *Daemon) Peers() *PeerManagement { return d.peers }

// DeviceID returns this node's device peer-id in its human-displayable
// form, or an error if the daemon was started without a device keypair.
func (d *Daemon) DeviceID() (string, error) {
	if len(d.cfg.DevicePublicKey) == 0 {
		return "", fmt.Errorf("daemon: no device key configured")
	}
	return EncodePeerID(d.cfg.DevicePublicKey)
}

// SignWithDeviceKey signs message with this node's device private key,
// the same key a signed-refs manifest or identity attestation is
// expected to carry a signature from.
func (d *Daemon) SignWithDeviceKey(message []byte) ([]byte, error) {
	if len(d.cfg.DevicePrivateKey) == 0 {
		return nil, fmt.Errorf("daemon: no device key configured")
	}
	return Sign(d.cfg.DevicePrivateKey, message)
}
