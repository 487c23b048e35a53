package core

// common_structs.go centralises the small set of shared types referenced
// across the replication, identity and transport files. Domain-specific
// payload types live next to the code that owns them.

import (
	"context"
	"net"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
)

// ObjectID is the opaque content address of a blob, tree or commit in the
// object store. Its byte length depends on the underlying hash (20 for
// SHA-1, 32 for SHA-256); equality is purely structural.
type ObjectID []byte

func (o ObjectID) String() string { return hexString(o) }

// Equal reports whether two object ids address the same content.
func (o ObjectID) Equal(other ObjectID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether o carries no bytes (used for "ref did not exist").
func (o ObjectID) IsZero() bool { return len(o) == 0 }

// URN is the stable, content-derived identifier of an identity chain (and
// by extension the repository it roots). Its byte form is the root
// identity document's object id; its textual form is a fixed `rad:` prefix
// followed by the multibase encoding of that id.
type URN string

// NodeID identifies a transport-level peer (its libp2p / gossip identity).
// It is distinct from PeerID: NodeID is a transport handle, PeerID is the
// cryptographic identity used by the identity verifier.
type NodeID string

// Peer is a transport-level peer record.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
	Conn    net.Conn
}

// Config configures the local transport node.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// Node wraps a libp2p host plus gossipsub state for the transport layer.
type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
}

// InboundMsg is a message delivered to a protocol subscriber, either from a
// direct stream (SendAsync) or a pubsub topic (Subscribe).
type InboundMsg struct {
	PeerID  string `json:"peer_id"`
	Code    byte   `json:"code"`
	Payload []byte `json:"payload"`
	Topic   string `json:"topic,omitempty"`
	Ts      int64  `json:"ts"`
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
