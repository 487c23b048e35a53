package core

// peer_management.go implements PeerManager on top of a transport Node:
// peer discovery/connect/disconnect, random fan-out sampling, and
// request/response messaging over named protocols. PeerInfo is keyed by
// a transport peer-id string rather than a chain address; Sample shuffles
// Peers()'s output and slices it directly rather than re-deriving an
// index into a separate identifier space.

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// PeerInfo is a lightweight, display-oriented snapshot of one known peer.
type PeerInfo struct {
	ID      string
	Addr    string
	RTTMs   float64
	Updated int64
}

// PeerManagement implements PeerManager and provides discovery,
// connection and advertisement helpers built around Node.
type PeerManagement struct {
	node *Node
	mu   sync.RWMutex
	subs map[string]*pubsub.Subscription
	out  map[string]chan InboundMsg
}

// NewPeerManagement wraps an existing Node to expose peer management
// functions.
func NewPeerManagement(n *Node) *PeerManagement {
	return &PeerManagement{
		node: n,
		subs: make(map[string]*pubsub.Subscription),
		out:  make(map[string]chan InboundMsg),
	}
}

// DiscoverPeers returns the currently known peers (mDNS discovery is
// handled by the underlying Node).
func (pm *PeerManagement) DiscoverPeers() []PeerInfo {
	pm.node.peerLock.RLock()
	defer pm.node.peerLock.RUnlock()
	infos := make([]PeerInfo, 0, len(pm.node.peers))
	for _, p := range pm.node.peers {
		infos = append(infos, PeerInfo{ID: string(p.ID), Addr: p.Addr, RTTMs: float64(p.Latency.Milliseconds()), Updated: time.Now().Unix()})
	}
	return infos
}

// Connect establishes a connection to the given multi-address.
func (pm *PeerManagement) Connect(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if err := pm.node.host.Connect(pm.node.ctx, *pi); err != nil {
		return err
	}
	pm.node.peerLock.Lock()
	pm.node.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
	pm.node.peerLock.Unlock()
	return nil
}

// Disconnect closes the connection to the given peer ID.
func (pm *PeerManagement) Disconnect(id NodeID) error {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return err
	}
	if err := pm.node.host.Network().ClosePeer(pid); err != nil {
		return err
	}
	pm.node.peerLock.Lock()
	delete(pm.node.peers, id)
	pm.node.peerLock.Unlock()
	return nil
}

// AdvertiseSelf broadcasts this node's presence on the given topic.
func (pm *PeerManagement) AdvertiseSelf(topic string) error {
	return pm.node.Broadcast(topic, []byte(pm.node.host.ID()))
}

// Peers implements PeerManager, returning known peer ids.
func (pm *PeerManagement) Peers() []string {
	infos := pm.DiscoverPeers()
	ids := make([]string, len(infos))
	for i, p := range infos {
		ids[i] = p.ID
	}
	return ids
}

func shuffleStrings(s []string) error {
	for i := len(s) - 1; i > 0; i-- {
		jBig, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := int(jBig.Int64())
		s[i], s[j] = s[j], s[i]
	}
	return nil
}

// Sample returns up to n peer ids chosen uniformly at random without
// replacement, per the replication engine's fan-out requirement.
func (pm *PeerManagement) Sample(n int) []string {
	ids := pm.Peers()
	if err := shuffleStrings(ids); err != nil {
		logrus.Warnf("peer sample shuffle failed: %v", err)
	}
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

// SendAsync opens a libp2p stream and sends the message code and payload.
func (pm *PeerManagement) SendAsync(peerID, proto string, code byte, payload []byte) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(pm.node.ctx, 5*time.Second)
	defer cancel()
	s, err := pm.node.host.NewStream(ctx, pid, protocol.ID(proto))
	if err != nil {
		return err
	}
	defer s.Close()
	msg := append([]byte{code}, payload...)
	if _, err := s.Write(msg); err != nil {
		return err
	}
	return nil
}

// Subscribe subscribes to a topic/protocol and returns a message channel;
// the first byte of each delivered payload is split off as InboundMsg.Code
// to match SendAsync's wire framing.
func (pm *PeerManagement) Subscribe(proto string) <-chan InboundMsg {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ch, ok := pm.out[proto]; ok {
		return ch
	}
	t, err := pm.node.pubsub.Join(proto)
	if err != nil {
		logrus.Warnf("subscribe join %s failed: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	sub, err := t.Subscribe()
	if err != nil {
		logrus.Warnf("subscribe %s failed: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	out := make(chan InboundMsg)
	pm.subs[proto] = sub
	pm.out[proto] = out
	go func() {
		for {
			msg, err := sub.Next(pm.node.ctx)
			if err != nil {
				close(out)
				return
			}
			var code byte
			payload := msg.Data
			if len(payload) > 0 {
				code, payload = payload[0], payload[1:]
			}
			out <- InboundMsg{PeerID: msg.GetFrom().String(), Code: code, Payload: payload, Topic: proto, Ts: time.Now().UnixMilli()}
		}
	}()
	return out
}

// Unsubscribe cancels a subscription created via Subscribe.
func (pm *PeerManagement) Unsubscribe(proto string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if sub, ok := pm.subs[proto]; ok {
		sub.Cancel()
		delete(pm.subs, proto)
	}
	if ch, ok := pm.out[proto]; ok {
		close(ch)
		delete(pm.out, proto)
	}
}

// Ensure PeerManagement implements PeerManager.
var _ PeerManager = (*PeerManagement)(nil)
