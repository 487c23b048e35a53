package core

// network.go wires a libp2p host plus gossipsub overlay for the transport
// layer: bootstrap dialing, mDNS discovery, NAT traversal, and topic
// broadcast/subscribe (see RefAdvert for the gossip payload carried over
// it).

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Message is one gossipsub delivery on a subscribed topic.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// RefAdvert is the gossip payload advertising that peer now has a new tip
// for one ref under urn.
type RefAdvert struct {
	URN  URN      `json:"urn"`
	Ref  string   `json:"ref"`
	Tip  ObjectID `json:"tip"`
	Peer string   `json:"peer"`
}

// NewNode creates and bootstraps a transport node: libp2p host, gossipsub
// router, NAT mapping, bootstrap dialing and mDNS discovery. Core data
// types (NodeID, Peer, Config) live in common_structs.go.
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	natMgr, err := NewNATManager()
	if err == nil {
		if port, err := parsePort(cfg.ListenAddr); err == nil {
			if err := natMgr.Map(port); err != nil {
				logrus.Warnf("NAT map failed: %v", err)
			}
		}
		n.nat = natMgr
	} else {
		logrus.Warnf("NAT discovery failed: %v", err)
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("DialSeed warning: %v", err)
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to discovered peer.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	n.peerLock.RLock()
	_, exists := n.peers[NodeID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("Failed to connect to discovered peer %s: %v", info.ID.String(), err)
		return
	}

	n.peerLock.Lock()
	n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("Connected to peer %s via mDNS", info.ID.String())
}

// DialSeed connects to a list of bootstrap peers.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("Bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BroadcasterFunc defines the signature for the global broadcaster.
type BroadcasterFunc func(topic string, data []byte) error

var (
	broadcastMu   sync.RWMutex
	broadcastHook BroadcasterFunc
)

// SetBroadcaster sets the global broadcast hook used by package-level
// Broadcast. Pass nil to disable broadcasting.
func SetBroadcaster(fn BroadcasterFunc) {
	broadcastMu.Lock()
	broadcastHook = fn
	broadcastMu.Unlock()
}

// Broadcast sends data using the configured broadcaster.
func Broadcast(topic string, data []byte) error {
	broadcastMu.RLock()
	fn := broadcastHook
	broadcastMu.RUnlock()
	if fn == nil {
		return fmt.Errorf("network: broadcaster not set")
	}
	return fn(topic, data)
}

const refAdvertTopic = "rad/ref-advert"

func (n *Node) Broadcast(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// AdvertiseRef gossips a RefAdvert on the shared ref-advert topic, letting
// trackers learn of a new tip without polling.
func (n *Node) AdvertiseRef(advert RefAdvert) error {
	data, err := CanonicalEncode(advert)
	if err != nil {
		return err
	}
	return n.Broadcast(refAdvertTopic, data)
}

// SubscribeRefAdverts subscribes to the ref-advert topic and decodes each
// message into a RefAdvert, skipping malformed payloads.
func (n *Node) SubscribeRefAdverts() (<-chan RefAdvert, error) {
	ch, err := n.Subscribe(refAdvertTopic)
	if err != nil {
		return nil, err
	}
	out := make(chan RefAdvert)
	go func() {
		for msg := range ch {
			var advert RefAdvert
			if err := CanonicalDecode(msg.Data, &advert); err == nil {
				out <- advert
			}
		}
		close(out)
	}()
	return out, nil
}

// Subscribe listens for messages on a topic.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()
	out := make(chan Message)
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.Warnf("subscription next error: %v", err)
				close(out)
				return
			}
			out <- Message{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until context cancellation (serve as long-lived
// process).
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("Network node shutting down")
}

// Close tears down the node, closing host and context.
func (n *Node) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// Peers returns the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}

// Dialer opens outbound TCP peer connections.
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer creates a new network dialer with given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to a remote address and returns a net.Conn. Supports TCP
// connections for now.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialer: failed to connect to %s: %w", address, err)
	}
	return conn, nil
}
