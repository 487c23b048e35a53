package core

// control_server.go implements the daemon's control interface: a
// newline-delimited JSON-RPC listener that cmd/cli/replication.go's
// replClient dials to drive track/untrack/list/clone/fetch/push/publish/
// identity/status verbs against a running daemon.

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// controlRequest is the wire shape of one RPC call: an action name plus a
// loosely-typed argument bag.
type controlRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

// controlResponse mirrors the shape cmd/cli's replClient expects: a data
// bag on success, or a non-empty error string on failure.
type controlResponse struct {
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ControlServer accepts control connections and dispatches each request
// line to the daemon it was built from.
type ControlServer struct {
	d        *Daemon
	log      *logrus.Logger
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewControlServer wraps daemon d with a control listener.
func NewControlServer(d *Daemon) *ControlServer {
	return &ControlServer{d: d, log: d.log, conns: make(map[net.Conn]struct{})}
}

// ListenAndServe binds addr (host:port, or a unix socket path prefixed with
// "unix:") and serves control connections until ctx is cancelled or Close
// is called.
func (c *ControlServer) ListenAndServe(ctx context.Context, addr string) error {
	network := "tcp"
	if len(addr) > 5 && addr[:5] == "unix:" {
		network, addr = "unix", addr[5:]
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	c.listener = ln

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()
		go c.serveConn(ctx, conn)
	}
}

// Close stops accepting connections and closes any currently open ones.
func (c *ControlServer) Close() error {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, conn)
	}
	return nil
}

func (c *ControlServer) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		_ = conn.Close()
	}()

	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)
	for {
		var req controlRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		data, err := c.dispatch(ctx, req)
		resp := controlResponse{Data: data}
		if err != nil {
			resp.Error = err.Error()
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (c *ControlServer) dispatch(ctx context.Context, req controlRequest) (map[string]any, error) {
	urn := URN(stringArg(req.Args, "urn"))
	peer := stringArg(req.Args, "peer")

	switch req.Action {
	case "start":
		c.d.Start()
		return map[string]any{"started": true}, nil

	case "stop":
		go func() {
			if err := c.d.Stop(); err != nil {
				c.log.Warnf("stop: %v", err)
			}
		}()
		return map[string]any{"stopping": true}, nil

	case "status":
		return c.status(), nil

	case "track":
		id, err := c.d.tracking.Track(urn, peer, PolicyAny)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tip": id.String()}, nil

	case "untrack":
		if err := c.d.tracking.Untrack(urn, peer, PolicyAny); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "tracking.list":
		entries, err := c.d.tracking.List(urn, c.d.peers.Peers())
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": entries}, nil

	case "clone", "fetch":
		res, err := c.d.replicator.Replicate(ctx, urn, peer)
		if err != nil {
			return nil, err
		}
		return map[string]any{"phase": string(res.Phase), "fetched": res.Fetched, "updated": res.Updated}, nil

	case "publish":
		return c.publish(urn, req.Args)

	case "push":
		keys, err := c.d.replicator.currentDelegateKeys(urn)
		if err != nil {
			return nil, err
		}
		manifest, err := LoadSignedRefs(c.d.store, urn, keys)
		if err != nil {
			return nil, err
		}
		if err := c.d.replicator.Push(ctx, urn, peer, manifest); err != nil {
			return nil, err
		}
		return map[string]any{"pushed": len(manifest.Refs)}, nil

	case "sync":
		return c.sync(ctx, urn)

	case "identity.show":
		return c.identityShow(urn)

	case "identity.verify":
		tip, err := hex.DecodeString(stringArg(req.Args, "tip"))
		if err != nil {
			return nil, Fail(KindMalformed, "control.identity.verify", err)
		}
		verified, err := c.d.verifier.Verify(urn, ObjectID(tip))
		if err != nil {
			return nil, err
		}
		return map[string]any{"revision": verified.Revision.String()}, nil

	default:
		return nil, Fail(KindMalformed, "control.dispatch", fmt.Errorf("unknown action %q", req.Action))
	}
}

func (c *ControlServer) status() map[string]any {
	return map[string]any{
		"peers":       c.d.peers.Peers(),
		"queue_len":   c.d.scheduler.queue.Len(),
		"recent_audit": c.d.audit.Recent(20),
	}
}

// sync enqueues one pull task per peer currently tracking urn.
func (c *ControlServer) sync(ctx context.Context, urn URN) (map[string]any, error) {
	entries, err := c.d.tracking.List(urn, c.d.peers.Peers())
	if err != nil {
		return nil, err
	}
	queued := 0
	for _, e := range entries {
		if !e.Active {
			continue
		}
		if err := c.d.scheduler.Enqueue(Task{Kind: TaskPull, URN: urn, Peer: e.Peer}); err != nil {
			return nil, err
		}
		queued++
	}
	return map[string]any{"queued": queued}, nil
}

func (c *ControlServer) identityShow(urn URN) (map[string]any, error) {
	tip, err := c.d.store.ResolveRef(fmt.Sprintf("refs/namespaces/%s/refs/rad/id", urn))
	if err != nil {
		return nil, err
	}
	if tip.IsZero() {
		return nil, Fail(KindNotFound, "control.identity.show", fmt.Errorf("no local identity for %s", urn))
	}
	verified, err := c.d.verifier.Verify(urn, tip)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"revision":    verified.Revision.String(),
		"delegations": len(verified.Document.Delegations),
		"delegate_ids": delegatePeerIDs(verified.Document.Delegations),
	}, nil
}

// delegatePeerIDs renders each direct-key delegation's public key in the
// human-displayable peer-id form; person-reference delegations are
// skipped since their key set is resolved indirectly.
func delegatePeerIDs(delegations []Delegation) []string {
	ids := make([]string, 0, len(delegations))
	for _, d := range delegations {
		if d.Kind != DelegateKey {
			continue
		}
		id, err := EncodePeerID(d.PublicKey)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// publish seals the caller-supplied ref map into a freshly signed
// signed-refs manifest under the daemon's device key and commits it,
// replacing the urn's previous manifest.
func (c *ControlServer) publish(urn URN, args map[string]any) (map[string]any, error) {
	rawRefs, _ := args["refs"].(map[string]any)
	if len(rawRefs) == 0 {
		return nil, Fail(KindMalformed, "control.publish", fmt.Errorf("publish requires a non-empty refs map"))
	}
	peerID, err := c.d.DeviceID()
	if err != nil {
		return nil, err
	}
	manifest := &SignedRefs{URN: urn, Peer: peerID}
	for name, v := range rawRefs {
		hexTip, ok := v.(string)
		if !ok {
			return nil, Fail(KindMalformed, "control.publish", fmt.Errorf("ref %q: tip must be a hex string", name))
		}
		tip, err := hex.DecodeString(hexTip)
		if err != nil {
			return nil, Fail(KindMalformed, "control.publish", fmt.Errorf("ref %q: %w", name, err))
		}
		manifest.Put(name, tip)
	}

	msg, err := manifest.signingMessage()
	if err != nil {
		return nil, err
	}
	sig, err := c.d.SignWithDeviceKey(msg)
	if err != nil {
		return nil, err
	}
	manifest.SignerKey = c.d.cfg.DevicePublicKey
	manifest.Signature = sig

	prevTip, err := c.d.store.ResolveRef(signedRefsRefName(urn))
	if err != nil {
		return nil, err
	}
	id, err := CommitSignedRefs(c.d.store, manifest, prevTip)
	if err != nil {
		return nil, err
	}
	return map[string]any{"manifest": id.String(), "refs": len(manifest.Refs)}, nil
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
