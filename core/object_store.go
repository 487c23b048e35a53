package core

// object_store.go turns an IPFS-gateway-backed content-address cache
// (the prior diskLRU) into the object-store adapter the replication
// engine drives: content-addressed blob read/write plus atomic,
// compare-and-swap ref updates. The escrow/storage-marketplace code that
// used to share this file belongs to a different domain entirely and is
// not carried forward (see DESIGN.md).

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// HashObject computes the object id for data using the configured content
// hash (SHA-256).
func HashObject(data []byte) ObjectID {
	sum := sha256.Sum256(data)
	return ObjectID(sum[:])
}

// CIDOf renders an object id as a multihash-based CID for
// multibase-printable display. Gossip payloads (RefAdvert) carry the raw
// ObjectID, and the object store's native address stays the opaque byte
// string.
func CIDOf(id ObjectID) (cid.Cid, error) {
	digest, err := mh.Encode(id, mh.SHA2_256)
	if err != nil {
		return cid.Undef, Fail(KindMalformed, "objectstore.cidOf", err)
	}
	encoded, err := mh.Cast(digest)
	if err != nil {
		return cid.Undef, Fail(KindMalformed, "objectstore.cidOf", err)
	}
	return cid.NewCidV1(cid.Raw, encoded), nil
}

type diskEntry struct {
	path string
	size int64
	at   time.Time
}

// diskLRU is an on-disk, content-addressed blob cache keyed by hex object
// id. When a new entry would exceed capacity, the earliest-inserted entry
// is evicted; reads refresh an entry's access time but do not change the
// eviction order.
type diskLRU struct {
	mu    sync.Mutex
	dir   string
	max   int
	index map[string]*diskEntry
	order []*diskEntry
}

const defaultCacheEntries = 10_000

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskLRU{dir: dir, max: maxEntries, index: make(map[string]*diskEntry)}, nil
}

func (l *diskLRU) put(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ent, ok := l.index[key]; ok {
		ent.at = time.Now()
		return nil
	}
	if len(l.index) >= l.max && len(l.order) > 0 {
		oldest := l.order[0]
		_ = os.Remove(oldest.path)
		delete(l.index, filepath.Base(oldest.path))
		l.order = l.order[1:]
	}
	p := filepath.Join(l.dir, key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	ent := &diskEntry{path: p, size: int64(len(data)), at: time.Now()}
	l.index[key] = ent
	l.order = append(l.order, ent)
	return nil
}

func (l *diskLRU) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent, ok := l.index[key]
	if !ok {
		return nil, false
	}
	ent.at = time.Now()
	b, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ObjectStore is the interface the replication engine, identity verifier
// and tracking store consume: an opaque content-addressed blob store plus
// an atomic ref namespace, mirroring refs/namespaces/<urn>/...
type ObjectStore interface {
	// ReadBlob returns the content addressed by id, or *NotFound.
	ReadBlob(id ObjectID) ([]byte, error)
	// WriteBlob stores data and returns its object id.
	WriteBlob(data []byte) (ObjectID, error)
	// Has reports whether id is locally present.
	Has(id ObjectID) bool
	// ResolveRef returns the object id a ref currently points to, or a
	// zero-length ObjectID if the ref does not exist.
	ResolveRef(ref string) (ObjectID, error)
	// CompareAndSwapRef atomically updates ref from oldID to newID; oldID
	// must match the ref's current value (zero-length for "must not
	// exist"). A mismatch fails with a KindNonFastForward error.
	CompareAndSwapRef(ref string, oldID, newID ObjectID) error
	// IsAncestor reports whether ancestor is reachable by walking parent
	// links from descendant (used for fast-forward checks).
	IsAncestor(ancestor, descendant ObjectID) (bool, error)
	// LinkParents records that child's immediate parents are parents, for
	// later ancestry walks.
	LinkParents(child ObjectID, parents []ObjectID)
}

// DiskObjectStore is a filesystem-backed ObjectStore: blobs live in a
// content-addressed LRU cache, refs live as small files under a refs/
// subdirectory, and parent links for ancestry checks are tracked in a
// separate in-memory parent map (not persisted) populated through
// LinkParents.
type DiskObjectStore struct {
	mu      sync.Mutex
	blobs   *diskLRU
	refsDir string
	parents map[string][]string // hex(child) -> hex(parents)
}

// NewDiskObjectStore opens (creating if absent) a content-addressed store
// rooted at dir.
func NewDiskObjectStore(dir string, cacheEntries int) (*DiskObjectStore, error) {
	blobDir := filepath.Join(dir, "objects")
	refsDir := filepath.Join(dir, "refs")
	if err := os.MkdirAll(refsDir, 0o755); err != nil {
		return nil, Fail(KindStorage, "objectstore.open", err)
	}
	cache, err := newDiskLRU(blobDir, cacheEntries)
	if err != nil {
		return nil, Fail(KindStorage, "objectstore.open", err)
	}
	return &DiskObjectStore{blobs: cache, refsDir: refsDir, parents: make(map[string][]string)}, nil
}

func (s *DiskObjectStore) ReadBlob(id ObjectID) ([]byte, error) {
	data, ok := s.blobs.get(id.String())
	if !ok {
		return nil, Fail(KindNotFound, "objectstore.readBlob", fmt.Errorf("object %s absent", id))
	}
	return data, nil
}

func (s *DiskObjectStore) WriteBlob(data []byte) (ObjectID, error) {
	id := HashObject(data)
	if err := s.blobs.put(id.String(), data); err != nil {
		return nil, Fail(KindStorage, "objectstore.writeBlob", err)
	}
	return id, nil
}

func (s *DiskObjectStore) Has(id ObjectID) bool {
	_, ok := s.blobs.get(id.String())
	return ok
}

// LinkParents records that child's immediate parents are parents, for
// later ancestry walks. Called by the identity verifier as attestations
// are ingested.
func (s *DiskObjectStore) LinkParents(child ObjectID, parents []ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := make([]string, len(parents))
	for i, p := range parents {
		ps[i] = p.String()
	}
	s.parents[child.String()] = ps
}

func (s *DiskObjectStore) IsAncestor(ancestor, descendant ObjectID) (bool, error) {
	if ancestor.Equal(descendant) {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	visited := make(map[string]bool)
	queue := []string{descendant.String()}
	target := ancestor.String()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == target {
			return true, nil
		}
		queue = append(queue, s.parents[cur]...)
	}
	return false, nil
}

func (s *DiskObjectStore) refPath(ref string) string {
	return filepath.Join(s.refsDir, sanitizeRefPath(ref))
}

func sanitizeRefPath(ref string) string {
	// refs are namespaced strings like refs/namespaces/<urn>/refs/rad/id;
	// filepath.Join below already collapses "/" into the host separator,
	// this only guards against escaping refsDir via "..".
	clean := filepath.Clean("/" + ref)
	return clean[1:]
}

func (s *DiskObjectStore) ResolveRef(ref string) (ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.refPath(ref))
	if os.IsNotExist(err) {
		return ObjectID{}, nil
	}
	if err != nil {
		return nil, Fail(KindStorage, "objectstore.resolveRef", err)
	}
	return ObjectID(data), nil
}

func (s *DiskObjectStore) CompareAndSwapRef(ref string, oldID, newID ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.refPath(ref)
	cur, err := os.ReadFile(p)
	if err != nil && !os.IsNotExist(err) {
		return Fail(KindStorage, "objectstore.cas", err)
	}
	if !ObjectID(cur).Equal(oldID) {
		return Fail(KindNonFastForward, "objectstore.cas", fmt.Errorf("ref %s changed concurrently", ref))
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Fail(KindStorage, "objectstore.cas", err)
	}
	if newID.IsZero() {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return Fail(KindStorage, "objectstore.cas", err)
		}
		return nil
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, newID, 0o644); err != nil {
		return Fail(KindStorage, "objectstore.cas", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return Fail(KindStorage, "objectstore.cas", err)
	}
	return nil
}
