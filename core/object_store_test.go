package core

import "testing"

func newTestStore(t *testing.T) *DiskObjectStore {
	t.Helper()
	store, err := NewDiskObjectStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewDiskObjectStore: %v", err)
	}
	return store
}

func TestWriteReadBlobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	id, err := store.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if !store.Has(id) {
		t.Fatalf("expected Has to report true after write")
	}
	got, err := store.ReadBlob(id)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want hello", got)
	}
}

func TestReadBlobMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ReadBlob(HashObject([]byte("absent")))
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCompareAndSwapRef(t *testing.T) {
	store := newTestStore(t)
	a := HashObject([]byte("a"))
	b := HashObject([]byte("b"))

	if err := store.CompareAndSwapRef("refs/namespaces/urn/refs/rad/id", ObjectID{}, a); err != nil {
		t.Fatalf("initial cas: %v", err)
	}
	got, err := store.ResolveRef("refs/namespaces/urn/refs/rad/id")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Equal(a) {
		t.Fatalf("resolved %s want %s", got, a)
	}

	if err := store.CompareAndSwapRef("refs/namespaces/urn/refs/rad/id", a, b); err != nil {
		t.Fatalf("update cas: %v", err)
	}

	// stale compare-and-swap must fail.
	if err := store.CompareAndSwapRef("refs/namespaces/urn/refs/rad/id", a, b); !IsKind(err, KindNonFastForward) {
		t.Fatalf("expected NonFastForward on stale cas, got %v", err)
	}
}

func TestIsAncestorWalksParentLinks(t *testing.T) {
	store := newTestStore(t)
	root := HashObject([]byte("root"))
	mid := HashObject([]byte("mid"))
	tip := HashObject([]byte("tip"))

	store.LinkParents(mid, []ObjectID{root})
	store.LinkParents(tip, []ObjectID{mid})

	ok, err := store.IsAncestor(root, tip)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Fatalf("expected root to be an ancestor of tip")
	}

	ok, err = store.IsAncestor(tip, root)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if ok {
		t.Fatalf("tip must not be an ancestor of root")
	}
}

func TestResolveRefPathTraversalIsSanitized(t *testing.T) {
	store := newTestStore(t)
	id := HashObject([]byte("x"))
	if err := store.CompareAndSwapRef("../../etc/passwd", ObjectID{}, id); err != nil {
		t.Fatalf("cas: %v", err)
	}
	got, err := store.ResolveRef("etc/passwd")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Equal(id) {
		t.Fatalf("expected traversal to collapse into refsDir/etc/passwd")
	}
}
