package depot_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"depot-go/internal/depot"
)

func TestBackend_ObjectMetadata(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	orig := e.mustWrite(t, "acme", "acme", "box", "doc", "content")

	set := func(meta map[string]string, replace bool) *depot.Version {
		t.Helper()
		v, err := e.UpdateObjectMeta(ctx, "acme", "acme", "box", "doc", "user", meta, replace)
		if err != nil {
			t.Fatalf("UpdateObjectMeta(%v) error = %v", meta, err)
		}
		return v
	}
	get := func(version int64) map[string]string {
		t.Helper()
		_, meta, err := e.GetObjectMeta(ctx, "acme", "acme", "box", "doc", "user", version)
		if err != nil {
			t.Fatalf("GetObjectMeta() error = %v", err)
		}
		return meta
	}

	v := set(map[string]string{"a": "1", "b": "2"}, false)
	if v.UUID != orig.UUID {
		t.Errorf("metadata update changed uuid: %q vs %q", v.UUID, orig.UUID)
	}
	if v.Size != orig.Size || v.Hash != orig.Hash {
		t.Errorf("metadata update changed content: size %d hash %q", v.Size, v.Hash)
	}
	if got := get(0); !reflect.DeepEqual(got, map[string]string{"a": "1", "b": "2"}) {
		t.Errorf("meta = %v", got)
	}

	// Merge: empty value deletes the key, others are upserted.
	set(map[string]string{"a": "", "c": "3"}, false)
	if got := get(0); !reflect.DeepEqual(got, map[string]string{"b": "2", "c": "3"}) {
		t.Errorf("meta after merge = %v", got)
	}

	// Replace drops everything not named.
	set(map[string]string{"z": "9"}, true)
	if got := get(0); !reflect.DeepEqual(got, map[string]string{"z": "9"}) {
		t.Errorf("meta after replace = %v", got)
	}

	// Historical versions keep their own attribute snapshots.
	if got := get(v.Serial); !reflect.DeepEqual(got, map[string]string{"a": "1", "b": "2"}) {
		t.Errorf("historical meta = %v", got)
	}

	// A version serial belonging to another object is not reachable through
	// this path.
	other := e.mustWrite(t, "acme", "acme", "box", "other", "x")
	if _, _, err := e.GetObjectMeta(ctx, "acme", "acme", "box", "doc", "user", other.Serial); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("cross-object version read error = %v, want ErrNotFound", err)
	}
}

func TestBackend_CopyObject(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustPutContainer(t, "acme", "box2", nil)

	src, err := e.WriteObject(ctx, "acme", "acme", "box", "src", "text/plain", "user",
		map[string]string{"k": "v"}, strings.NewReader("original"))
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}

	dst, err := e.CopyObject(ctx, "acme", "acme", "box", "src", "acme", "box2", "dst",
		0, "", "user", nil, false, nil)
	if err != nil {
		t.Fatalf("CopyObject() error = %v", err)
	}
	if dst.UUID == src.UUID {
		t.Errorf("copy kept the source uuid %q", dst.UUID)
	}
	if dst.SourceSerial != src.Serial {
		t.Errorf("SourceSerial = %d, want %d", dst.SourceSerial, src.Serial)
	}
	if got := e.mustRead(t, "acme", "acme", "box2", "dst", 0); got != "original" {
		t.Errorf("copied content = %q", got)
	}
	_, meta, err := e.GetObjectMeta(ctx, "acme", "acme", "box2", "dst", "user", 0)
	if err != nil {
		t.Fatalf("GetObjectMeta() error = %v", err)
	}
	if !reflect.DeepEqual(meta, map[string]string{"k": "v"}) {
		t.Errorf("copied meta = %v", meta)
	}
	// The source is untouched.
	if got := e.mustRead(t, "acme", "acme", "box", "src", 0); got != "original" {
		t.Errorf("source content = %q", got)
	}

	// Copying a specific historical version reproduces its content.
	e.mustWrite(t, "acme", "acme", "box", "src", "updated!!")
	if _, err := e.CopyObject(ctx, "acme", "acme", "box", "src", "acme", "box2", "dst-old",
		src.Serial, "", "", map[string]string{"note": "restored"}, false, nil); err != nil {
		t.Fatalf("CopyObject(old version) error = %v", err)
	}
	if got := e.mustRead(t, "acme", "acme", "box2", "dst-old", 0); got != "original" {
		t.Errorf("restored content = %q", got)
	}
	_, meta, err = e.GetObjectMeta(ctx, "acme", "acme", "box2", "dst-old", "", 0)
	if err != nil {
		t.Fatalf("GetObjectMeta() error = %v", err)
	}
	if meta["note"] != "restored" {
		t.Errorf("override meta = %v", meta)
	}

	// A serial that belongs to a different object is rejected.
	other := e.mustWrite(t, "acme", "acme", "box", "other", "x")
	_, err = e.CopyObject(ctx, "acme", "acme", "box", "src", "acme", "box2", "bad",
		other.Serial, "", "", nil, false, nil)
	if !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("CopyObject(foreign serial) error = %v, want ErrNotFound", err)
	}

	// Non-owners need read on the source.
	_, err = e.CopyObject(ctx, "mallory", "acme", "box", "src", "acme", "box2", "stolen",
		0, "", "", nil, false, nil)
	if !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("CopyObject() as stranger error = %v, want ErrNotAllowed", err)
	}
}

func TestBackend_MoveObject(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	src := e.mustWrite(t, "acme", "acme", "box", "from", "payload")
	dst, err := e.MoveObject(ctx, "acme", "acme", "box", "from", "acme", "box", "to",
		"", "", nil, false, nil)
	if err != nil {
		t.Fatalf("MoveObject() error = %v", err)
	}
	if dst.UUID != src.UUID {
		t.Errorf("move changed the object identity: %q vs %q", dst.UUID, src.UUID)
	}
	if got := e.mustRead(t, "acme", "acme", "box", "to", 0); got != "payload" {
		t.Errorf("moved content = %q", got)
	}

	// The source was tombstoned in the same operation.
	if _, _, err := e.GetObjectMeta(ctx, "acme", "acme", "box", "from", "", 0); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("source read error = %v, want ErrNotFound", err)
	}
	versions, err := e.ListObjectVersions(ctx, "acme", "acme", "box", "from")
	if err != nil {
		t.Fatalf("ListObjectVersions(source) error = %v", err)
	}
	if last := versions[len(versions)-1]; last.Cluster != depot.ClusterDeleted {
		t.Errorf("source latest cluster = %v, want deleted", last.Cluster)
	}
}

func TestBackend_DeleteObject(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	v := e.mustWrite(t, "acme", "acme", "box", "doc", "content")

	if _, err := e.UpdateObjectPublic(ctx, "acme", "acme", "box", "doc", true); err != nil {
		t.Fatalf("UpdateObjectPublic() error = %v", err)
	}
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "doc",
		&depot.Permissions{Read: []string{"bob"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}

	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}

	// The live view is gone; the version chain shows history + tombstone.
	if _, _, err := e.GetObjectMeta(ctx, "acme", "acme", "box", "doc", "", 0); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("GetObjectMeta() error = %v, want ErrNotFound", err)
	}
	versions, err := e.ListObjectVersions(ctx, "acme", "acme", "box", "doc")
	if err != nil {
		t.Fatalf("ListObjectVersions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}
	tomb := versions[1]
	if tomb.Cluster != depot.ClusterDeleted || tomb.Size != 0 || tomb.Hash != "" {
		t.Errorf("tombstone = %+v", tomb)
	}
	if tomb.UUID != v.UUID {
		t.Errorf("tombstone uuid = %q, want %q", tomb.UUID, v.UUID)
	}
	if versions[0].Cluster != depot.ClusterHistory {
		t.Errorf("superseded cluster = %v, want history", versions[0].Cluster)
	}

	// Deletion withdraws grants and the public token.
	if _, err := e.GetObjectPublic(ctx, "acme", "acme", "box", "doc"); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("GetObjectPublic() error = %v, want ErrNotFound", err)
	}
	grantPath, perms, err := e.GetObjectPermissions(ctx, "acme", "acme", "box", "doc")
	if err != nil {
		t.Fatalf("GetObjectPermissions() error = %v", err)
	}
	if grantPath != "" || !perms.IsEmpty() {
		t.Errorf("grants survived deletion: %q %+v", grantPath, perms)
	}

	// Deleting a tombstoned or unknown object reports not found.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", time.Time{}); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "ghost", time.Time{}); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("delete unknown error = %v, want ErrNotFound", err)
	}
}

func TestBackend_DeleteObject_PurgeUntil(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	e.mustWrite(t, "acme", "acme", "box", "doc", "v1")
	e.clock.Advance(time.Hour)
	e.mustWrite(t, "acme", "acme", "box", "doc", "v2")
	e.clock.Advance(time.Hour)

	// Purge only affects history and tombstones older than the horizon; the
	// live version survives.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", e.clock.Now()); err != nil {
		t.Fatalf("DeleteObject(until) error = %v", err)
	}
	versions, err := e.ListObjectVersions(ctx, "acme", "acme", "box", "doc")
	if err != nil {
		t.Fatalf("ListObjectVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Cluster != depot.ClusterNormal {
		t.Fatalf("after purge: versions = %+v, want only the live one", versions)
	}
	if got := e.mustRead(t, "acme", "acme", "box", "doc", 0); got != "v2" {
		t.Errorf("live content after purge = %q", got)
	}

	// Tombstone it, then purge everything: the node disappears.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", e.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("DeleteObject(until) error = %v", err)
	}
	if _, err := e.ListObjectVersions(ctx, "acme", "acme", "box", "doc"); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("ListObjectVersions() after full purge error = %v, want ErrNotFound", err)
	}
}

func TestBackend_Permissions(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "doc", "secret")

	readAs := func(principal string) error {
		_, _, err := e.GetObjectMeta(ctx, principal, "acme", "box", "doc", "", 0)
		return err
	}
	writeAs := func(principal string) error {
		_, err := e.UpdateObjectMeta(ctx, principal, "acme", "box", "doc", "user",
			map[string]string{"touched": "yes"}, false)
		return err
	}

	// No grant: strangers are rejected, the owner always passes.
	if err := readAs("bob"); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("read without grant error = %v, want ErrNotAllowed", err)
	}
	if err := readAs("acme"); err != nil {
		t.Errorf("owner read error = %v", err)
	}

	// Only the owner may change grants.
	if err := e.UpdateObjectPermissions(ctx, "bob", "acme", "box", "doc",
		&depot.Permissions{Read: []string{"bob"}}); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("grant as stranger error = %v, want ErrNotAllowed", err)
	}

	// Read grant allows reading but not writing.
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "doc",
		&depot.Permissions{Read: []string{"bob"}, Write: []string{"carol"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}
	if err := readAs("bob"); err != nil {
		t.Errorf("read with grant error = %v", err)
	}
	if err := writeAs("bob"); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("write with read-only grant error = %v, want ErrNotAllowed", err)
	}

	// Write implies read.
	if err := writeAs("carol"); err != nil {
		t.Errorf("write with grant error = %v", err)
	}
	if err := readAs("carol"); err != nil {
		t.Errorf("read with write grant error = %v", err)
	}

	// Group principals expand through the provider; wildcard admits anyone.
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "doc",
		&depot.Permissions{Read: []string{"acme:staff"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}
	if err := readAs("dave"); err != nil {
		t.Errorf("read as group member error = %v", err)
	}
	if err := readAs("eve"); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("read as non-member error = %v, want ErrNotAllowed", err)
	}
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "doc",
		&depot.Permissions{Read: []string{"*"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}
	if err := readAs("eve"); err != nil {
		t.Errorf("read with wildcard error = %v", err)
	}

	// An empty set clears the explicit grants.
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "doc", &depot.Permissions{}); err != nil {
		t.Fatalf("UpdateObjectPermissions(clear) error = %v", err)
	}
	if err := readAs("eve"); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("read after clear error = %v, want ErrNotAllowed", err)
	}
}

func TestBackend_PermissionInheritance(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "report", "a")
	e.mustWrite(t, "acme", "acme", "box", "dir", "b")
	e.mustWrite(t, "acme", "acme", "box", "dir/sub", "c")

	// A container grant covers every object below it.
	if err := e.UpdateContainerPermissions(ctx, "acme", "acme", "box",
		&depot.Permissions{Read: []string{"bob"}}); err != nil {
		t.Fatalf("UpdateContainerPermissions() error = %v", err)
	}
	for _, name := range []string{"report", "dir", "dir/sub"} {
		if _, _, err := e.GetObjectMeta(ctx, "bob", "acme", "box", name, "", 0); err != nil {
			t.Errorf("inherited read of %q error = %v", name, err)
		}
	}
	grantPath, perms, err := e.GetObjectPermissions(ctx, "acme", "acme", "box", "dir/sub")
	if err != nil {
		t.Fatalf("GetObjectPermissions() error = %v", err)
	}
	if grantPath != "acme/box" {
		t.Errorf("grant path = %q, want the container", grantPath)
	}
	if !reflect.DeepEqual(perms.Read, []string{"bob"}) {
		t.Errorf("inherited perms = %+v", perms)
	}

	// The nearest explicit grant wins over a wider ancestor grant.
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "dir/sub",
		&depot.Permissions{Read: []string{"carol"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}
	if _, _, err := e.GetObjectMeta(ctx, "bob", "acme", "box", "dir/sub", "", 0); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("shadowed read error = %v, want ErrNotAllowed", err)
	}
	if _, _, err := e.GetObjectMeta(ctx, "carol", "acme", "box", "dir/sub", "", 0); err != nil {
		t.Errorf("nearest-grant read error = %v", err)
	}
	// Sibling paths keep the container grant.
	if _, _, err := e.GetObjectMeta(ctx, "bob", "acme", "box", "dir", "", 0); err != nil {
		t.Errorf("sibling read error = %v", err)
	}

	// Revoking the container grant removes the inherited access at once.
	if err := e.UpdateContainerPermissions(ctx, "acme", "acme", "box", &depot.Permissions{}); err != nil {
		t.Fatalf("UpdateContainerPermissions(clear) error = %v", err)
	}
	if _, _, err := e.GetObjectMeta(ctx, "bob", "acme", "box", "report", "", 0); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("read after revoke error = %v, want ErrNotAllowed", err)
	}
}

func TestBackend_Public(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "doc", "published")

	token, err := e.UpdateObjectPublic(ctx, "acme", "acme", "box", "doc", true)
	if err != nil {
		t.Fatalf("UpdateObjectPublic() error = %v", err)
	}
	if token == "" {
		t.Fatalf("empty public token")
	}

	// Publishing again keeps the token.
	again, err := e.UpdateObjectPublic(ctx, "acme", "acme", "box", "doc", true)
	if err != nil {
		t.Fatalf("UpdateObjectPublic() error = %v", err)
	}
	if again != token {
		t.Errorf("republish changed the token: %q vs %q", again, token)
	}

	// The token resolves back to the path, and publication opens reads to
	// everyone.
	account, container, name, err := e.PublicPath(ctx, token)
	if err != nil {
		t.Fatalf("PublicPath() error = %v", err)
	}
	if account != "acme" || container != "box" || name != "doc" {
		t.Errorf("PublicPath() = %q/%q/%q", account, container, name)
	}
	if got := e.mustRead(t, "anonymous", "acme", "box", "doc", 0); got != "published" {
		t.Errorf("anonymous read = %q", got)
	}

	// Withdrawal invalidates the token and closes access.
	if _, err := e.UpdateObjectPublic(ctx, "acme", "acme", "box", "doc", false); err != nil {
		t.Fatalf("UpdateObjectPublic(off) error = %v", err)
	}
	if _, _, _, err := e.PublicPath(ctx, token); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("PublicPath() after withdraw error = %v, want ErrNotFound", err)
	}
	if _, _, err := e.GetObjectMeta(ctx, "anonymous", "acme", "box", "doc", "", 0); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("anonymous read after withdraw error = %v, want ErrNotAllowed", err)
	}

	// Only the owner manages publication.
	if _, err := e.UpdateObjectPublic(ctx, "bob", "acme", "box", "doc", true); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("publish as stranger error = %v, want ErrNotAllowed", err)
	}
}
