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

func entryNames(entries []depot.ObjectEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func TestBackend_ListObjects(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "a/x", "1")
	e.mustWrite(t, "acme", "acme", "box", "a/y", "22")
	e.mustWrite(t, "acme", "acme", "box", "b", "333")

	list := func(opt depot.ListOptions) ([]string, []string) {
		t.Helper()
		entries, prefixes, err := e.ListObjects(ctx, "acme", "acme", "box", opt)
		if err != nil {
			t.Fatalf("ListObjects(%+v) error = %v", opt, err)
		}
		return entryNames(entries), prefixes
	}

	names, prefixes := list(depot.ListOptions{})
	if !reflect.DeepEqual(names, []string{"a/x", "a/y", "b"}) {
		t.Errorf("names = %v", names)
	}
	if len(prefixes) != 0 {
		t.Errorf("prefixes = %v, want none", prefixes)
	}

	// Delimiter collapses shared sub-prefixes into virtual directories.
	names, prefixes = list(depot.ListOptions{Delimiter: "/"})
	if !reflect.DeepEqual(names, []string{"b"}) {
		t.Errorf("names with delimiter = %v", names)
	}
	if !reflect.DeepEqual(prefixes, []string{"a/"}) {
		t.Errorf("prefixes = %v", prefixes)
	}

	names, prefixes = list(depot.ListOptions{Prefix: "a/", Delimiter: "/"})
	if !reflect.DeepEqual(names, []string{"a/x", "a/y"}) {
		t.Errorf("names under prefix = %v", names)
	}
	if len(prefixes) != 0 {
		t.Errorf("prefixes under prefix = %v", prefixes)
	}

	names, _ = list(depot.ListOptions{Limit: 2})
	if !reflect.DeepEqual(names, []string{"a/x", "a/y"}) {
		t.Errorf("limited names = %v", names)
	}

	names, _ = list(depot.ListOptions{Marker: "a/x"})
	if !reflect.DeepEqual(names, []string{"a/y", "b"}) {
		t.Errorf("names after marker = %v", names)
	}

	names, _ = list(depot.ListOptions{Size: &depot.SizeRange{Min: 2, HasMin: true}})
	if !reflect.DeepEqual(names, []string{"a/y", "b"}) {
		t.Errorf("size-filtered names = %v", names)
	}

	// Tombstoned objects disappear from listings.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "b", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	names, _ = list(depot.ListOptions{})
	if !reflect.DeepEqual(names, []string{"a/x", "a/y"}) {
		t.Errorf("names after delete = %v", names)
	}
}

func TestBackend_ListObjects_DelimiterBoundary(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "a/x", "1")
	e.mustWrite(t, "acme", "acme", "box", "a0", "2")
	e.mustWrite(t, "acme", "acme", "box", "b", "3")

	// "a0" is exactly the successor bound the scan seeks to after
	// collapsing "a/"; it must not be stepped over.
	entries, prefixes, err := e.ListObjects(ctx, "acme", "acme", "box",
		depot.ListOptions{Delimiter: "/"})
	if err != nil {
		t.Fatalf("ListObjects() error = %v", err)
	}
	if got := entryNames(entries); !reflect.DeepEqual(got, []string{"a0", "b"}) {
		t.Errorf("names = %v, want [a0 b]", got)
	}
	if !reflect.DeepEqual(prefixes, []string{"a/"}) {
		t.Errorf("prefixes = %v, want [a/]", prefixes)
	}
}

func TestBackend_ListObjects_AttrFilters(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	write := func(name, color string) {
		t.Helper()
		_, err := e.WriteObject(ctx, "acme", "acme", "box", name, "", "user",
			map[string]string{"color": color}, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("WriteObject(%s) error = %v", name, err)
		}
	}
	write("apple", "red")
	write("sky", "blue")
	e.mustWrite(t, "acme", "acme", "box", "plain", "x")

	list := func(filters ...depot.AttrFilter) []string {
		t.Helper()
		entries, _, err := e.ListObjects(ctx, "acme", "acme", "box",
			depot.ListOptions{Domain: "user", Filters: filters})
		if err != nil {
			t.Fatalf("ListObjects() error = %v", err)
		}
		return entryNames(entries)
	}

	got := list(depot.AttrFilter{Key: "color", Op: depot.FilterEq, Value: "red"})
	if !reflect.DeepEqual(got, []string{"apple"}) {
		t.Errorf("color=red -> %v", got)
	}
	got = list(depot.AttrFilter{Key: "color", Op: depot.FilterExists})
	if !reflect.DeepEqual(got, []string{"apple", "sky"}) {
		t.Errorf("color exists -> %v", got)
	}
	got = list(depot.AttrFilter{Key: "color", Op: depot.FilterAbsent})
	if !reflect.DeepEqual(got, []string{"plain"}) {
		t.Errorf("color absent -> %v", got)
	}
	got = list(depot.AttrFilter{Key: "color", Op: depot.FilterNe, Value: "red"})
	if !reflect.DeepEqual(got, []string{"plain", "sky"}) {
		t.Errorf("color!=red -> %v", got)
	}
}

func TestBackend_ListObjects_AsOf(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	e.mustWrite(t, "acme", "acme", "box", "doc", "aa")
	e.clock.Advance(time.Hour)
	horizon := e.clock.Now().Add(-30 * time.Minute)
	e.mustWrite(t, "acme", "acme", "box", "doc", "bbbb")
	e.mustWrite(t, "acme", "acme", "box", "late", "cc")

	// Live view: current sizes, both objects.
	entries, _, err := e.ListObjects(ctx, "acme", "acme", "box", depot.ListOptions{})
	if err != nil {
		t.Fatalf("ListObjects() error = %v", err)
	}
	if !reflect.DeepEqual(entryNames(entries), []string{"doc", "late"}) {
		t.Errorf("live names = %v", entryNames(entries))
	}
	if entries[0].Version.Size != 4 {
		t.Errorf("live size = %d, want 4", entries[0].Version.Size)
	}

	// As-of view: the old version of doc, and no late object.
	entries, _, err = e.ListObjects(ctx, "acme", "acme", "box", depot.ListOptions{Before: horizon})
	if err != nil {
		t.Fatalf("ListObjects(before) error = %v", err)
	}
	if !reflect.DeepEqual(entryNames(entries), []string{"doc"}) {
		t.Errorf("as-of names = %v", entryNames(entries))
	}
	if entries[0].Version.Size != 2 {
		t.Errorf("as-of size = %d, want 2", entries[0].Version.Size)
	}
}

func TestBackend_ListObjects_Granted(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)
	e.mustWrite(t, "acme", "acme", "box", "shared/doc", "1")
	e.mustWrite(t, "acme", "acme", "box", "shared/doc2", "2")
	e.mustWrite(t, "acme", "acme", "box", "private", "3")

	// Without any grant the stranger sees nothing.
	if _, _, err := e.ListObjects(ctx, "bob", "acme", "box", depot.ListOptions{}); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("ListObjects() without grant error = %v, want ErrNotAllowed", err)
	}

	// With an object grant the listing narrows to the granted subtree.
	if err := e.UpdateObjectPermissions(ctx, "acme", "acme", "box", "shared/doc",
		&depot.Permissions{Read: []string{"bob"}}); err != nil {
		t.Fatalf("UpdateObjectPermissions() error = %v", err)
	}
	entries, _, err := e.ListObjects(ctx, "bob", "acme", "box", depot.ListOptions{})
	if err != nil {
		t.Fatalf("ListObjects() with grant error = %v", err)
	}
	if !reflect.DeepEqual(entryNames(entries), []string{"shared/doc"}) {
		t.Errorf("granted names = %v", entryNames(entries))
	}

	// A container-wide grant opens the whole listing.
	if err := e.UpdateContainerPermissions(ctx, "acme", "acme", "box",
		&depot.Permissions{Read: []string{"bob"}}); err != nil {
		t.Fatalf("UpdateContainerPermissions() error = %v", err)
	}
	entries, _, err = e.ListObjects(ctx, "bob", "acme", "box", depot.ListOptions{})
	if err != nil {
		t.Fatalf("ListObjects() with container grant error = %v", err)
	}
	if !reflect.DeepEqual(entryNames(entries), []string{"private", "shared/doc", "shared/doc2"}) {
		t.Errorf("names with container grant = %v", entryNames(entries))
	}
}
