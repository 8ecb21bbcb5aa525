package depot_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"depot-go/internal/depot"
)

func TestBackend_ContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())

	if err := e.PutContainer(ctx, "bob", "acme", "box", nil); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("PutContainer() as stranger error = %v, want ErrNotAllowed", err)
	}
	e.mustPutContainer(t, "acme", "box", nil)
	if err := e.PutContainer(ctx, "acme", "acme", "box", nil); !errors.Is(err, depot.ErrAlreadyExists) {
		t.Errorf("duplicate PutContainer() error = %v, want ErrAlreadyExists", err)
	}

	names, err := e.ListContainers(ctx, "acme", "acme", "", 0)
	if err != nil {
		t.Fatalf("ListContainers() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"box"}) {
		t.Errorf("containers = %v", names)
	}

	// A container holding a live object refuses deletion.
	e.mustWrite(t, "acme", "acme", "box", "doc", "data")
	if err := e.DeleteContainer(ctx, "acme", "acme", "box", time.Time{}); !errors.Is(err, depot.ErrNotEmpty) {
		t.Errorf("DeleteContainer() error = %v, want ErrNotEmpty", err)
	}
	if err := e.DeleteContainer(ctx, "bob", "acme", "box", time.Time{}); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("DeleteContainer() as stranger error = %v, want ErrNotAllowed", err)
	}

	// Tombstoned objects no longer block it; deletion sweeps their residue.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "doc", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	if err := e.DeleteContainer(ctx, "acme", "acme", "box", time.Time{}); err != nil {
		t.Fatalf("DeleteContainer() error = %v", err)
	}
	if _, _, err := e.GetContainerMeta(ctx, "acme", "acme", "box", "", time.Time{}); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("GetContainerMeta() after delete error = %v, want ErrNotFound", err)
	}

	// The account's aggregates rolled back with it.
	_, stats, err := e.GetAccountMeta(ctx, "acme", "acme", "", time.Time{})
	if err != nil {
		t.Fatalf("GetAccountMeta() error = %v", err)
	}
	if stats.Population != 0 || stats.Size != 0 {
		t.Errorf("account stats after container delete = %+v, want zero", stats)
	}
}

func TestBackend_ContainerMetaAndPolicy(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", map[string]string{depot.PolicyQuota: "100"})

	policy, err := e.GetContainerPolicy(ctx, "acme", "acme", "box")
	if err != nil {
		t.Fatalf("GetContainerPolicy() error = %v", err)
	}
	if !reflect.DeepEqual(policy, map[string]string{depot.PolicyQuota: "100"}) {
		t.Errorf("policy = %v", policy)
	}

	// Merge keeps unnamed keys; replace drops them.
	if err := e.UpdateContainerPolicy(ctx, "acme", "acme", "box",
		map[string]string{depot.PolicyVersioning: depot.VersioningNone}, false); err != nil {
		t.Fatalf("UpdateContainerPolicy() error = %v", err)
	}
	policy, err = e.GetContainerPolicy(ctx, "acme", "acme", "box")
	if err != nil {
		t.Fatalf("GetContainerPolicy() error = %v", err)
	}
	if policy[depot.PolicyQuota] != "100" || policy[depot.PolicyVersioning] != depot.VersioningNone {
		t.Errorf("merged policy = %v", policy)
	}
	if err := e.UpdateContainerPolicy(ctx, "acme", "acme", "box",
		map[string]string{depot.PolicyQuota: "200"}, true); err != nil {
		t.Fatalf("UpdateContainerPolicy(replace) error = %v", err)
	}
	policy, err = e.GetContainerPolicy(ctx, "acme", "acme", "box")
	if err != nil {
		t.Fatalf("GetContainerPolicy() error = %v", err)
	}
	if !reflect.DeepEqual(policy, map[string]string{depot.PolicyQuota: "200"}) {
		t.Errorf("replaced policy = %v", policy)
	}

	if err := e.UpdateContainerMeta(ctx, "acme", "acme", "box", "user",
		map[string]string{"team": "infra"}, false); err != nil {
		t.Fatalf("UpdateContainerMeta() error = %v", err)
	}
	meta, _, err := e.GetContainerMeta(ctx, "acme", "acme", "box", "user", time.Time{})
	if err != nil {
		t.Fatalf("GetContainerMeta() error = %v", err)
	}
	if !reflect.DeepEqual(meta, map[string]string{"team": "infra"}) {
		t.Errorf("container meta = %v", meta)
	}

	if _, err := e.GetContainerPolicy(ctx, "bob", "acme", "box"); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("GetContainerPolicy() as stranger error = %v, want ErrNotAllowed", err)
	}
}

func TestBackend_DeleteContainer_PurgeUntil(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	e.mustWrite(t, "acme", "acme", "box", "keep", "old")
	e.mustWrite(t, "acme", "acme", "box", "gone", "bye")
	e.clock.Advance(time.Hour)
	e.mustWrite(t, "acme", "acme", "box", "keep", "newer")
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "gone", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	e.clock.Advance(time.Hour)

	if err := e.DeleteContainer(ctx, "acme", "acme", "box", e.clock.Now()); err != nil {
		t.Fatalf("DeleteContainer(until) error = %v", err)
	}

	// The container and its live objects survive; history and tombstones
	// older than the horizon are gone.
	if got := e.mustRead(t, "acme", "acme", "box", "keep", 0); got != "newer" {
		t.Errorf("live content after purge = %q", got)
	}
	versions, err := e.ListObjectVersions(ctx, "acme", "acme", "box", "keep")
	if err != nil {
		t.Fatalf("ListObjectVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Cluster != depot.ClusterNormal {
		t.Errorf("versions after purge = %+v, want only the live one", versions)
	}

	_, stats, err := e.GetContainerMeta(ctx, "acme", "acme", "box", "", time.Time{})
	if err != nil {
		t.Fatalf("GetContainerMeta() error = %v", err)
	}
	if stats.Population != 1 || stats.Size != 5 {
		t.Errorf("stats after purge = %+v, want population 1 size 5", stats)
	}
}

func TestBackend_AccountMeta(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())

	if err := e.UpdateAccountMeta(ctx, "bob", "acme", "user", map[string]string{"x": "y"}, false); !errors.Is(err, depot.ErrNotAllowed) {
		t.Errorf("UpdateAccountMeta() as stranger error = %v, want ErrNotAllowed", err)
	}

	// First touch creates the account.
	if err := e.UpdateAccountMeta(ctx, "acme", "acme", "user",
		map[string]string{"email": "ops@acme.test"}, false); err != nil {
		t.Fatalf("UpdateAccountMeta() error = %v", err)
	}
	meta, _, err := e.GetAccountMeta(ctx, "acme", "acme", "user", time.Time{})
	if err != nil {
		t.Fatalf("GetAccountMeta() error = %v", err)
	}
	if !reflect.DeepEqual(meta, map[string]string{"email": "ops@acme.test"}) {
		t.Errorf("account meta = %v", meta)
	}

	// Replace drops unnamed keys.
	if err := e.UpdateAccountMeta(ctx, "acme", "acme", "user",
		map[string]string{"plan": "basic"}, true); err != nil {
		t.Fatalf("UpdateAccountMeta(replace) error = %v", err)
	}
	meta, _, err = e.GetAccountMeta(ctx, "acme", "acme", "user", time.Time{})
	if err != nil {
		t.Fatalf("GetAccountMeta() error = %v", err)
	}
	if !reflect.DeepEqual(meta, map[string]string{"plan": "basic"}) {
		t.Errorf("account meta after replace = %v", meta)
	}

	if _, _, err := e.GetAccountMeta(ctx, "ghost", "ghost", "", time.Time{}); !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("GetAccountMeta(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestBackend_ListAccounts(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	for _, account := range []string{"acme", "globex", "initech"} {
		if err := e.UpdateAccountMeta(ctx, account, account, "", map[string]string{"seen": "1"}, false); err != nil {
			t.Fatalf("UpdateAccountMeta(%s) error = %v", account, err)
		}
	}

	names, err := e.ListAccounts(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"acme", "globex", "initech"}) {
		t.Errorf("accounts = %v", names)
	}

	names, err = e.ListAccounts(ctx, "acme", 1)
	if err != nil {
		t.Fatalf("ListAccounts(marker) error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"globex"}) {
		t.Errorf("accounts after marker = %v", names)
	}
}

func TestBackend_Statistics(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	e.mustWrite(t, "acme", "acme", "box", "one", "abc")
	e.clock.Advance(time.Hour)
	t1 := e.clock.Now()
	e.mustWrite(t, "acme", "acme", "box", "two", "hello")

	_, stats, err := e.GetContainerMeta(ctx, "acme", "acme", "box", "", time.Time{})
	if err != nil {
		t.Fatalf("GetContainerMeta() error = %v", err)
	}
	if stats.Population != 2 || stats.Size != 8 {
		t.Errorf("container stats = %+v, want population 2 size 8", stats)
	}
	if !stats.MTime.Equal(t1) {
		t.Errorf("container mtime = %v, want %v", stats.MTime, t1)
	}

	// Size aggregates recursively; population counts only direct version
	// ownership (here: the container's own meta version).
	_, stats, err = e.GetAccountMeta(ctx, "acme", "acme", "", time.Time{})
	if err != nil {
		t.Fatalf("GetAccountMeta() error = %v", err)
	}
	if stats.Size != 8 {
		t.Errorf("account size = %d, want 8", stats.Size)
	}
	if stats.Population != 1 {
		t.Errorf("account population = %d, want 1", stats.Population)
	}
}

func TestBackend_StatisticsUntil(t *testing.T) {
	ctx := context.Background()
	e := newTestBackend(t, depot.DefaultOptions())
	e.mustPutContainer(t, "acme", "box", nil)

	t0 := e.clock.Now()
	e.mustWrite(t, "acme", "acme", "box", "one", "abc") // 3 bytes at t0
	e.clock.Advance(time.Hour)
	t1 := e.clock.Now()
	e.mustWrite(t, "acme", "acme", "box", "two", "hello") // 5 bytes at t1
	e.clock.Advance(time.Hour)
	t2 := e.clock.Now()
	e.mustWrite(t, "acme", "acme", "box", "one", "abcdefg") // grows to 7 at t2
	e.clock.Advance(time.Hour)

	statsAt := func(until time.Time) *depot.Statistics {
		t.Helper()
		_, stats, err := e.GetContainerMeta(ctx, "acme", "acme", "box", "", until)
		if err != nil {
			t.Fatalf("GetContainerMeta(until %v) error = %v", until, err)
		}
		return stats
	}

	// The point-in-time view counts each node's version visible at the
	// horizon, the container's own meta version included.
	s := statsAt(t0.Add(30 * time.Minute))
	if s.Population != 2 || s.Size != 3 {
		t.Errorf("stats at t0 = %+v, want population 2 size 3", s)
	}
	if !s.MTime.Equal(t0) {
		t.Errorf("mtime at t0 = %v, want %v", s.MTime, t0)
	}

	s = statsAt(t1.Add(30 * time.Minute))
	if s.Population != 3 || s.Size != 8 {
		t.Errorf("stats at t1 = %+v, want population 3 size 8", s)
	}

	// After the overwrite the horizon view reflects the grown version while
	// earlier horizons still see the old size.
	s = statsAt(t2.Add(30 * time.Minute))
	if s.Population != 3 || s.Size != 12 {
		t.Errorf("stats at t2 = %+v, want population 3 size 12", s)
	}
	s = statsAt(t1.Add(30 * time.Minute))
	if s.Size != 8 {
		t.Errorf("stats at t1 after later writes = %+v, want size 8", s)
	}

	// Tombstoned objects drop out of the as-of view past their deletion.
	if err := e.DeleteObject(ctx, "acme", "acme", "box", "two", time.Time{}); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	e.clock.Advance(time.Hour)
	s = statsAt(e.clock.Now())
	if s.Population != 2 || s.Size != 7 {
		t.Errorf("stats after tombstone = %+v, want population 2 size 7", s)
	}
}
