package depot

import (
	"reflect"
	"sort"
	"testing"
)

func TestSplitContainer(t *testing.T) {
	tests := []struct {
		path                       string
		account, container, object string
	}{
		{"acme", "acme", "", ""},
		{"acme/photos", "acme", "photos", ""},
		{"acme/photos/cat.jpg", "acme", "photos", "cat.jpg"},
		{"acme/photos/2024/01/cat.jpg", "acme", "photos", "2024/01/cat.jpg"},
	}
	for _, tt := range tests {
		account, container, object := SplitContainer(tt.path)
		if account != tt.account || container != tt.container || object != tt.object {
			t.Errorf("SplitContainer(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.path, account, container, object, tt.account, tt.container, tt.object)
		}
	}
}

func TestSplitAccount(t *testing.T) {
	if got := SplitAccount("acme/photos/cat.jpg"); got != "acme" {
		t.Errorf("SplitAccount() = %q, want %q", got, "acme")
	}
	if got := SplitAccount("acme"); got != "acme" {
		t.Errorf("SplitAccount() = %q, want %q", got, "acme")
	}
}

func TestAncestorPaths(t *testing.T) {
	got := ancestorPaths("acme/photos/2024/cat.jpg")
	want := []string{"acme/photos/2024/cat.jpg", "acme/photos/2024", "acme/photos", "acme"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ancestorPaths() = %v, want %v", got, want)
	}

	if got := ancestorPaths("acme"); !reflect.DeepEqual(got, []string{"acme"}) {
		t.Errorf("ancestorPaths(%q) = %v", "acme", got)
	}
}

// The range bounds must bracket exactly the strings carrying the prefix:
// everything with the prefix sorts strictly between prevling and nextling,
// and everything without it sorts outside.
func TestPrefixRangeBounds(t *testing.T) {
	prefixes := []string{"a", "acme/", "acme/photos/cat", "b\xfe"}
	candidates := []string{
		"", "a", "acme", "acme/", "acme/photos", "acme/photos/cat",
		"acme/photos/cat.jpg", "acme/photos/caz", "acme0", "b", "b\xfe\xfe", "z",
	}
	for _, prefix := range prefixes {
		lo, hi := prevling(prefix), nextling(prefix)
		for _, s := range candidates {
			inRange := s > lo && (hi == "" || s < hi)
			hasPrefix := len(s) >= len(prefix) && s[:len(prefix)] == prefix
			if inRange != hasPrefix {
				t.Errorf("prefix %q: %q in range (%q, %q) = %v, has prefix = %v",
					prefix, s, lo, hi, inRange, hasPrefix)
			}
		}
	}
}

func TestPrevlingNextling(t *testing.T) {
	if got := prevling(""); got != "\x00" {
		t.Errorf("prevling(%q) = %q", "", got)
	}
	if got := nextling(""); got != "" {
		t.Errorf("nextling(%q) = %q", "", got)
	}
	if got := nextling("b"); got != "c" {
		t.Errorf("nextling(%q) = %q", "b", got)
	}
	if got := nextling("a\xff"); got != "b" {
		t.Errorf("nextling(%q) = %q", "a\xff", got)
	}

	// Bounds sort correctly against the prefix itself.
	for _, prefix := range []string{"a", "acme/box/", "zz"} {
		if lo := prevling(prefix); lo >= prefix {
			t.Errorf("prevling(%q) = %q does not sort before it", prefix, lo)
		}
		if hi := nextling(prefix); hi != "" && hi <= prefix {
			t.Errorf("nextling(%q) = %q does not sort after it", prefix, hi)
		}
	}
}

func TestAncestorPathsOrdering(t *testing.T) {
	paths := ancestorPaths("a/b/c/d")
	if !sort.SliceIsSorted(paths, func(i, j int) bool { return len(paths[i]) > len(paths[j]) }) {
		t.Errorf("ancestorPaths() not longest-first: %v", paths)
	}
}
