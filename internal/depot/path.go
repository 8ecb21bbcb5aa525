package depot

import "strings"

// Paths address nodes in the hierarchy: "account", "account/container",
// "account/container/object". Object names may themselves contain slashes;
// an object node's parent is always its container node. The root node has
// the empty path.

// JoinPath builds a node path from its components.
func JoinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// SplitAccount returns the account component of a path.
func SplitAccount(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// SplitContainer returns the account and container components of an object
// or container path, and the remaining object name (empty for container
// paths).
func SplitContainer(path string) (account, container, object string) {
	parts := strings.SplitN(path, "/", 3)
	account = parts[0]
	if len(parts) > 1 {
		container = parts[1]
	}
	if len(parts) > 2 {
		object = parts[2]
	}
	return account, container, object
}

// ancestorPaths returns path and every proper path-prefix ending at a slash
// boundary, longest first. Used by the query-time permission inheritance
// walk.
func ancestorPaths(path string) []string {
	paths := []string{path}
	for {
		i := strings.LastIndexByte(path, '/')
		if i < 0 {
			break
		}
		path = path[:i]
		paths = append(paths, path)
	}
	return paths
}

// prevling returns a string sorting before every string that begins with
// prefix, suitable as an exclusive lower range bound. Paths are assumed not
// to contain 0xff bytes.
func prevling(prefix string) string {
	if prefix == "" {
		return "\x00"
	}
	b := []byte(prefix)
	last := b[len(b)-1]
	if last > 0 {
		return string(b[:len(b)-1]) + string([]byte{last - 1, 0xff})
	}
	return string(b[:len(b)-1])
}

// nextling returns the tightest string sorting after every string that
// begins with prefix, suitable as an exclusive upper range bound. The empty
// string means the range is unbounded above.
func nextling(prefix string) string {
	if prefix == "" {
		return ""
	}
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
