package depot

import (
	"fmt"
	"strings"
)

// Permission grants attach to paths, not nodes, and are not fanned out to
// descendants on write. Inheritance is a query-time walk: a check on
// "a/c/x/y" consults "a/c/x/y", "a/c/x", "a/c" and "a" and applies the
// nearest explicit grant set.

// accessInherit returns the nearest ancestor grant covering path, walking
// upward from the path itself. Empty grant path means nothing applies.
func accessInherit(tx Tx, path string) (string, *Permissions, error) {
	grantPath, perms, err := tx.PermissionsNearest(ancestorPaths(path))
	if err != nil {
		return "", nil, fmt.Errorf("resolving inherited permissions of %q: %w", path, err)
	}
	return grantPath, perms, nil
}

// principalInGrant reports whether principal matches any entry of the grant
// list. Entries are plain user identifiers, "account:group" pairs expanded
// through the group provider, or "*" for everyone.
func (b *Backend) principalInGrant(principal string, grants []string) (bool, error) {
	for _, g := range grants {
		if g == "*" || g == principal {
			return true, nil
		}
		account, group, ok := strings.Cut(g, ":")
		if !ok {
			continue
		}
		members, err := b.groups.GroupMembers(account, group)
		if err != nil {
			return false, fmt.Errorf("expanding group %q: %w", g, err)
		}
		for _, m := range members {
			if m == principal {
				return true, nil
			}
		}
	}
	return false, nil
}

// canRead checks read access for principal on path. The owning account
// always passes; published paths are readable by anyone; otherwise the
// nearest grant must name the principal (write implies read).
func (b *Backend) canRead(tx Tx, principal, path string) error {
	if principal == SplitAccount(path) {
		return nil
	}
	if _, err := tx.PublicGet(path); err == nil {
		return nil
	}
	_, perms, err := accessInherit(tx, path)
	if err != nil {
		return err
	}
	if perms != nil {
		ok, err := b.principalInGrant(principal, perms.Read)
		if err != nil {
			return err
		}
		if !ok {
			ok, err = b.principalInGrant(principal, perms.Write)
			if err != nil {
				return err
			}
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("read %q as %q: %w", path, principal, ErrNotAllowed)
}

// canWrite checks write access for principal on path.
func (b *Backend) canWrite(tx Tx, principal, path string) error {
	if principal == SplitAccount(path) {
		return nil
	}
	_, perms, err := accessInherit(tx, path)
	if err != nil {
		return err
	}
	if perms != nil {
		ok, err := b.principalInGrant(principal, perms.Write)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("write %q as %q: %w", path, principal, ErrNotAllowed)
}

// validatePermissions rejects malformed principal entries before they are
// stored.
func validatePermissions(p *Permissions) error {
	check := func(grants []string) error {
		for _, g := range grants {
			if g == "" || strings.ContainsAny(g, " \t\n") {
				return fmt.Errorf("invalid principal %q", g)
			}
			if strings.Count(g, ":") > 1 {
				return fmt.Errorf("invalid group principal %q", g)
			}
		}
		return nil
	}
	if p == nil {
		return nil
	}
	if err := check(p.Read); err != nil {
		return err
	}
	return check(p.Write)
}
