package depot

// GroupProvider resolves "account:group" principals to their members before
// a permission check. Membership lives outside the engine.
type GroupProvider interface {
	// GroupMembers returns the members of account's group, or an empty
	// slice for an unknown group.
	GroupMembers(account, group string) ([]string, error)
}

// StaticGroups is a GroupProvider backed by an in-memory table keyed by
// "account:group". Suitable for configuration-defined groups and tests.
type StaticGroups map[string][]string

func (g StaticGroups) GroupMembers(account, group string) ([]string, error) {
	return g[account+":"+group], nil
}

var _ GroupProvider = (StaticGroups)(nil)
