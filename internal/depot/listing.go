package depot

import (
	"fmt"
	"strings"
	"time"
)

// FilterOp is one attribute predicate operator.
type FilterOp int

const (
	FilterExists FilterOp = iota
	FilterAbsent
	FilterEq
	FilterNe
	FilterLt
	FilterLe
	FilterGt
	FilterGe
)

// AttrFilter is one conjunctive predicate evaluated against a version's
// domain-scoped attributes.
type AttrFilter struct {
	Key   string
	Op    FilterOp
	Value string
}

// SizeRange narrows listing matches to versions within [Min, Max]; either
// bound may be disabled.
type SizeRange struct {
	Min, Max       int64
	HasMin, HasMax bool
}

// ListOptions parameterizes an object listing.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Marker    string // object name to start strictly after
	Limit     int    // max non-collapsed matches; 0 = unlimited
	Before    time.Time
	Domain    string       // attribute domain for Filters
	Filters   []AttrFilter // conjunctive
	Size      *SizeRange
	// Allowed restricts matches to the listed object names and their
	// subtrees (a permission-derived allow-list). nil means unrestricted.
	Allowed []string
}

const listBatchSize = 1000

// listRange streams versions under basePath (trailing slash included) in
// path order, collapsing names at the delimiter into common prefixes. The
// scan range is the half-open interval (prevling(prefix), nextling(prefix))
// shifted under basePath, which turns prefix matching into a sortable range
// scan. After emitting a common prefix the scan resumes at nextling of it,
// inclusively, so collapsed children are never re-scanned but an object
// whose path equals that bound is not lost. Matching additionally narrows by
// size range, attribute predicates and the explicit allow-list. The same
// code serves live and as-of-before listings; only the per-node version
// lookup differs inside the store.
func (b *Backend) listRange(tx Tx, basePath string, opt ListOptions) ([]ListEntry, []string, error) {
	after := prevling(basePath + opt.Prefix)
	inclusive := false
	if opt.Marker != "" {
		if m := basePath + opt.Marker; m > after {
			after = m
		}
	}
	until := nextling(basePath + opt.Prefix)

	allowedMatch := func(name string) bool {
		if opt.Allowed == nil {
			return true
		}
		for _, root := range opt.Allowed {
			if name == root || strings.HasPrefix(name, root+"/") {
				return true
			}
		}
		return false
	}

	var matches []ListEntry
	var prefixes []string
	seen := map[string]bool{}

	for {
		batch, err := tx.VersionsInRange(RangeQuery{
			After:     after,
			Inclusive: inclusive,
			Until:     until,
			Before:    opt.Before,
			Exclude:   ClusterDeleted, // tombstoned objects are invisible
			Limit:     listBatchSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("scanning path range: %w", err)
		}
		if len(batch) == 0 {
			return matches, prefixes, nil
		}

		skipped := false
		for _, entry := range batch {
			after = entry.Path
			inclusive = false
			name := strings.TrimPrefix(entry.Path, basePath)

			if opt.Delimiter != "" {
				rest := name[len(opt.Prefix):]
				if i := strings.Index(rest, opt.Delimiter); i >= 0 {
					cp := name[:len(opt.Prefix)+i+len(opt.Delimiter)]
					if !seen[cp] {
						seen[cp] = true
						prefixes = append(prefixes, cp)
					}
					// Resume at the first path past this common prefix. The
					// bound itself is a valid object path, so the seek is
					// inclusive.
					after = nextling(basePath + cp)
					if after == "" {
						return matches, prefixes, nil
					}
					inclusive = true
					skipped = true
					break
				}
			}

			if !allowedMatch(name) {
				continue
			}
			if !matchSize(&entry.Version, opt.Size) {
				continue
			}
			ok, err := matchAttributes(tx, &entry.Version, opt.Domain, opt.Filters)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}

			matches = append(matches, entry)
			if opt.Limit > 0 && len(matches) >= opt.Limit {
				return matches, prefixes, nil
			}
		}

		if !skipped && len(batch) < listBatchSize {
			return matches, prefixes, nil
		}
	}
}

func matchSize(v *Version, r *SizeRange) bool {
	if r == nil {
		return true
	}
	if r.HasMin && v.Size < r.Min {
		return false
	}
	if r.HasMax && v.Size > r.Max {
		return false
	}
	return true
}

func matchAttributes(tx Tx, v *Version, domain string, filters []AttrFilter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	attrs, err := tx.AttributesGet(v.Serial, domain)
	if err != nil {
		return false, fmt.Errorf("loading attributes of serial %d: %w", v.Serial, err)
	}
	for _, f := range filters {
		val, present := attrs[f.Key]
		switch f.Op {
		case FilterExists:
			if !present {
				return false, nil
			}
		case FilterAbsent:
			if present {
				return false, nil
			}
		case FilterEq:
			if !present || val != f.Value {
				return false, nil
			}
		case FilterNe:
			if present && val == f.Value {
				return false, nil
			}
		case FilterLt:
			if !present || val >= f.Value {
				return false, nil
			}
		case FilterLe:
			if !present || val > f.Value {
				return false, nil
			}
		case FilterGt:
			if !present || val <= f.Value {
				return false, nil
			}
		case FilterGe:
			if !present || val < f.Value {
				return false, nil
			}
		}
	}
	return true, nil
}

// ParseAttrFilter parses one filter expression: "key" (exists), "!key"
// (absent), or "key OP value" with OP in =, !=, <, <=, >, >=.
func ParseAttrFilter(expr string) (AttrFilter, error) {
	ops := []struct {
		token string
		op    FilterOp
	}{
		{"<=", FilterLe}, {">=", FilterGe}, {"!=", FilterNe},
		{"=", FilterEq}, {"<", FilterLt}, {">", FilterGt},
	}
	for _, o := range ops {
		if k, v, ok := strings.Cut(expr, o.token); ok {
			if k == "" {
				return AttrFilter{}, fmt.Errorf("empty key in filter %q", expr)
			}
			return AttrFilter{Key: k, Op: o.op, Value: v}, nil
		}
	}
	if name, ok := strings.CutPrefix(expr, "!"); ok {
		return AttrFilter{Key: name, Op: FilterAbsent}, nil
	}
	if expr == "" {
		return AttrFilter{}, fmt.Errorf("empty filter expression")
	}
	return AttrFilter{Key: expr, Op: FilterExists}, nil
}
