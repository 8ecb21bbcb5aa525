package depot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListAccounts returns account names in path order, starting strictly after
// marker, at most limit (0 = all). Administrative surface; no principal.
func (b *Backend) ListAccounts(ctx context.Context, marker string, limit int) ([]string, error) {
	var names []string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		nodes, err := tx.NodeChildren(RootNodeID, marker, limit)
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
		for _, n := range nodes {
			names = append(names, n.Path)
		}
		return nil
	})
	return names, err
}

// GetAccountMeta returns the account's domain-scoped metadata and aggregate
// statistics. A non-zero until answers as of that point in time, counting
// normal and history versions, independent of the live counters.
func (b *Backend) GetAccountMeta(ctx context.Context, principal, account, domain string, until time.Time) (map[string]string, *Statistics, error) {
	var meta map[string]string
	var stats *Statistics
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("account %q meta as %q: %w", account, principal, ErrNotAllowed)
		}
		node, err := tx.NodeLookup(account)
		if err != nil {
			return err
		}
		if !until.IsZero() {
			stats, err = statisticsUntil(tx, account, until)
		} else {
			stats, err = tx.StatisticsGet(node.ID, ClusterNormal)
		}
		if err != nil {
			return err
		}
		if node.LatestVersionID != 0 {
			meta, err = tx.AttributesGet(node.LatestVersionID, domain)
			if err != nil {
				return err
			}
		}
		if meta == nil {
			meta = map[string]string{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return meta, stats, nil
}

// UpdateAccountMeta appends a metadata version to the account node, creating
// the account on first touch. With replace set, keys absent from meta are
// dropped instead of kept.
func (b *Backend) UpdateAccountMeta(ctx context.Context, principal, account, domain string, meta map[string]string, replace bool) error {
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("account %q meta as %q: %w", account, principal, ErrNotAllowed)
		}
		node, err := b.lookupAccount(tx, account, true)
		if err != nil {
			return err
		}
		return b.putMetadata(tx, node, principal, domain, meta, replace)
	})
}

// putMetadata appends a metadata-only version duplicating the current one,
// then applies the metadata delta to the fresh serial.
func (b *Backend) putMetadata(tx Tx, node *Node, principal, domain string, meta map[string]string, replace bool) error {
	src, err := liveVersion(tx, node)
	if err != nil {
		return err
	}
	versioning, err := b.effectivePolicy(tx, node.ID, PolicyVersioning, b.opts.DefaultVersioning)
	if err != nil {
		return err
	}
	params := versionParams{ModifiedBy: principal}
	if src != nil {
		params.UUID = src.UUID
	}
	v, _, err := b.putVersion(tx, node, src, params, versioning)
	if err != nil {
		return err
	}
	if replace {
		if err := tx.AttributesDeleteDomain(v.Serial, domain); err != nil {
			return err
		}
	}
	var del []string
	set := make(map[string]string, len(meta))
	for k, val := range meta {
		if val == "" && !replace {
			del = append(del, k)
			continue
		}
		set[k] = val
	}
	return tx.AttributesUpdate(v.Serial, node.ID, domain, set, del)
}

// GetAccountPolicy returns the account's explicit policy rows.
func (b *Backend) GetAccountPolicy(ctx context.Context, principal, account string) (map[string]string, error) {
	var policy map[string]string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("account %q policy as %q: %w", account, principal, ErrNotAllowed)
		}
		node, err := tx.NodeLookup(account)
		if err != nil {
			return err
		}
		policy, err = tx.PolicyGet(node.ID)
		return err
	})
	return policy, err
}

// UpdateAccountPolicy validates and stores account policy (quota,
// versioning defaults for the whole account).
func (b *Backend) UpdateAccountPolicy(ctx context.Context, principal, account string, policy map[string]string, replace bool) error {
	return b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("account %q policy as %q: %w", account, principal, ErrNotAllowed)
		}
		if err := validatePolicy(policy); err != nil {
			return err
		}
		node, err := b.lookupAccount(tx, account, true)
		if err != nil {
			return err
		}
		return tx.PolicySet(node.ID, policy, replace)
	})
}

// ListContainers returns the account's container names in path order,
// starting strictly after marker, at most limit (0 = all).
func (b *Backend) ListContainers(ctx context.Context, principal, account, marker string, limit int) ([]string, error) {
	var names []string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("account %q containers as %q: %w", account, principal, ErrNotAllowed)
		}
		node, err := tx.NodeLookup(account)
		if err != nil {
			return err
		}
		after := ""
		if marker != "" {
			after = JoinPath(account, marker)
		}
		children, err := tx.NodeChildren(node.ID, after, limit)
		if err != nil {
			return fmt.Errorf("listing containers of %q: %w", account, err)
		}
		for _, c := range children {
			names = append(names, strings.TrimPrefix(c.Path, account+"/"))
		}
		return nil
	})
	return names, err
}
