package depot

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// publicTokenBytes sizes the random token; 24 bytes encode to 32 URL-safe
// characters.
const publicTokenBytes = 24

// newPublicToken draws an opaque random token. Tokens are never derived
// from internal identifiers, so they cannot be enumerated.
func newPublicToken() (string, error) {
	buf := make([]byte, publicTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating public token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GetObjectPublic returns the object's public token, or ErrNotFound when
// the object is not published. Owner only.
func (b *Backend) GetObjectPublic(ctx context.Context, principal, account, container, name string) (string, error) {
	path := JoinPath(account, container, name)
	var token string
	err := b.meta.WithTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("public token of %q as %q: %w", path, principal, ErrNotAllowed)
		}
		if _, err := tx.NodeLookup(path); err != nil {
			return err
		}
		var err error
		token, err = tx.PublicGet(path)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// UpdateObjectPublic publishes or withdraws the object. Publishing is
// idempotent: a published path keeps its token until it is unpublished.
func (b *Backend) UpdateObjectPublic(ctx context.Context, principal, account, container, name string, public bool) (string, error) {
	path := JoinPath(account, container, name)
	var token string
	err := b.meta.WithUpdateTx(ctx, func(tx Tx) error {
		if principal != account {
			return fmt.Errorf("publish %q as %q: %w", path, principal, ErrNotAllowed)
		}
		if _, err := tx.NodeLookup(path); err != nil {
			return err
		}
		if !public {
			if err := tx.PublicUnset(path); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		}
		fresh, err := newPublicToken()
		if err != nil {
			return err
		}
		if err := tx.PublicSet(path, fresh); err != nil {
			return err
		}
		token, err = tx.PublicGet(path)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// PublicPath resolves a public token to its object path components. No
// authentication: the token is the capability.
func (b *Backend) PublicPath(ctx context.Context, token string) (account, container, name string, err error) {
	var path string
	err = b.meta.WithTx(ctx, func(tx Tx) error {
		var terr error
		path, terr = tx.PublicLookup(token)
		return terr
	})
	if err != nil {
		return "", "", "", err
	}
	account, container, name = SplitContainer(path)
	return account, container, name, nil
}
