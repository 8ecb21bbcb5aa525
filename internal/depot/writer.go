package depot

import (
	"context"
	"fmt"
	"io"
)

// WriteObject streams a payload of unknown length into an object. The
// stream is consumed in block-size chunks and a version is committed per
// chunk, so memory stays bounded regardless of object size. The tradeoff:
// a failure mid-stream leaves a complete object version shorter than
// intended rather than no object at all — callers compare the returned
// length and checksum against what the client declared. Aborting via ctx
// rolls back only the in-flight chunk's transaction.
func (b *Backend) WriteObject(ctx context.Context, principal, account, container, name, contentType, domain string, meta map[string]string, r io.Reader) (*Version, error) {
	buf := make([]byte, b.opts.BlockSize)
	var hashes []string
	var size int64
	var v *Version

	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			hash, err := b.blocks.PutBlock(buf[:n])
			if err != nil {
				return v, fmt.Errorf("storing block at offset %d: %w", size, err)
			}
			hashes = append(hashes, hash)
			size += int64(n)
			v, err = b.UpdateObjectHashmap(ctx, principal, account, container, name,
				size, hashes, contentType, "", domain, meta, false, nil)
			if err != nil {
				return nil, fmt.Errorf("committing chunk at offset %d: %w", size, err)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return v, fmt.Errorf("reading payload at offset %d: %w", size, rerr)
		}
	}

	if v == nil {
		// Empty payload still creates a zero-size version.
		var err error
		v, err = b.UpdateObjectHashmap(ctx, principal, account, container, name,
			0, nil, contentType, "", domain, meta, false, nil)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ReadObject streams the object's live content to w and returns the number
// of bytes written. The byte count and recomputed hash always match the
// version row; a mismatch indicates a missing or corrupt block.
func (b *Backend) ReadObject(ctx context.Context, principal, account, container, name string, version int64, w io.Writer) (int64, error) {
	v, hashes, err := b.GetObjectHashmap(ctx, principal, account, container, name, version)
	if err != nil {
		return 0, err
	}
	var written int64
	remaining := v.Size
	for _, h := range hashes {
		data, err := b.blocks.GetBlock(h)
		if err != nil {
			return written, fmt.Errorf("reading block %s: %w", h, err)
		}
		if int64(len(data)) > remaining {
			data = data[:remaining]
		}
		n, err := w.Write(data)
		written += int64(n)
		remaining -= int64(n)
		if err != nil {
			return written, fmt.Errorf("writing payload: %w", err)
		}
	}
	if written != v.Size {
		return written, fmt.Errorf("object %s: wrote %d of %d bytes", JoinPath(account, container, name), written, v.Size)
	}
	return written, nil
}
