package fs

import (
	"os"
	"syscall"
)

// Enumerate returns the next entry of the listing of the directory held
// by dir. A zero or unknown listing token, or restart, starts a fresh
// snapshot filtered by mask. When the listing is exhausted its cursor is
// released and found is false.
func (d *Dispatcher) Enumerate(dir, listing Token, mask string, restart bool) (Token, FileInfo, bool, error) {
	if restart && !listing.IsZero() {
		d.cursors.Discard(listing)
		listing = NoToken
	}

	if _, ok := d.cursors.Get(listing); !ok {
		ctx, err := d.handles.Get(dir)
		if err != nil {
			return NoToken, FileInfo{}, false, d.fail(OpEnumerate, dir.String(), err)
		}
		if !ctx.IsDir() {
			return NoToken, FileInfo{}, false, d.fail(OpEnumerate, ctx.RealPath(), syscall.ENOTDIR)
		}
		listing, err = d.cursors.Begin(ctx.RealPath(), mask)
		if err != nil {
			return NoToken, FileInfo{}, false, d.fail(OpEnumerate, ctx.RealPath(), err)
		}
	}

	for {
		name, realPath, ok := d.cursors.Next(listing)
		if !ok {
			d.cursors.Discard(listing)
			return NoToken, FileInfo{}, false, nil
		}

		info, err := os.Stat(realPath)
		if err != nil {
			dispatchLogger.Trace("Skipping %q: %v", realPath, err)
			continue
		}
		fi := fileInfoFromStat(info, realPath)
		fi.Name = name
		return listing, fi, true, nil
	}
}

// CloseEnumeration releases the listing's cursor whether or not it was
// exhausted.
func (d *Dispatcher) CloseEnumeration(listing Token) error {
	d.cursors.Discard(listing)
	return nil
}
