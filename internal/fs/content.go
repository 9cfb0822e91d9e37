package fs

import (
	"errors"
	"io"
	"os"
)

// Read fills buf from position. Fewer bytes than len(buf) are returned
// only at end of file.
func (d *Dispatcher) Read(token Token, position int64, buf []byte) (int, error) {
	ctx, err := d.handles.Get(token)
	if err != nil {
		return 0, d.fail(OpRead, token.String(), err)
	}

	var n int
	err = ctx.withFile(func(f *os.File) error {
		if _, err := f.Seek(position, io.SeekStart); err != nil {
			return err
		}
		read, err := io.ReadFull(f, buf)
		n = read
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return err
	})
	if err != nil {
		return n, d.fail(OpRead, ctx.RealPath(), err)
	}
	dispatchLogger.Trace("Read %s: %d/%d bytes at %d", token, n, len(buf), position)
	return n, nil
}

// Write stores data at position and returns how far the file position
// advanced.
func (d *Dispatcher) Write(token Token, position int64, data []byte) (int, error) {
	ctx, err := d.handles.Get(token)
	if err != nil {
		return 0, d.fail(OpWrite, token.String(), err)
	}

	var n int
	err = ctx.withFile(func(f *os.File) error {
		pre, err := f.Seek(position, io.SeekStart)
		if err != nil {
			return err
		}
		written, err := f.Write(data)
		if err != nil {
			n = written
			return err
		}
		post, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		n = int(post - pre)
		return d.syncIfConfigured(f)
	})
	if err != nil {
		return n, d.fail(OpWrite, ctx.RealPath(), err)
	}
	dispatchLogger.Trace("Write %s: %d bytes at %d", token, n, position)
	return n, nil
}

// SetEndOfFile truncates or extends the file to length.
func (d *Dispatcher) SetEndOfFile(token Token, length int64) error {
	ctx, err := d.handles.Get(token)
	if err != nil {
		return d.fail(OpSetEOF, token.String(), err)
	}

	err = ctx.withFile(func(f *os.File) error {
		if _, err := f.Seek(length, io.SeekStart); err != nil {
			return err
		}
		if err := f.Truncate(length); err != nil {
			return err
		}
		return d.syncIfConfigured(f)
	})
	if err != nil {
		return d.fail(OpSetEOF, ctx.RealPath(), err)
	}
	dispatchLogger.Debug("SetEndOfFile %s: %d", token, length)
	return nil
}

func (d *Dispatcher) syncIfConfigured(f *os.File) error {
	if !d.opts.SyncWrites {
		return nil
	}
	return f.Sync()
}

// Flush commits the file's written data to stable storage. A context whose
// file was never opened has nothing to flush.
func (d *Dispatcher) Flush(token Token) error {
	ctx, err := d.handles.Get(token)
	if err != nil {
		return d.fail(OpFlush, token.String(), err)
	}
	if ctx.IsDir() {
		return nil
	}

	ctx.mu.Lock()
	f := ctx.file
	var syncErr error
	if f != nil {
		syncErr = f.Sync()
	}
	ctx.mu.Unlock()

	if syncErr != nil {
		return d.fail(OpFlush, ctx.RealPath(), syncErr)
	}
	return nil
}
