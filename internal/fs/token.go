package fs

import (
	"strconv"
	"sync/atomic"
)

// Token is the opaque identifier the host carries between callbacks to
// refer to a context created by an earlier callback.
type Token uint64

// NoToken means no context has been attached yet.
const NoToken Token = 0

// IsZero reports whether t is NoToken.
func (t Token) IsZero() bool {
	return t == NoToken
}

func (t Token) String() string {
	return "#" + strconv.FormatUint(uint64(t), 10)
}

// tokenSource mints tokens from an auto-incrementing counter. Tokens are
// never reused within a mount session.
type tokenSource struct {
	counter atomic.Uint64
}

func (s *tokenSource) next() Token {
	return Token(s.counter.Add(1))
}
