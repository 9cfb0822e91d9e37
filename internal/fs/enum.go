package fs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mirrorfs/internal/logging"

	"github.com/gobwas/glob"
)

var (
	enumLogger = logging.GetLogger().WithPrefix("enum")
)

// EnumerationCursor walks a point-in-time snapshot of a directory listing.
type EnumerationCursor struct {
	dir     string
	entries []string
	index   int
}

// Remaining returns the number of snapshot entries not yet consumed.
func (c *EnumerationCursor) Remaining() int {
	return len(c.entries) - c.index
}

// CursorStore maps listing tokens to enumeration cursors.
type CursorStore struct {
	mu      sync.Mutex
	tokens  tokenSource
	cursors map[Token]*EnumerationCursor
}

// NewCursorStore creates an empty store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[Token]*EnumerationCursor),
	}
}

// Begin snapshots the names in dir that match mask and returns the token
// of a new cursor positioned before the first of them.
func (s *CursorStore) Begin(dir, mask string) (Token, error) {
	matcher, err := compileMask(mask)
	if err != nil {
		return NoToken, err
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return NoToken, err
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if matcher == nil || matcher.Match(strings.ToLower(de.Name())) {
			names = append(names, de.Name())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.tokens.next()
	s.cursors[token] = &EnumerationCursor{dir: dir, entries: names}
	enumLogger.Debug("Listing %s of %q: %d of %d entries match %q",
		token, dir, len(names), len(dirEntries), mask)
	return token, nil
}

// Next advances the cursor and returns the real path of the next entry
// that is not "." or "..". ok is false once the snapshot is exhausted or
// the token is unknown.
func (s *CursorStore) Next(token Token) (name, realPath string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, found := s.cursors[token]
	if !found {
		return "", "", false
	}
	for cursor.index < len(cursor.entries) {
		name = cursor.entries[cursor.index]
		cursor.index++
		if name == "." || name == ".." {
			continue
		}
		return name, filepath.Join(cursor.dir, name), true
	}
	return "", "", false
}

// Get returns the cursor for token.
func (s *CursorStore) Get(token Token) (*EnumerationCursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[token]
	return cursor, ok
}

// Discard releases the cursor for token. Unknown tokens are ignored.
func (s *CursorStore) Discard(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cursors[token]; ok {
		delete(s.cursors, token)
		enumLogger.Trace("Discarded listing %s", token)
	}
}

// Len returns the number of live cursors.
func (s *CursorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.cursors)
}

// compileMask turns a host name mask into a matcher. A nil matcher
// matches every name. Matching ignores case.
func compileMask(mask string) (glob.Glob, error) {
	switch mask {
	case "", "*", "*.*":
		return nil, nil
	}
	g, err := glob.Compile(maskPattern(strings.ToLower(mask)))
	if err != nil {
		return nil, NewError(OpEnumerate, mask, err)
	}
	return g, nil
}

// maskPattern quotes everything but the * and ? wildcards so the rest of
// the mask matches literally.
func maskPattern(mask string) string {
	var b strings.Builder
	start := 0
	for i := 0; i < len(mask); i++ {
		if mask[i] != '*' && mask[i] != '?' {
			continue
		}
		b.WriteString(glob.QuoteMeta(mask[start:i]))
		b.WriteByte(mask[i])
		start = i + 1
	}
	b.WriteString(glob.QuoteMeta(mask[start:]))
	return b.String()
}

// Clear discards every cursor and returns how many there were.
func (s *CursorStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.cursors)
	s.cursors = make(map[Token]*EnumerationCursor)
	return count
}
