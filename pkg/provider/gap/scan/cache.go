package scan

import (
	"fmt"
	"os"
	"sync"
)

// chunkOutcome memoises the onset analysis of one chunk.
type chunkOutcome struct {
	found    bool
	onsetMs  int64
	strength float64
}

// SessionCache memoises per-chunk separation results for the lifetime of one
// detection session. It replaces the module-global model cache of older
// implementations: the session that creates it owns it and must Close it,
// which removes the scratch directory holding separated chunk stems.
//
// A cache must not be shared across audio files; the scanner keys chunks by
// time only.
type SessionCache struct {
	mu       sync.Mutex
	dir      string
	outcomes map[chunkKey]chunkOutcome
	closed   bool
}

// NewSessionCache creates a cache whose scratch files live under tempRoot.
func NewSessionCache(tempRoot string) (*SessionCache, error) {
	dir, err := os.MkdirTemp(tempRoot, "scan-*")
	if err != nil {
		return nil, fmt.Errorf("scan: create session cache dir: %w", err)
	}
	return &SessionCache{dir: dir, outcomes: make(map[chunkKey]chunkOutcome)}, nil
}

// Dir returns the scratch directory chunk stems are written into.
func (c *SessionCache) Dir() string { return c.dir }

// lookup returns the memoised outcome for key, if any.
func (c *SessionCache) lookup(key chunkKey) (chunkOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.outcomes[key]
	return o, ok
}

// store memoises the outcome for key.
func (c *SessionCache) store(key chunkKey, o chunkOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[key] = o
}

// Close removes all scratch files. Calling Close more than once is safe.
func (c *SessionCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("scan: remove session cache dir: %w", err)
	}
	return nil
}
