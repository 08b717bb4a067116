package naming

import (
	"fmt"
	"sync"
)

// Claims tracks which source owns each output path within one run. Derived
// names are deterministic, so two sources mapping to the same output is a
// data problem (e.g. two runs sharing every other entity) and is reported
// instead of renamed.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string // output path -> source path
}

// NewClaims creates an empty tracker.
func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Claim records src as the owner of output. Claiming the same pair twice is
// fine; a different owner yields an error naming both sources.
func (c *Claims) Claim(src, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, exists := c.owners[output]
	if exists && owner != src {
		return fmt.Errorf("output %s claimed by both %s and %s", output, owner, src)
	}
	c.owners[output] = src
	return nil
}

// Len reports how many outputs are claimed.
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owners)
}
