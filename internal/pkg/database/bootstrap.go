package database

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// SchemaEnsurer creates or upgrades the tables it owns. Implementations must
// be idempotent.
type SchemaEnsurer interface {
	EnsureSchema() error
}

// Bootstrap carries boot-time state for one process. Create it once in main
// and pass it to whatever needs the schema in place.
type Bootstrap struct {
	mu      sync.Mutex
	ensured bool
}

// NewBootstrap returns a fresh Bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// EnsureSchema runs every ensurer the first time it succeeds and is a no-op
// afterwards. A failed run is retried on the next call.
func (b *Bootstrap) EnsureSchema(ensurers ...SchemaEnsurer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ensured {
		return nil
	}
	for i, e := range ensurers {
		if err := e.EnsureSchema(); err != nil {
			return fmt.Errorf("ensure schema (step %d): %w", i+1, err)
		}
	}
	b.ensured = true
	log.Infof("[Bootstrap] Schema ensured for %d component(s)", len(ensurers))
	return nil
}

// SchemaEnsured reports whether EnsureSchema has completed.
func (b *Bootstrap) SchemaEnsured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensured
}
