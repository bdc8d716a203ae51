package knowledge

import (
	"database/sql"
	"fmt"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// Backend names accepted by the factory.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// New builds the configured knowledge store. The db handle is only
// required for the sql backend.
func New(cfg Config, db *sql.DB, ids pipeline.IDGenerator, clock pipeline.Clock) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(ids, clock), nil
	case BackendFile:
		return NewFileStore(cfg.Dir, ids, clock)
	case BackendSQL:
		if db == nil {
			return nil, fmt.Errorf("knowledge sql backend requires an initialized database")
		}
		return NewSQLStore(db, ids, clock), nil
	default:
		return nil, fmt.Errorf("unknown knowledge backend %q", cfg.Backend)
	}
}
