package lexical

import "fmt"

// Open constructs the configured backend. path is the index file/directory
// root; an empty path opens an in-memory index (used by tests and by
// in-memory-only deployments).
func Open(backend, path string, cfg Config) (Index, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteIndex(path, cfg)
	case "bleve":
		return NewBleveIndex(path, cfg)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q", backend)
	}
}
