package vector

import "fmt"

// Open constructs the configured backend.
func Open(cfg Config) (Index, error) {
	switch cfg.Backend {
	case "", "hnsw":
		return NewHNSWIndex(cfg), nil
	case "bruteforce":
		return NewBruteForceIndex(cfg), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
