package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imthebreezy247/unison-sub001/internal/config"
)

// NewStoreFromConfig creates a Store based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig) (*Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "unison.db"))
	case "memory":
		return Open(":memory:")
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
