package app

import (
	"strings"

	"schoolbell/internal/config"
	"schoolbell/internal/storage"
)

func mapStorageConfig(cfg *config.Config, r config.Resolved) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = config.DefaultStoragePath
	}
	return storage.Config{
		Driver:        driver,
		Path:          path,
		BusyTimeout:   r.BusyTimeout,
		MaxLogEntries: sc.MaxLogEntries,
	}
}
