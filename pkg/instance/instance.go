package instance

import (
	"os"

	"github.com/angelmondragon/settlement-ledger/pkg/env"
)

// GetID returns the worker instance identifier, falling back to the hostname.
func GetID() string {
	if id := env.Get("LEDGER_WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
