// Package instance identifies this relay deployment so logs and notifications
// from multiple hosts can be told apart.
package instance

import (
	"github.com/denisbrodbeck/machineid"
)

// ID returns a stable identifier for this host, hashed against the
// application name so it cannot be correlated across programs.
func ID() (string, error) {
	return machineid.ProtectedID("trade-relay")
}

// ShortID returns the first eight characters of ID, or "unknown" when the
// machine id cannot be determined. Meant for log and message prefixes.
func ShortID() string {
	id, err := ID()
	if err != nil || len(id) < 8 {
		return "unknown"
	}
	return id[:8]
}
