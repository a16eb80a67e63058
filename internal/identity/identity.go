// Package identity provides opaque connection-identity primitives.
package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const connPrefix = "conn_"

var (
	connIDPattern = regexp.MustCompile(`^conn_[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	// Resume identities arrive from clients and may predate this server
	// generation; only their shape is constrained.
	resumeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// NewConnectionID mints a fresh opaque identity for an accepted
// connection.
func NewConnectionID() string {
	return connPrefix + uuid.NewString()
}

// IsConnectionID reports whether the value was minted by NewConnectionID.
func IsConnectionID(id string) bool {
	return connIDPattern.MatchString(id)
}

// SanitizeResumeID validates a client-supplied prior identity. Identities
// minted by this server pass as-is; anything else is held to the resume-ID
// shape. Returns "" when the value is unusable, which callers treat as no
// resumption.
func SanitizeResumeID(id string) string {
	id = strings.TrimSpace(id)
	if IsConnectionID(id) {
		return id
	}
	if id == "" || !resumeIDPattern.MatchString(id) {
		return ""
	}
	return id
}
