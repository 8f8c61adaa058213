// Package runnerid mints request identifiers for the ops API and batch
// tracing, the same role the teacher's middleware gives a request ID
// header on every inbound HTTP call.
package runnerid

import "github.com/google/uuid"

// New returns a fresh random request identifier.
func New() string {
	return uuid.NewString()
}
