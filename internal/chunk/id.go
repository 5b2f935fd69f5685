package chunk

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes derived chunk ids so they never collide with random session ids
var chunkNamespace = uuid.MustParse("8f0c2a6e-5b1d-4c7e-9a3f-2d6b1e4f7a90")

// DeriveID returns the deterministic chunk id for (sessionID, index).
// Re-uploading the same index always maps to the same id, which turns
// a retry into an overwrite.
func DeriveID(sessionID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(sessionID+"/"+strconv.Itoa(index))).String()
}

// NewSessionID returns a fresh random session id
func NewSessionID() string {
	return uuid.NewString()
}
