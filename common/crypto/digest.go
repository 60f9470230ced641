// Package crypto provides the one-way credential digest used for at-rest
// storage and audit.
//
// Hashi never persists a plaintext API credential: the session file and the
// bind audit log only ever contain the output of Digest. The digest is not
// usable for outbound authentication; the live credential is kept in process
// memory only, for the lifetime of the binding.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLen is the length in characters of a Digest output (sha256, hex).
const DigestLen = 64

// Digest returns the lowercase hex sha256 digest of a credential.
// Deterministic and collision-resistant; suitable only for comparison and
// audit, never for recovering the credential.
func Digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
