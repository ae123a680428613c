// Package token generates the opaque identifiers used for files and
// upload sessions.
package token

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/cipherdrop/cipherdrop/pkg/apperr"
)

// entropyBytes is 256 bits, enough that identifier collisions are
// negligible at any realistic volume.
const entropyBytes = 32

// Generate returns a new unpredictable identifier encoded as a URL-safe
// token with no padding, so it can sit in a path segment unescaped.
// It fails only when the system entropy source is unavailable.
func Generate() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperr.Wrap(apperr.KindResource, err, "entropy source unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
