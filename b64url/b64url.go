// Package b64url implements the unpadded URL-safe base64 encoding (RFC 4648
// §5) used for every key, signature and token exchanged with push services.
package b64url

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidLength is returned for inputs whose length cannot come from any
// base64 encoding.
var ErrInvalidLength = errors.New("b64url: invalid input length")

// Encode returns the URL-safe, unpadded encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode decodes s, which may be unpadded or carry exactly the padding its
// length requires.
func Decode(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.URLEncoding.Strict().DecodeString(s)
	}
	if len(s)%4 == 1 {
		return nil, ErrInvalidLength
	}
	return base64.RawURLEncoding.Strict().DecodeString(s)
}
