// Package cursor encodes pagination resume tokens. Tokens are opaque to
// clients: a sonic-serialized payload wrapped in unpadded base64url.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrInvalid indicates a token that could not be decoded.
var ErrInvalid = errors.New("invalid cursor token")

// Encode serializes a cursor payload into an opaque token.
func Encode(payload any) (string, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token into the given payload. Callers decide whether a
// decode failure is a validation error or a restart-from-the-top.
func Decode(token string, payload any) error {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sonic.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
