package core

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// EncodeToken builds the opaque correlation token embedded in a prompt.
// It carries the session and item ids so a response can be routed after a
// process restart without any in-memory state.
func EncodeToken(importID, itemID uuid.UUID) string {
	var raw [32]byte
	copy(raw[:16], importID[:])
	copy(raw[16:], itemID[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken extracts the session and item ids from a token.
func DecodeToken(token string) (importID, itemID uuid.UUID, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 32 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	copy(importID[:], raw[:16])
	copy(itemID[:], raw[16:])
	if importID == uuid.Nil || itemID == uuid.Nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return importID, itemID, nil
}
