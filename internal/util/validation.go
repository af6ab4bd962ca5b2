package util

import "github.com/google/uuid"

// IsValidUUID accepts only the canonical lower-case form that session ids
// are issued in.
func IsValidUUID(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}
