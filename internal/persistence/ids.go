package persistence

import (
	"strings"

	"github.com/google/uuid"
)

const maxIDLength = 128

// CanonicalID normalises id for storage. UUIDs in any accepted spelling
// become the lower-case hyphenated form; anything else must be a safe token
// of letters, digits, '-', '_' and '.' that does not start with a dot.
func CanonicalID(id string) (string, error) {
	if u, err := uuid.Parse(id); err == nil {
		return u.String(), nil
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateID reports whether id is a safe storage token.
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID.New("empty id")
	}
	if len(id) > maxIDLength {
		return ErrInvalidID.New("id longer than %d bytes", maxIDLength)
	}
	if strings.HasPrefix(id, ".") {
		return ErrInvalidID.New("%q starts with a dot", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ErrInvalidID.New("%q contains %q", id, r)
		}
	}
	return nil
}
