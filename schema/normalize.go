package schema

import (
	"fmt"
	"strings"
)

// ValidateSessionName ensures a session name matches [a-z0-9._~-]. The empty
// name addresses the default session and is valid.
func ValidateSessionName(name SessionName) error {
	raw := string(name)
	if strings.TrimSpace(raw) != raw {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, raw)
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' || r == '~' {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, raw)
	}
	return nil
}

// NormalizeShip strips the leading sigil from a ship name.
func NormalizeShip(ship string) string {
	return strings.TrimPrefix(strings.TrimSpace(ship), "~")
}
