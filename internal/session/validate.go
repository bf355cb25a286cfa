package session

import "fmt"

const maxNameLen = 64

// ValidateName rejects session names that would produce awkward or unsafe
// directory names under the base dir. Allowed: lowercase letters, digits,
// hyphen and underscore, at most 64 characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("session name %q contains %q: only [a-z0-9_-] allowed", name, r)
		}
	}
	return nil
}
