package models

import "regexp"

// validSessionIDPattern constrains session identifiers to a sane charset so
// a malformed id is rejected before it becomes a map key.
var validSessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	return validSessionIDPattern.MatchString(id)
}
