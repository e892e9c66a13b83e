package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// RoomCodeRegex validates broker-assigned identities used as room codes.
var RoomCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRoomCode checks a room code before any network attempt. Empty and
// malformed codes are rejected here so a validation notification can be
// surfaced without touching the broker.
func ValidateRoomCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	if len(code) > 64 {
		return fmt.Errorf("room code is too long (max 64 characters)")
	}
	if !RoomCodeRegex.MatchString(code) {
		return fmt.Errorf("room code contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// NormalizeRoomCode trims surrounding whitespace.
func NormalizeRoomCode(code string) string {
	return strings.TrimSpace(code)
}
