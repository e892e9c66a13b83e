package share

import (
	"fmt"
	"net/url"
	"strings"
)

// RoomParam is the query parameter carrying the room identifier in join URLs.
const RoomParam = "room"

// JoinURL builds the shareable viewer URL for a room.
func JoinURL(baseURL, room string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	q := u.Query()
	q.Set(RoomParam, room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseRoomInput accepts either a bare room code or a pasted join URL and
// returns the room identifier. Returns an empty string when the input names
// no room.
func ParseRoomInput(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if strings.Contains(input, "://") || strings.Contains(input, RoomParam+"=") {
		if u, err := url.Parse(input); err == nil {
			if room := u.Query().Get(RoomParam); room != "" {
				return room
			}
		}
	}
	return input
}
