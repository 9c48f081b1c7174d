// Package chat routes live messages between paired accounts.
package chat

import "strings"

// RoomSeparator joins the two account ids of a room.
const RoomSeparator = "-"

// RoomID returns the room shared by accounts a and b. The ids are ordered
// lexicographically, so both sides derive the same room without a lookup.
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + RoomSeparator + b
}

// RoomMembers splits a room id back into its two account ids.
func RoomMembers(roomID string) (string, string, bool) {
	a, b, ok := strings.Cut(roomID, RoomSeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
