package message

import (
	"strconv"
	"strings"
)

// Placeholder id kinds.
const (
	KindPending = "pending"
	KindUpload  = "upload"
	KindSystem  = "system"
)

// WelcomeID is the placeholder id of the synthesized empty-timeline notice.
const WelcomeID = KindSystem + "_welcome"

// PlaceholderID builds the <kind>_<creationTimestamp> id of a local message.
func PlaceholderID(kind string, createdAtMs int64) string {
	return kind + "_" + strconv.FormatInt(createdAtMs, 10)
}

// ParsePlaceholderID splits a placeholder id into its kind and timestamp.
func ParsePlaceholderID(id string) (kind string, createdAtMs int64, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], ts, true
}
