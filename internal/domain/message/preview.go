package message

import (
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// UnsupportedText replaces message content that could not be resolved.
const UnsupportedText = "[unsupported message]"

const previewMaxRunes = 80

// Preview returns a one-line summary of m for conversation lists.
func Preview(m Message) string {
	if f := m.Body.File; f != nil {
		name := f.Name
		if name == "" {
			name = "file"
		}
		if f.Size > 0 {
			return "📎 " + name + " (" + humanize.Bytes(uint64(f.Size)) + ")"
		}
		return "📎 " + name
	}
	text := strings.Join(strings.Fields(m.Body.Text), " ")
	if text == "" {
		return UnsupportedText
	}
	if utf8.RuneCountInString(text) > previewMaxRunes {
		runes := []rune(text)
		return string(runes[:previewMaxRunes-1]) + "…"
	}
	return text
}
