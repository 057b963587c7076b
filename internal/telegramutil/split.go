package telegramutil

import "strings"

// MaxMessageLength is the Telegram limit for a single text message.
const MaxMessageLength = 4096

// SplitMessage cuts text into chunks of at most limit characters. It breaks
// at the last blank line inside the window, then at the last newline, and
// only then hard-cuts at the limit. A hard cut never leaves a dangling
// MarkdownV2 escape backslash at the end of a chunk.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if text == "" {
		return []string{""}
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := runes
	for len(remaining) > limit {
		window := string(remaining[:limit])
		i := strings.LastIndex(window, "\n\n")
		if i == -1 {
			i = strings.LastIndex(window, "\n")
		}
		var cut int
		if i < 1 {
			cut = hardCut(remaining, limit)
		} else {
			cut = runeIndex(window, i)
		}

		chunk := strings.TrimSpace(string(remaining[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimLeft(string(remaining[cut:]), " \t\r\n"))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

func runeIndex(s string, byteIdx int) int {
	return len([]rune(s[:byteIdx]))
}

// hardCut returns limit unless that would split a backslash escape, in which
// case the escape moves to the next chunk.
func hardCut(runes []rune, limit int) int {
	backslashes := 0
	for i := limit - 1; i >= 0 && runes[i] == '\\'; i-- {
		backslashes++
	}
	if backslashes%2 == 1 && limit > 1 {
		return limit - 1
	}
	return limit
}
