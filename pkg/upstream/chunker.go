package upstream

import "strings"

// ChunkText splits extracted document text into chunks of roughly chunkSize
// runes, preferring to break at paragraph, line, sentence, then word
// boundaries. Used for the in-process PDF path where no upstream segments
// exist.
func ChunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= chunkSize {
			chunk := strings.TrimSpace(string(runes))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := breakPoint(runes, chunkSize)
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	return chunks
}

// breakPoint finds the best split position at or before limit. It searches
// the back half of the window so chunks do not degenerate to tiny fragments.
func breakPoint(runes []rune, limit int) int {
	window := string(runes[:limit])
	floor := limit / 2

	for _, sep := range []string{"\n\n", "\n", ". ", "。", " "} {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			cut := len([]rune(window[:idx+len(sep)]))
			if cut > floor {
				return cut
			}
		}
	}
	return limit
}
