// Package memory implements the chunked retrieval memory: artifact text is
// split into overlapping windows, embedded, and indexed per stage type for
// similarity retrieval by later stage prompts.
package memory

// Chunk splits text into overlapping fixed-size windows covering the whole
// text. Consecutive chunks share exactly `overlap` characters, so dropping
// the overlap while concatenating reconstructs the original text. Text that
// fits one window produces a single chunk equal to the text.
func Chunk(text string, window, overlap int) []string {
	if text == "" {
		return nil
	}
	if window <= 0 {
		window = 1200
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}
	if len(text) <= window {
		return []string{text}
	}

	step := window - overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + window
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			return chunks
		}
		chunks = append(chunks, text[start:end])
	}
}

// Reconstruct reverses Chunk: the first chunk in full, then each subsequent
// chunk minus the shared overlap prefix.
func Reconstruct(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := chunks[0]
	for _, c := range chunks[1:] {
		if overlap < len(c) {
			out += c[overlap:]
		}
	}
	return out
}
