package embeddings

// ChunkTexts splits texts into request-sized chunks bounded both by
// count and by total characters. A single text longer than maxChars is
// sent alone rather than dropped.
func ChunkTexts(texts []string, chunkSize, maxChars int) [][]string {
	if chunkSize <= 0 {
		chunkSize = 2048
	}
	if maxChars <= 0 {
		maxChars = 120_000
	}

	var chunks [][]string
	var current []string
	chars := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			chars = 0
		}
	}

	for _, t := range texts {
		if len(t) > maxChars {
			flush()
			chunks = append(chunks, []string{t})
			continue
		}
		if len(current) >= chunkSize || chars+len(t) > maxChars {
			flush()
		}
		current = append(current, t)
		chars += len(t)
	}
	flush()
	return chunks
}
