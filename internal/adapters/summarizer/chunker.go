package summarizer

// splitChunks режет текст на перекрывающиеся куски фиксированного размера.
// Перекрытие всегда строго меньше размера куска, иначе нет гарантии
// продвижения вперёд. Работает по рунам: CJK-текст нельзя резать по байтам.
func splitChunks(text string, chunkChars, overlapChars int) []string {
	if chunkChars < 2000 {
		chunkChars = 2000
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars > chunkChars-1 {
		overlapChars = chunkChars - 1
	}

	runes := []rune(text)
	n := len(runes)
	if n <= chunkChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + chunkChars
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= n {
			break
		}
		start = end - overlapChars
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
