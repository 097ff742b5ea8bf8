package speech

import "strings"

const sentenceTerminators = ".!?"

// splitSentences cuts buffered text into complete sentences, each ending in
// a run of terminator characters, and returns the trailing incomplete
// remainder. "Hello world. How are" yields ["Hello world."] and " How are".
func splitSentences(buffer string) (sentences []string, remainder string) {
	start := 0
	i := 0
	for i < len(buffer) {
		if !strings.ContainsRune(sentenceTerminators, rune(buffer[i])) {
			i++
			continue
		}
		// absorb a terminator run ("...", "?!")
		for i < len(buffer) && strings.ContainsRune(sentenceTerminators, rune(buffer[i])) {
			i++
		}
		sentences = append(sentences, buffer[start:i])
		start = i
	}
	return sentences, buffer[start:]
}
