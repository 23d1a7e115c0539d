// Package signals classifies caller utterances before the completion engine is consulted.
//
// Both detectors are plain case-insensitive substring matches over fixed phrase lists, so they are
// deterministic, cheap, and never need a model call.
package signals

import "strings"

var closingPhrases = []string{
	"bye", "goodbye", "see you", "talk to you later", "that's all",
	"thank you", "thanks for your help", "end", "quit", "exit",
	"have a good day", "have a nice day", "that's it", "that will be all",
}

var hesitationPhrases = []string{
	"not sure", "maybe later", "think about it", "too expensive",
	"can't afford", "not ready", "need time", "let me think",
	"not convinced", "don't know", "hesitant", "uncertain",
	"on the fence", "not now", "possibly", "might", "perhaps",
}

// DetectsEnd reports whether text contains a phrase signalling the caller wants to end the call.
func DetectsEnd(text string) bool {
	return containsAny(text, closingPhrases)
}

// DetectsHesitation reports whether text contains a phrase signalling reluctance.
func DetectsHesitation(text string) bool {
	return containsAny(text, hesitationPhrases)
}

// Hints returns the closing phrases as a comma separated speech recognition hint list.
func Hints() string {
	return strings.Join(closingPhrases, ",")
}

func containsAny(text string, phrases []string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
