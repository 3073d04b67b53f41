package prompt

import (
	"regexp"
	"strings"
)

const maxKeywords = 12

var wordRe = regexp.MustCompile(`[a-z0-9_]{4,}`)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "and": {}, "are": {}, "but": {},
	"can": {}, "could": {}, "did": {}, "does": {}, "don": {}, "for": {},
	"from": {}, "have": {}, "help": {}, "here": {}, "how": {}, "just": {},
	"like": {}, "need": {}, "now": {}, "okay": {}, "please": {}, "that": {},
	"then": {}, "this": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "with": {}, "yeah": {}, "you": {}, "your": {},
	"said": {}, "earlier": {}, "remember": {},
}

var deepHistoryTriggers = []string{
	"earlier",
	"remember",
	"before",
	"last time",
	"what did i say",
	"what did we",
	"you said",
	"we talked",
	"back then",
}

// WantsDeepHistory reports whether a message is asking the bot to reach back
// past the recent window.
func WantsDeepHistory(text string) bool {
	t := strings.ToLower(text)
	for _, trigger := range deepHistoryTriggers {
		if strings.Contains(t, trigger) {
			return true
		}
	}
	return false
}

// ExtractKeywords pulls the salient lowercase tokens (length >= 4, stopwords
// removed, de-duplicated preserving order) used for lexical-overlap ranking.
func ExtractKeywords(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, maxKeywords)
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// overlapScore counts keywords shared between a turn and the trigger set.
func overlapScore(content string, triggerKeywords map[string]struct{}) int {
	if len(triggerKeywords) == 0 {
		return 0
	}
	score := 0
	for _, w := range ExtractKeywords(content) {
		if _, ok := triggerKeywords[w]; ok {
			score++
		}
	}
	return score
}
