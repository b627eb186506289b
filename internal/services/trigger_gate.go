package services

import (
	"regexp"
	"strings"
)

var nonWordRe = regexp.MustCompile(`\W+`)

// TriggerGate admits a conversation's first message only if it mentions the exercise topic.
type TriggerGate struct {
	words map[string]struct{}
}

func NewTriggerGate(words []string) *TriggerGate {
	g := &TriggerGate{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			g.words[w] = struct{}{}
		}
	}
	return g
}

// Admits reports whether any word token of text exactly matches the vocabulary.
func (g *TriggerGate) Admits(text string) bool {
	if g == nil || len(g.words) == 0 {
		return false
	}
	for _, tok := range tokenize(text) {
		if _, ok := g.words[tok]; ok {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return nonWordRe.Split(strings.ToLower(text), -1)
}
