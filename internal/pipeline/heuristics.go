package pipeline

import (
	"regexp"
	"strings"
)

// MessageKind is the deterministic pre-classification of a batch.
type MessageKind string

const (
	KindGreeting   MessageKind = "greeting"
	KindQuestion   MessageKind = "question"
	KindObjection  MessageKind = "objection"
	KindScheduling MessageKind = "scheduling"
	KindStatement  MessageKind = "statement"
)

// HeuristicSignals is a keyword-derived read of the batch. It is an
// explicit deterministic layer feeding the psychology analysis, not a
// substitute for it.
type HeuristicSignals struct {
	Kind          MessageKind
	Topics        []string
	UrgencyHint   float64
	QuestionCount int
}

var (
	greetingWords = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}

	objectionWords = []string{
		"too expensive", "not interested", "no thanks", "stop messaging",
		"too far", "not now", "maybe later", "think about it",
	}

	schedulingWords = []string{
		"viewing", "appointment", "visit", "see the unit", "showflat",
		"this weekend", "available on", "book a",
	}

	urgentWords = []string{
		"urgent", "asap", "immediately", "this week", "today", "tomorrow",
		"moving soon", "lease ending", "need to buy",
	}

	topicPatterns = []struct {
		topic   string
		pattern *regexp.Regexp
	}{
		{"price", regexp.MustCompile(`(?i)\b(price|cost|psf|budget|afford|expensive|how much)\b`)},
		{"location", regexp.MustCompile(`(?i)\b(district|d\d{1,2}|mrt|near|location|area)\b`)},
		{"layout", regexp.MustCompile(`(?i)\b(bedroom|br|sqft|size|layout|floor ?plan)\b`)},
		{"financing", regexp.MustCompile(`(?i)\b(loan|mortgage|cpf|absd|stamp duty|downpayment)\b`)},
		{"investment", regexp.MustCompile(`(?i)\b(rental|yield|tenant|invest|capital)\b`)},
	}
)

// Classify derives heuristic signals from the combined batch text.
// Pure function, no I/O.
func Classify(text string) HeuristicSignals {
	lower := strings.ToLower(text)
	sig := HeuristicSignals{Kind: KindStatement}

	sig.QuestionCount = strings.Count(text, "?")

	switch {
	case containsAny(lower, schedulingWords):
		sig.Kind = KindScheduling
	case containsAny(lower, objectionWords):
		sig.Kind = KindObjection
	case sig.QuestionCount > 0:
		sig.Kind = KindQuestion
	case isGreetingOnly(lower):
		sig.Kind = KindGreeting
	}

	for _, tp := range topicPatterns {
		if tp.pattern.MatchString(text) {
			sig.Topics = append(sig.Topics, tp.topic)
		}
	}

	hits := 0
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	sig.UrgencyHint = float64(hits) * 0.25
	if sig.UrgencyHint > 1 {
		sig.UrgencyHint = 1
	}

	return sig
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// isGreetingOnly reports whether the text is a bare greeting with no
// substantive content.
func isGreetingOnly(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	if len(trimmed) > 40 {
		return false
	}
	return containsAny(trimmed, greetingWords)
}
