package rules

import (
	"fmt"
	"strings"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// ReplyClass is the classification of a free-text reply.
type ReplyClass string

const (
	ClassPositive    ReplyClass = "POSITIVE"
	ClassNeutral     ReplyClass = "NEUTRAL"
	ClassNegative    ReplyClass = "NEGATIVE"
	ClassOutOfOffice ReplyClass = "OUT_OF_OFFICE"
	ClassUnsubscribe ReplyClass = "UNSUBSCRIBE"
)

// EventType maps a reply class to the canonical event type the transition
// table understands.
func (c ReplyClass) EventType() funnel.EventType {
	switch c {
	case ClassPositive:
		return funnel.EventReplyPositive
	case ClassNegative:
		return funnel.EventReplyNegative
	case ClassOutOfOffice:
		return funnel.EventReplyOutOfOffice
	case ClassUnsubscribe:
		return funnel.EventReplyUnsubscribe
	default:
		return funnel.EventReplyNeutral
	}
}

// ReplyClassification is the typed outcome of classifying one reply body.
type ReplyClassification struct {
	Class     ReplyClass `json:"class"`
	Rationale string     `json:"rationale"`
}

// ReplyClassifier resolves a free-text reply into a ReplyClassification.
// The movement engine depends on this interface, not on the keyword
// implementation, so a model-based classifier can be substituted without
// touching the engine.
type ReplyClassifier interface {
	Classify(text string) ReplyClassification
}

// KeywordClassifier is the stock marker-based classifier.
//
// Precedence is fixed: unsubscribe markers are checked first, out-of-office
// markers second, sentiment markers last. When positive and negative markers
// both match, the tie resolves to NEGATIVE (the conservative reading).
type KeywordClassifier struct {
	unsubscribePhrases []string
	oooPhrases         []string
	oooWords           []string
	positivePhrases    []string
	positiveWords      []string
	negativePhrases    []string
	negativeWords      []string
}

// NewKeywordClassifier returns a classifier with the stock marker sets.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		unsubscribePhrases: []string{
			"unsubscribe",
			"remove me",
			"take me off",
			"opt out",
			"opt-out",
			"stop emailing",
			"stop contacting",
			"do not contact",
			"don't contact",
		},
		oooPhrases: []string{
			"out of office",
			"out-of-office",
			"automatic reply",
			"auto-reply",
			"autoreply",
			"on vacation",
			"annual leave",
			"parental leave",
			"currently away",
			"away from my desk",
			"returning on",
			"back in the office",
		},
		oooWords: []string{"ooo"},
		positivePhrases: []string{
			"interested",
			"sounds good",
			"sounds great",
			"let's talk",
			"let's chat",
			"happy to",
			"love to",
			"tell me more",
			"book a",
			"set up a call",
			"schedule a",
			"works for me",
		},
		positiveWords: []string{"yes", "sure", "keen"},
		negativePhrases: []string{
			"not interested",
			"no thanks",
			"no thank you",
			"not a fit",
			"not the right",
			"no budget",
			"too expensive",
			"already have",
			"already using",
			"waste of",
			"don't email",
			"do not email",
		},
		negativeWords: []string{"stop", "never", "pass", "spam"},
	}
}

var _ ReplyClassifier = (*KeywordClassifier)(nil)

// Classify applies the marker sets in precedence order. Empty bodies are
// NEUTRAL: silence carries no sentiment.
func (k *KeywordClassifier) Classify(text string) ReplyClassification {
	body := strings.ToLower(strings.TrimSpace(text))
	if body == "" {
		return ReplyClassification{
			Class:     ClassNeutral,
			Rationale: "empty reply body",
		}
	}
	tokens := tokenize(body)

	if marker, ok := matchPhrases(body, k.unsubscribePhrases); ok {
		return ReplyClassification{
			Class:     ClassUnsubscribe,
			Rationale: fmt.Sprintf("matched unsubscribe marker %q", marker),
		}
	}

	if marker, ok := matchMarkers(body, tokens, k.oooPhrases, k.oooWords); ok {
		return ReplyClassification{
			Class:     ClassOutOfOffice,
			Rationale: fmt.Sprintf("matched out-of-office marker %q", marker),
		}
	}

	negMarker, negHit := matchMarkers(body, tokens, k.negativePhrases, k.negativeWords)
	posMarker, posHit := matchMarkers(body, tokens, k.positivePhrases, k.positiveWords)

	switch {
	case negHit && posHit:
		return ReplyClassification{
			Class:     ClassNegative,
			Rationale: fmt.Sprintf("matched both %q and %q; ties resolve negative", posMarker, negMarker),
		}
	case negHit:
		return ReplyClassification{
			Class:     ClassNegative,
			Rationale: fmt.Sprintf("matched negative marker %q", negMarker),
		}
	case posHit:
		return ReplyClassification{
			Class:     ClassPositive,
			Rationale: fmt.Sprintf("matched positive marker %q", posMarker),
		}
	default:
		return ReplyClassification{
			Class:     ClassNeutral,
			Rationale: "no sentiment markers matched",
		}
	}
}

// matchMarkers checks phrase markers by substring and single-word markers by
// token to avoid substring false positives ("eyes" must not match "yes").
// Word markers are checked in declaration order so the reported marker is
// deterministic.
func matchMarkers(body string, tokens map[string]bool, phrases []string, words []string) (string, bool) {
	if marker, ok := matchPhrases(body, phrases); ok {
		return marker, true
	}
	for _, w := range words {
		if tokens[w] {
			return w, true
		}
	}
	return "", false
}

func matchPhrases(body string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(body, p) {
			return p, true
		}
	}
	return "", false
}

func tokenize(body string) map[string]bool {
	fields := strings.FieldsFunc(body, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
