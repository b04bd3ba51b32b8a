package topic

import (
	"regexp"
	"strings"
)

// Source tags how a topic was obtained. Explicit sources (a structured marker
// or a caller-supplied value) confirm the topic; inferred ones are heuristic
// guesses that a later turn may overwrite.
type Source int

const (
	SourceNone Source = iota
	SourceExplicit
	SourceInferred
)

// Resolution is the tagged result of a resolve pass. Topic is empty iff
// Source is SourceNone; that is not an error, the topic may settle later.
type Resolution struct {
	Topic  string
	Source Source
}

// markerPattern matches the single reserved delimiter syntax the tutor is
// instructed to emit, e.g. "[TOPIC: train travel]".
var markerPattern = regexp.MustCompile(`\[TOPIC:\s*([^\]]+)\]`)

// heuristicPatterns are tried in order against the provider reply first and
// the user text second. Each captures one candidate phrase. Order matters;
// new heuristics go at the end so existing resolutions stay stable.
var heuristicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:talk|talking|chat|chatting)\s+about\s+([a-z][a-z0-9' -]+)`),
	regexp.MustCompile(`(?i)(?:practice|practise|practicing)\s+([a-z][a-z0-9' -]+)`),
	regexp.MustCompile(`(?i)the\s+topic\s+(?:is|will\s+be)\s+([a-z][a-z0-9' -]+)`),
	regexp.MustCompile(`(?i)let'?s\s+discuss\s+([a-z][a-z0-9' -]+)`),
	regexp.MustCompile(`(?i)interested\s+in\s+([a-z][a-z0-9' -]+)`),
}

// greetingDenylist blocks short pleasantries from ever becoming a topic,
// even when they structurally match a heuristic.
var greetingDenylist = map[string]struct{}{
	"hi":           {},
	"hello":        {},
	"hey":          {},
	"hiya":         {},
	"yo":           {},
	"good morning": {},
	"good evening": {},
	"good night":   {},
	"how are you":  {},
	"thanks":       {},
	"thank you":    {},
	"ok":           {},
	"okay":         {},
	"yes":          {},
	"no":           {},
	// filler captures that pattern-match but carry no subject
	"today":     {},
	"it":        {},
	"that":      {},
	"this":      {},
	"something": {},
	"anything":  {},
}

// Resolver extracts a normalized topic label from a provider reply and the
// user's own text. The zero value is ready to use.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Resolve applies the strategy chain in priority order, first match wins:
//
//  1. structured marker in the provider reply (explicit)
//  2. topic already supplied on the request (explicit)
//  3. heuristic patterns over the provider reply (inferred)
//  4. heuristic patterns over the user text (inferred)
//
// There is no cross-pattern scoring; a match from an earlier strategy is
// never displaced by a later one.
func (r *Resolver) Resolve(replyText, userText, requestTopic string) Resolution {
	if m := markerPattern.FindStringSubmatch(replyText); m != nil {
		if topic := Normalize(m[1]); topic != "" {
			return Resolution{Topic: topic, Source: SourceExplicit}
		}
	}
	if topic := Normalize(requestTopic); topic != "" {
		return Resolution{Topic: topic, Source: SourceExplicit}
	}
	if topic := r.applyHeuristics(replyText); topic != "" {
		return Resolution{Topic: topic, Source: SourceInferred}
	}
	if topic := r.applyHeuristics(userText); topic != "" {
		return Resolution{Topic: topic, Source: SourceInferred}
	}
	return Resolution{Source: SourceNone}
}

func (r *Resolver) applyHeuristics(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	for _, p := range heuristicPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if topic := Normalize(m[1]); topic != "" {
			return topic
		}
	}
	return ""
}

// Normalize lowercases a candidate, strips trailing punctuation, truncates it
// to at most three words, and rejects greeting phrases. Returns "" when the
// candidate cannot be a topic.
func Normalize(candidate string) string {
	c := strings.ToLower(strings.TrimSpace(candidate))
	c = strings.TrimRight(c, ".,!?;:")
	words := strings.Fields(c)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 3 {
		words = words[:3]
	}
	c = strings.Join(words, " ")
	if _, blocked := greetingDenylist[c]; blocked {
		return ""
	}
	return c
}
