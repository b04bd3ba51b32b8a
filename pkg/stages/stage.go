package stages

import (
	"strings"

	"github.com/pkg/errors"
)

// Stage is one phase of a tutoring session. Transitions are forward-only;
// an explicit end phrase may jump practice straight to wrapup.
type Stage string

const (
	StageTopicDiscovery Stage = "topic_discovery"
	StagePractice       Stage = "practice"
	StageWrapup         Stage = "wrapup"
	StageDone           Stage = "done"
)

// PracticeTurnLimit is the turn count at which practice rolls over into
// wrapup even without an explicit end phrase.
const PracticeTurnLimit = 15

var stageOrdinals = map[Stage]int{
	StageTopicDiscovery: 0,
	StagePractice:       1,
	StageWrapup:         2,
	StageDone:           3,
}

// endPhrases are the user utterances treated as an explicit end command.
var endPhrases = []string{
	"i'm done",
	"im done",
	"let's stop",
	"lets stop",
	"stop the session",
	"end the session",
	"that's all for today",
	"thats all for today",
	"goodbye",
	"bye for now",
}

// Parse validates a wire stage value.
func Parse(s string) (Stage, error) {
	st := Stage(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := stageOrdinals[st]; !ok {
		return "", errors.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Ordinal returns the stage's position in the lifecycle. Unknown stages sort
// before topic_discovery.
func (s Stage) Ordinal() int {
	ord, ok := stageOrdinals[s]
	if !ok {
		return -1
	}
	return ord
}

// IsEndPhrase reports whether the turn text contains an explicit end command.
func IsEndPhrase(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, p := range endPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// Next computes the stage for the following turn. It depends only on turn
// metadata, never on provider output, so it stays deterministic:
//
//	topic_discovery -> practice
//	practice        -> wrapup once turnCount >= PracticeTurnLimit or the
//	                   turn carries an end phrase, else practice
//	wrapup          -> done
//	done            -> done
func Next(current Stage, turnCount int, text string) Stage {
	switch current {
	case StageTopicDiscovery:
		return StagePractice
	case StagePractice:
		if turnCount >= PracticeTurnLimit || IsEndPhrase(text) {
			return StageWrapup
		}
		return StagePractice
	case StageWrapup:
		return StageDone
	case StageDone:
		return StageDone
	default:
		return current
	}
}
