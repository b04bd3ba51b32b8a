package stages

import (
	"fmt"
	"strings"
)

// systemPrompts hold the per-stage instruction variants. Kept as data so a
// prompt change never touches control flow.
var systemPrompts = map[Stage]string{
	StageTopicDiscovery: "You are a friendly language tutor. Help the learner settle on a conversation topic. " +
		"When the learner commits to one, restate it on its own line as [TOPIC: <short label>].",
	StagePractice: "You are a language tutor running a practice conversation about %q. " +
		"Keep replies short, correct mistakes gently, and ask a follow-up question each turn.",
	StageWrapup: "You are a language tutor closing out a practice session about %q. " +
		"Summarize what went well, mention recurring mistakes, and say goodbye.",
	StageDone: "The session has ended. Politely remind the learner to start a new session.",
}

// SystemPrompt renders the prompt variant for a stage. topic may be empty;
// lastMistakes are folded in so the tutor can reference them.
func SystemPrompt(stage Stage, topic string, lastMistakes []string) string {
	tmpl, ok := systemPrompts[stage]
	if !ok {
		tmpl = systemPrompts[StageTopicDiscovery]
	}
	prompt := tmpl
	if strings.Contains(tmpl, "%q") {
		t := topic
		if strings.TrimSpace(t) == "" {
			t = "a topic of the learner's choice"
		}
		prompt = fmt.Sprintf(tmpl, t)
	}
	if len(lastMistakes) > 0 {
		prompt += " Recent mistakes to watch for: " + strings.Join(lastMistakes, "; ") + "."
	}
	return prompt
}
