package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTopicDiscoveryAlwaysAdvances(t *testing.T) {
	require.Equal(t, StagePractice, Next(StageTopicDiscovery, 0, "hi"))
	require.Equal(t, StagePractice, Next(StageTopicDiscovery, 99, ""))
}

func TestNextPracticeHoldsBelowLimit(t *testing.T) {
	require.Equal(t, StagePractice, Next(StagePractice, 3, "tell me about trains"))
	require.Equal(t, StagePractice, Next(StagePractice, PracticeTurnLimit-1, "more please"))
}

func TestNextPracticeRollsOverAtLimit(t *testing.T) {
	require.Equal(t, StageWrapup, Next(StagePractice, PracticeTurnLimit, "keep going"))
	require.Equal(t, StageWrapup, Next(StagePractice, PracticeTurnLimit+4, ""))
}

func TestNextPracticeEndPhraseJumpsToWrapup(t *testing.T) {
	require.Equal(t, StageWrapup, Next(StagePractice, 2, "ok I'm done for today"))
	require.Equal(t, StageWrapup, Next(StagePractice, 2, "let's stop here"))
}

func TestNextWrapupAndDoneAreTerminalish(t *testing.T) {
	require.Equal(t, StageDone, Next(StageWrapup, 0, ""))
	require.Equal(t, StageDone, Next(StageDone, 0, "hello again"))
}

func TestNextNeverRegresses(t *testing.T) {
	all := []Stage{StageTopicDiscovery, StagePractice, StageWrapup, StageDone}
	texts := []string{"", "hi", "i'm done", "the weather in berlin"}
	for _, s := range all {
		for _, txt := range texts {
			for _, n := range []int{0, 1, PracticeTurnLimit, 40} {
				next := Next(s, n, txt)
				assert.GreaterOrEqual(t, next.Ordinal(), s.Ordinal(),
					"stage regressed: %s -> %s (turnCount=%d text=%q)", s, next, n, txt)
			}
		}
	}
}

func TestParse(t *testing.T) {
	st, err := Parse(" Practice ")
	require.NoError(t, err)
	require.Equal(t, StagePractice, st)

	_, err = Parse("warmup")
	require.Error(t, err)
}

func TestIsEndPhrase(t *testing.T) {
	assert.True(t, IsEndPhrase("I think that's all for today, thanks!"))
	assert.True(t, IsEndPhrase("goodbye"))
	assert.False(t, IsEndPhrase("the endgame of chess"))
	assert.False(t, IsEndPhrase(""))
}

func TestSystemPromptVariants(t *testing.T) {
	p := SystemPrompt(StagePractice, "train travel", nil)
	assert.Contains(t, p, "train travel")

	p = SystemPrompt(StagePractice, "", nil)
	assert.Contains(t, p, "a topic of the learner's choice")

	p = SystemPrompt(StageWrapup, "cooking", []string{"past tense", "articles"})
	assert.Contains(t, p, "past tense")

	assert.NotEqual(t, SystemPrompt(StageTopicDiscovery, "", nil), SystemPrompt(StageDone, "", nil))
}
