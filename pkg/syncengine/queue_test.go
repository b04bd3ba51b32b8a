package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InnNhi24/vibetune/pkg/model"
)

func queuedSubmission(msgID, convID string) TurnSubmission {
	return TurnSubmission{
		Message: model.Message{ID: msgID, ConversationID: convID, CreatedAt: time.Now()},
		Stage:   "practice",
	}
}

func TestQueueIsFIFO(t *testing.T) {
	q := newRetryQueue()
	q.enqueue(queuedSubmission("m1", "c1"))
	q.enqueue(queuedSubmission("m2", "c1"))
	q.enqueue(queuedSubmission("m3", "c1"))
	require.Equal(t, 3, q.len())

	now := time.Now()
	for _, want := range []string{"m1", "m2", "m3"} {
		head, ok := q.head(now)
		require.True(t, ok)
		assert.Equal(t, want, head.Submission.Message.ID)
		q.removeHead()
	}
	assert.Equal(t, 0, q.len())
}

func TestFailedHeadGatesTheWholeQueue(t *testing.T) {
	q := newRetryQueue()
	q.enqueue(queuedSubmission("m1", "c1"))
	q.enqueue(queuedSubmission("m2", "c1"))

	now := time.Now()
	head, ok := q.head(now)
	require.True(t, ok)
	q.fail(head, now)

	assert.Equal(t, 1, head.Attempts)
	assert.True(t, head.NextAttemptAt.After(now))

	// Order is strict: a cooling head hides the entries behind it too.
	_, ok = q.head(now)
	assert.False(t, ok)

	_, ok = q.head(head.NextAttemptAt.Add(time.Millisecond))
	assert.True(t, ok)
}

func TestFailureBackoffGrows(t *testing.T) {
	q := newRetryQueue()
	entry := q.enqueue(queuedSubmission("m1", "c1"))

	now := time.Now()
	q.fail(entry, now)
	first := entry.NextAttemptAt.Sub(now)
	for i := 0; i < 3; i++ {
		q.fail(entry, now)
	}
	later := entry.NextAttemptAt.Sub(now)

	assert.Equal(t, 4, entry.Attempts)
	// Jitter makes adjacent intervals overlap, but after four failures the
	// interval must clear the first one's worst case.
	assert.Greater(t, later, first)
}

func TestQueueReconcileRewritesConversationIDs(t *testing.T) {
	q := newRetryQueue()
	q.enqueue(queuedSubmission("m1", "local_1"))
	q.enqueue(queuedSubmission("m2", "other"))

	q.reconcile("local_1", "srv_1")

	entries := q.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "srv_1", entries[0].Submission.Message.ConversationID)
	assert.Equal(t, "other", entries[1].Submission.Message.ConversationID)
}
