package syncengine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryQueueEntry is one locally-originated write awaiting confirmed remote
// persistence.
type RetryQueueEntry struct {
	Submission    TurnSubmission
	Attempts      int
	NextAttemptAt time.Time

	boff *backoff.ExponentialBackOff
}

// retryQueue is a FIFO of failed turn submissions. Entries leave only on
// confirmed remote success; failed attempts reschedule with jittered
// exponential backoff so a degraded store isn't hammered. Not safe for
// concurrent use; the engine serializes access.
type retryQueue struct {
	entries []*RetryQueueEntry
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

func newEntryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.RandomizationFactor = 0.3
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // entries never expire, they wait for success
	return b
}

func (q *retryQueue) enqueue(sub TurnSubmission) *RetryQueueEntry {
	e := &RetryQueueEntry{Submission: sub, boff: newEntryBackoff()}
	q.entries = append(q.entries, e)
	return e
}

func (q *retryQueue) len() int { return len(q.entries) }

// head returns the first entry whose backoff window has elapsed, preserving
// FIFO order: if the head is still cooling down, nothing is eligible.
func (q *retryQueue) head(now time.Time) (*RetryQueueEntry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	if now.Before(e.NextAttemptAt) {
		return nil, false
	}
	return e, true
}

func (q *retryQueue) removeHead() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]
}

// fail records a failed attempt on the head and schedules the next one.
func (q *retryQueue) fail(e *RetryQueueEntry, now time.Time) {
	e.Attempts++
	if e.boff == nil {
		e.boff = newEntryBackoff()
	}
	e.NextAttemptAt = now.Add(e.boff.NextBackOff())
}

// reconcile rewrites queued submissions that still reference a provisional
// conversation id.
func (q *retryQueue) reconcile(provisionalID, canonicalID string) {
	for _, e := range q.entries {
		if e.Submission.Message.ConversationID == provisionalID {
			e.Submission.Message.ConversationID = canonicalID
		}
	}
}

func (q *retryQueue) snapshot() []RetryQueueEntry {
	out := make([]RetryQueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}
