package engine

import (
	"context"
	"sync"
	"time"
)

// conversationGuard serializes message processing per conversation and
// rejects duplicate deliveries of the same (conversation, message) pair.
//
// Acquire blocks while another unit of work is in flight for the same
// conversation, then re-checks: the earlier unit may have been exactly the
// message we are guarding (a duplicate delivery), in which case it must
// not be reprocessed. Only the per-conversation token is held across a
// traversal; unrelated conversations are never blocked.
type conversationGuard struct {
	mu       sync.Mutex
	inflight map[string]*guardEntry
	seen     map[string]time.Time // conversation/message -> completion time

	retention time.Duration
	now       func() time.Time
}

type guardEntry struct {
	messageID string
	done      chan struct{}
}

const defaultGuardRetention = 10 * time.Minute

func newConversationGuard(now func() time.Time) *conversationGuard {
	if now == nil {
		now = time.Now
	}
	return &conversationGuard{
		inflight:  make(map[string]*guardEntry),
		seen:      make(map[string]time.Time),
		retention: defaultGuardRetention,
		now:       now,
	}
}

func guardSeenKey(conversationID, messageID string) string {
	return conversationID + "/" + messageID
}

// Acquire obtains the conversation token for messageID.
//
// It returns acquired=false with a nil release when the message is a
// duplicate (already processed, or currently in flight). On success the
// returned release must be called exactly once; callers defer it so it
// runs on every exit path, including panics inside node handlers.
func (g *conversationGuard) Acquire(ctx context.Context, conversationID, messageID string) (acquired bool, release func(), err error) {
	key := guardSeenKey(conversationID, messageID)

	for {
		g.mu.Lock()
		g.prune()

		if _, dup := g.seen[key]; dup {
			g.mu.Unlock()
			return false, nil, nil
		}

		entry := g.inflight[conversationID]
		if entry == nil {
			entry = &guardEntry{
				messageID: messageID,
				done:      make(chan struct{}),
			}
			g.inflight[conversationID] = entry
			g.mu.Unlock()

			release = func() {
				g.mu.Lock()
				delete(g.inflight, conversationID)
				g.seen[key] = g.now()
				g.mu.Unlock()
				close(entry.done)
			}
			return true, release, nil
		}

		if entry.messageID == messageID {
			// The same message is being processed right now.
			g.mu.Unlock()
			return false, nil, nil
		}

		done := entry.done
		g.mu.Unlock()

		select {
		case <-done:
			// Re-check: the finished unit may have consumed our message.
		case <-ctx.Done():
			return false, nil, ctx.Err()
		}
	}
}

// prune drops seen entries older than the retention window.
// Callers hold g.mu.
func (g *conversationGuard) prune() {
	if len(g.seen) == 0 {
		return
	}
	cutoff := g.now().Add(-g.retention)
	for key, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, key)
		}
	}
}
