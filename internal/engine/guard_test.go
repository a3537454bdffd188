package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGuardRejectsAlreadySeenMessage(t *testing.T) {
	ctx := context.Background()
	g := newConversationGuard(nil)

	acquired, release, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil || !acquired {
		t.Fatalf("first acquire failed: acquired=%v err=%v", acquired, err)
	}
	release()

	acquired, _, err = g.Acquire(ctx, "conv-1", "m1")
	if err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if acquired {
		t.Fatal("redelivered message must be rejected")
	}

	// A fresh message id on the same conversation is fine.
	acquired, release, err = g.Acquire(ctx, "conv-1", "m2")
	if err != nil || !acquired {
		t.Fatalf("new message acquire failed: acquired=%v err=%v", acquired, err)
	}
	release()
}

func TestGuardRejectsInFlightDuplicate(t *testing.T) {
	ctx := context.Background()
	g := newConversationGuard(nil)

	acquired, release, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil || !acquired {
		t.Fatalf("acquire failed: acquired=%v err=%v", acquired, err)
	}
	defer release()

	// Same (conversation, message) while the first unit is still running.
	acquired, _, err = g.Acquire(ctx, "conv-1", "m1")
	if err != nil {
		t.Fatalf("duplicate acquire errored: %v", err)
	}
	if acquired {
		t.Fatal("in-flight duplicate must be rejected, not queued")
	}
}

func TestGuardSerializesConversation(t *testing.T) {
	ctx := context.Background()
	g := newConversationGuard(nil)

	acquired, release, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil || !acquired {
		t.Fatalf("acquire failed: acquired=%v err=%v", acquired, err)
	}

	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, rel, err := g.Acquire(ctx, "conv-1", "m2")
		if err != nil || !ok {
			t.Errorf("second acquire failed: acquired=%v err=%v", ok, err)
			return
		}
		close(entered)
		rel()
	}()

	select {
	case <-entered:
		t.Fatal("second message entered while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second message never entered after release")
	}
	wg.Wait()
}

func TestGuardDoesNotBlockOtherConversations(t *testing.T) {
	ctx := context.Background()
	g := newConversationGuard(nil)

	_, release, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	done := make(chan struct{})
	go func() {
		ok, rel, err := g.Acquire(ctx, "conv-2", "m1")
		if err == nil && ok {
			rel()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated conversation was blocked")
	}
}

func TestGuardAcquireHonorsContext(t *testing.T) {
	g := newConversationGuard(nil)

	_, release, err := g.Acquire(context.Background(), "conv-1", "m1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	acquired, _, err := g.Acquire(ctx, "conv-1", "m2")
	if acquired {
		t.Fatal("acquire succeeded despite held token")
	}
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestGuardPrunesSeenEntries(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	g := newConversationGuard(func() time.Time { return clock() })

	ctx := context.Background()
	_, release, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	// Within the retention window the message stays rejected.
	if ok, _, _ := g.Acquire(ctx, "conv-1", "m1"); ok {
		t.Fatal("message re-accepted inside the retention window")
	}

	// Beyond retention the dedup record is dropped.
	later := now.Add(defaultGuardRetention + time.Minute)
	clock = func() time.Time { return later }

	ok, rel, err := g.Acquire(ctx, "conv-1", "m1")
	if err != nil || !ok {
		t.Fatalf("expected pruned entry to be re-acquirable: acquired=%v err=%v", ok, err)
	}
	rel()
}
