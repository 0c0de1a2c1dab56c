package accounting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"VaultGuard/internal/challenge"
)

type failingMessages struct {
	challenge.MessageStore
	err error
}

func (f failingMessages) ListByConversation(context.Context, string, int, challenge.SortOrder) ([]*challenge.Message, error) {
	return nil, f.err
}

func (f failingMessages) InsertMessage(context.Context, *challenge.Message) error {
	return f.err
}

func newTestLedger(t *testing.T) (*Ledger, *challenge.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := challenge.NewMemoryStore()
	if err := store.PutChallenge(ctx, &challenge.Challenge{ID: "c1", Level: challenge.LevelEasy}); err != nil {
		t.Fatalf("put challenge: %v", err)
	}
	if err := store.PutParticipant(ctx, &challenge.Participant{ChallengeID: "c1", ParticipantID: "p1", Balance: challenge.Int64(3)}); err != nil {
		t.Fatalf("put participant: %v", err)
	}
	seq := 0
	ledger := NewLedger(store, store, store,
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("msg-%d", seq)
		}),
	)
	return ledger, store
}

func TestFirstMessageDetection(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	first, out := ledger.IsFirstMessageInConversation(ctx, "conv-1")
	if !out.OK() || !first {
		t.Fatalf("expected fresh conversation to be first, got %v %+v", first, out)
	}
	if _, out := ledger.RecordMessage(ctx, "conv-1", "c1", "p1", challenge.RoleUser, "hi"); !out.OK() {
		t.Fatalf("record message: %v", out.Err)
	}
	first, _ = ledger.IsFirstMessageInConversation(ctx, "conv-1")
	if first {
		t.Fatal("expected conversation with history not to be first")
	}
}

func TestFirstMessageCheckFailsClosed(t *testing.T) {
	store := challenge.NewMemoryStore()
	boom := errors.New("store unavailable")
	ledger := NewLedger(store, store, failingMessages{err: boom})

	first, out := ledger.IsFirstMessageInConversation(context.Background(), "conv")
	if first {
		t.Fatal("lookup failure must not report a first message")
	}
	if out.Step != StepFirstMessageCheck || !errors.Is(out.Err, boom) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestRecordMessageAssignsIDAndTimestamp(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	msg, out := ledger.RecordMessage(ctx, "conv", "c1", "p1", challenge.RoleAssistant, "no way")
	if !out.OK() {
		t.Fatalf("record: %v", out.Err)
	}
	if msg.ID != "msg-1" || msg.CreatedAt != 1_700_000_000_000 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	second, _ := ledger.RecordMessage(ctx, "conv", "c1", "p1", challenge.RoleUser, "again")
	if second.ID == msg.ID {
		t.Fatal("message ids must be unique")
	}
	stored, _ := store.ListByConversation(ctx, "conv", 0, challenge.Ascending)
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(stored))
	}
}

func TestRecordMessageFailureIsReported(t *testing.T) {
	store := challenge.NewMemoryStore()
	boom := errors.New("write failed")
	ledger := NewLedger(store, store, failingMessages{err: boom})

	_, out := ledger.RecordMessage(context.Background(), "conv", "c1", "p1", challenge.RoleUser, "hi")
	if out.OK() || out.Step != StepRecordMessage {
		t.Fatalf("expected failed record outcome, got %+v", out)
	}
	if len(out.LogAttrs()) != 2 {
		t.Fatalf("expected step and error attrs, got %v", out.LogAttrs())
	}
}

func TestCountersAndBalance(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if out := ledger.IncrementParticipantCount(ctx, "c1"); !out.OK() {
		t.Fatalf("increment participants: %v", out.Err)
	}
	if out := ledger.IncrementMessageCount(ctx, "c1"); !out.OK() {
		t.Fatalf("increment messages: %v", out.Err)
	}
	if out := ledger.IncrementMessageCount(ctx, "missing"); out.OK() {
		t.Fatal("expected failure for unknown challenge")
	}

	balance, out := ledger.DecrementBalance(ctx, "c1", "p1")
	if !out.OK() || balance != 2 {
		t.Fatalf("DecrementBalance = %d, %+v", balance, out)
	}
	current, err := ledger.GetBalance(ctx, "c1", "p1")
	if err != nil || current != 2 {
		t.Fatalf("GetBalance = %d, %v", current, err)
	}
	c, _ := store.GetChallenge(ctx, "c1")
	if c.ParticipantCount != 1 || c.MessageCount != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}
