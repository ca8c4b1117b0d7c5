package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/conversation"
	"github.com/MikeSquared-Agency/debchat/internal/events"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

func TestNew_RejectsUnauthenticated(t *testing.T) {
	_, err := New(auth.Identity{}, &fakeGateway{}, newFakeStore(), testModels, nil, nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSendMessage_FirstSendCreatesConversation(t *testing.T) {
	gw := &fakeGateway{reply: "Hi there"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())

	c, err := r.SendMessage(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	want := []conversation.Message{
		{Content: "Hello", IsUser: true},
		{Content: "Hi there", IsUser: false},
	}
	if len(c.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), c.Messages)
	}
	for i := range want {
		if c.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, c.Messages[i], want[i])
		}
	}
	if c.Title != "Hello..." {
		t.Errorf("expected title 'Hello...', got %q", c.Title)
	}

	snap := r.Snapshot()
	if len(snap.Conversations) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(snap.Conversations))
	}
	if snap.ActiveID != c.ID {
		t.Errorf("expected active %v, got %v", c.ID, snap.ActiveID)
	}
	if len(snap.Messages) != 2 {
		t.Errorf("expected display buffer of 2, got %d", len(snap.Messages))
	}
	if snap.State != "idle" {
		t.Errorf("expected idle after send, got %s", snap.State)
	}
}

func TestSendMessage_AuthenticatedReconcilesRemoteID(t *testing.T) {
	gw := &fakeGateway{reply: "Hi there"}
	st := newFakeStore()
	st.nextID = []string{"abc123"}
	r, pub := newTestReconciler(t, auth.User(owner), gw, st)

	c, err := r.SendMessage(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if c.ID != conversation.Remote("abc123") {
		t.Errorf("expected returned id abc123, got %v", c.ID)
	}

	snap := r.Snapshot()
	if len(snap.Conversations) != 1 {
		t.Fatalf("expected one conversation after reconcile, got %d", len(snap.Conversations))
	}
	if snap.Conversations[0].ID != conversation.Remote("abc123") {
		t.Errorf("expected list entry keyed abc123, got %v", snap.Conversations[0].ID)
	}
	if snap.ActiveID != conversation.Remote("abc123") {
		t.Errorf("expected active abc123, got %v", snap.ActiveID)
	}

	stored, ok := st.get("abc123")
	if !ok {
		t.Fatal("expected conversation in store")
	}
	if stored.Title != "Hello..." || len(stored.Messages) != 2 || stored.Owner != owner {
		t.Errorf("unexpected stored conversation: %+v", stored)
	}
	if pub.count(events.SubjectChatCreated) != 1 {
		t.Errorf("expected one created event, got %d", pub.count(events.SubjectChatCreated))
	}
}

func TestSendMessage_SecondSendUpdatesRemote(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, pub := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	first, _ := r.SendMessage(ctx, "one")
	second, err := r.SendMessage(ctx, "two")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same conversation, got %v then %v", first.ID, second.ID)
	}
	if st.creates != 1 || st.updates != 1 {
		t.Errorf("expected 1 create and 1 update, got %d and %d", st.creates, st.updates)
	}
	stored, _ := st.get(first.ID.Value())
	if len(stored.Messages) != 4 {
		t.Errorf("expected 4 stored messages, got %d", len(stored.Messages))
	}
	if second.Title != "one..." {
		t.Errorf("expected title derived from first message, got %q", second.Title)
	}
	if pub.count(events.SubjectChatUpdated) != 1 {
		t.Errorf("expected one updated event, got %d", pub.count(events.SubjectChatUpdated))
	}
}

func TestSendMessage_GuestExtendsSingleConversation(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, st)
	ctx := context.Background()

	first, _ := r.SendMessage(ctx, "one")
	second, _ := r.SendMessage(ctx, "two")

	if first.ID != second.ID {
		t.Errorf("second send must extend the first conversation")
	}
	if !second.ID.IsLocal() {
		t.Errorf("guest conversations never acquire a remote id, got %v", second.ID)
	}
	if n := len(r.Snapshot().Conversations); n != 1 {
		t.Errorf("expected one conversation, got %d", n)
	}
	if len(second.Messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(second.Messages))
	}
	if st.calls() != 0 {
		t.Errorf("guest session must not touch the store, got %d calls", st.calls())
	}
}

func TestSendMessage_GatewayFailureAppendsFallback(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("connection refused")}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)

	c, err := r.SendMessage(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("gateway failure must not surface, got %v", err)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected user + fallback, got %+v", c.Messages)
	}
	if c.Messages[1].Content != conversation.FallbackReply || c.Messages[1].IsUser {
		t.Errorf("expected fallback model message, got %+v", c.Messages[1])
	}
	if st.creates != 1 {
		t.Errorf("expected fallback turn to be persisted, got %d creates", st.creates)
	}
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := r.SendMessage(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("SendMessage(%q) error = %v, want ErrEmptyMessage", text, err)
		}
	}
	if gw.calls != 0 {
		t.Errorf("expected no gateway calls, got %d", gw.calls)
	}
	if n := len(r.Snapshot().Conversations); n != 0 {
		t.Errorf("expected no conversations, got %d", n)
	}
}

func TestSendMessage_TrimsText(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())

	c, _ := r.SendMessage(context.Background(), "  Hello  ")
	if c.Messages[0].Content != "Hello" {
		t.Errorf("expected trimmed content, got %q", c.Messages[0].Content)
	}
	if gw.prompts[0] != "Hello" {
		t.Errorf("expected trimmed prompt, got %q", gw.prompts[0])
	}
}

func TestSendMessage_RejectsWhileSending(t *testing.T) {
	gw := &fakeGateway{reply: "ok", block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.SendMessage(ctx, "first")
		done <- err
	}()
	<-gw.entered

	if r.State() != Sending {
		t.Errorf("expected Sending during gateway call, got %v", r.State())
	}
	snap := r.Snapshot()
	if len(snap.Conversations) != 1 || len(snap.Messages) != 1 {
		t.Errorf("expected optimistic conversation with the user message, got %+v", snap)
	}

	if _, err := r.SendMessage(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if r.State() != Idle {
		t.Errorf("expected Idle after send settles, got %v", r.State())
	}
	if gw.calls != 1 {
		t.Errorf("expected one gateway call, got %d", gw.calls)
	}
	if n := len(r.Snapshot().Messages); n != 2 {
		t.Errorf("rejected send must not alter the buffer, got %d messages", n)
	}
}

func TestDeleteConversation_InFlightRejected(t *testing.T) {
	gw := &fakeGateway{reply: "ok", block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		r.SendMessage(ctx, "first")
		close(done)
	}()
	<-gw.entered

	id := r.Snapshot().ActiveID
	if err := r.DeleteConversation(ctx, id); !errors.Is(err, ErrConversationBusy) {
		t.Errorf("expected ErrConversationBusy, got %v", err)
	}
	close(gw.block)
	<-done

	if err := r.DeleteConversation(ctx, id); err != nil {
		t.Errorf("delete after send settled failed: %v", err)
	}
}

func TestSendMessage_StoreCreateFailureKeepsReplyAndRecovers(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	st.createErr = fmt.Errorf("db down")
	r, pub := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	c, err := r.SendMessage(ctx, "Hello")
	if err != nil {
		t.Fatalf("store failure must not surface, got %v", err)
	}
	if !c.ID.IsLocal() {
		t.Errorf("expected conversation to stay local, got %v", c.ID)
	}
	if len(c.Messages) != 2 {
		t.Errorf("expected reply to be kept, got %+v", c.Messages)
	}
	if pub.count(events.SubjectChatPersistFailed) != 1 {
		t.Errorf("expected persist_failed event")
	}

	st.mu.Lock()
	st.createErr = nil
	st.mu.Unlock()

	c, _ = r.SendMessage(ctx, "again")
	if !c.ID.IsRemote() {
		t.Fatalf("expected next send to reconcile, got %v", c.ID)
	}
	stored, _ := st.get(c.ID.Value())
	if len(stored.Messages) != 4 {
		t.Errorf("expected full history persisted on recovery, got %d", len(stored.Messages))
	}
	if n := len(r.Snapshot().Conversations); n != 1 {
		t.Errorf("expected one conversation, got %d", n)
	}
}

func TestSendMessage_StoreUpdateFailureIsLogged(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	first, _ := r.SendMessage(ctx, "one")
	st.mu.Lock()
	st.updateErr = fmt.Errorf("timeout")
	st.mu.Unlock()

	c, err := r.SendMessage(ctx, "two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != first.ID || len(c.Messages) != 4 {
		t.Errorf("expected displayed conversation to keep both turns, got %+v", c)
	}
}

func TestStartNewConversation(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())
	ctx := context.Background()

	r.SendMessage(ctx, "old")
	c := r.StartNewConversation()

	snap := r.Snapshot()
	if snap.Conversations[0].ID != c.ID {
		t.Error("expected new conversation at head of list")
	}
	if snap.ActiveID != c.ID {
		t.Error("expected new conversation to be active")
	}
	if len(snap.Messages) != 0 {
		t.Errorf("expected empty display buffer, got %d", len(snap.Messages))
	}
	if c.Title != conversation.DefaultTitle {
		t.Errorf("expected default title, got %q", c.Title)
	}

	sent, _ := r.SendMessage(ctx, "fresh start")
	if sent.ID != c.ID {
		t.Errorf("expected send to target the new conversation")
	}
	if sent.Title != "fresh start..." {
		t.Errorf("expected derived title, got %q", sent.Title)
	}
	if len(r.Snapshot().Conversations) != 2 {
		t.Errorf("expected two conversations")
	}
}

func TestStartNewConversation_PersistsOnFirstSend(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)

	c := r.StartNewConversation()
	sent, _ := r.SendMessage(context.Background(), "hi")
	if !sent.ID.IsRemote() {
		t.Fatalf("expected remote id after persist, got %v", sent.ID)
	}
	snap := r.Snapshot()
	for _, conv := range snap.Conversations {
		if conv.ID == c.ID {
			t.Error("temporary id must not survive reconciliation")
		}
	}
	if snap.ActiveID != sent.ID {
		t.Errorf("expected active pointer to follow reconciliation")
	}
}

func TestSelectConversation(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())
	ctx := context.Background()

	first, _ := r.SendMessage(ctx, "first")
	r.StartNewConversation()

	if !r.SelectConversation(first.ID) {
		t.Fatal("expected select of known id to succeed")
	}
	snap := r.Snapshot()
	if snap.ActiveID != first.ID || len(snap.Messages) != 2 {
		t.Errorf("expected first conversation displayed, got %+v", snap)
	}

	if r.SelectConversation(conversation.Remote("nope")) {
		t.Error("expected select of unknown id to be a no-op")
	}
	if r.Snapshot().ActiveID != first.ID {
		t.Error("unknown select must not change the active pointer")
	}
}

func TestDeleteConversation_GuestIsLocal(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, st)
	ctx := context.Background()

	c, _ := r.SendMessage(ctx, "hi")
	if err := r.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	snap := r.Snapshot()
	if len(snap.Conversations) != 0 || !snap.ActiveID.IsZero() || len(snap.Messages) != 0 {
		t.Errorf("expected empty state, got %+v", snap)
	}
	if st.calls() != 0 {
		t.Errorf("guest delete must not call the store, got %d calls", st.calls())
	}
}

func TestDeleteConversation_AuthenticatedConfirmed(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, pub := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	c, _ := r.SendMessage(ctx, "hi")
	if err := r.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, ok := st.get(c.ID.Value()); ok {
		t.Error("expected remote record removed")
	}
	if n := len(r.Snapshot().Conversations); n != 0 {
		t.Errorf("expected empty list, got %d", n)
	}
	if pub.count(events.SubjectChatDeleted) != 1 {
		t.Error("expected deleted event")
	}
}

func TestDeleteConversation_NotFoundLeavesListUnchanged(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	st.seed("someone-else@example.com", "theirs", "x", time.Now())
	st.seed(owner, "mine", "mine...", time.Now(), conversation.UserMessage("mine"))
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	st.mu.Lock()
	delete(st.logs, "mine")
	st.mu.Unlock()

	before := r.Snapshot()
	err := r.DeleteConversation(ctx, conversation.Remote("mine"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	after := r.Snapshot()
	if len(after.Conversations) != len(before.Conversations) || after.Conversations[0].ID != before.Conversations[0].ID {
		t.Errorf("list changed after failed delete: %+v", after.Conversations)
	}
	if after.ActiveID != before.ActiveID {
		t.Error("active pointer changed after failed delete")
	}
}

func TestDeleteConversation_StoreErrorLeavesListUnchanged(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)
	ctx := context.Background()

	c, _ := r.SendMessage(ctx, "hi")
	st.mu.Lock()
	st.deleteErr = fmt.Errorf("unavailable")
	st.mu.Unlock()

	if err := r.DeleteConversation(ctx, c.ID); err == nil {
		t.Fatal("expected delete error")
	}
	if n := len(r.Snapshot().Conversations); n != 1 {
		t.Errorf("expected list unchanged, got %d", n)
	}
}

func TestDeleteConversation_UnpersistedIsLocal(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	st := newFakeStore()
	r, _ := newTestReconciler(t, auth.User(owner), gw, st)

	c := r.StartNewConversation()
	if err := r.DeleteConversation(context.Background(), c.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if st.deletes != 0 {
		t.Errorf("never-persisted conversation must not hit the store")
	}
	if n := len(r.Snapshot().Conversations); n != 0 {
		t.Errorf("expected empty list, got %d", n)
	}
}

func TestLoad_SeedsNewestFirst(t *testing.T) {
	st := newFakeStore()
	st.seed(owner, "old", "old...", time.Now().Add(-time.Hour), conversation.UserMessage("old"))
	st.seed(owner, "new", "new...", time.Now(), conversation.UserMessage("new"), conversation.ModelMessage("reply"))
	st.seed("other@example.com", "foreign", "x", time.Now())

	r, _ := newTestReconciler(t, auth.User(owner), &fakeGateway{}, st)
	snap := r.Snapshot()

	if len(snap.Conversations) != 2 {
		t.Fatalf("expected 2 owned conversations, got %d", len(snap.Conversations))
	}
	if snap.Conversations[0].ID != conversation.Remote("new") {
		t.Errorf("expected newest first, got %v", snap.Conversations[0].ID)
	}
	if snap.ActiveID != conversation.Remote("new") || len(snap.Messages) != 2 {
		t.Errorf("expected newest conversation active and displayed, got %+v", snap)
	}
	if snap.Model != "db 1.5" {
		t.Errorf("expected default model, got %q", snap.Model)
	}
}

func TestLoad_FailureYieldsEmptyList(t *testing.T) {
	st := newFakeStore()
	st.seed(owner, "x", "x", time.Now())
	st.listErr = fmt.Errorf("db down")

	r, _ := newTestReconciler(t, auth.User(owner), &fakeGateway{reply: "ok"}, st)
	if n := len(r.Snapshot().Conversations); n != 0 {
		t.Errorf("expected empty list on load failure, got %d", n)
	}
	if _, err := r.SendMessage(context.Background(), "still works"); err != nil {
		t.Errorf("session must proceed after load failure: %v", err)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	r, _ := newTestReconciler(t, auth.User(owner), &fakeGateway{}, newFakeStore())
	local := r.StartNewConversation().ID
	remote := conversation.Remote("abc123")

	r.Reconcile(local, remote, "")
	r.Reconcile(local, remote, "")

	snap := r.Snapshot()
	if len(snap.Conversations) != 1 || snap.Conversations[0].ID != remote {
		t.Fatalf("expected single remote entry, got %+v", snap.Conversations)
	}
	if snap.ActiveID != remote {
		t.Errorf("expected active to follow, got %v", snap.ActiveID)
	}
}

func TestReconcile_DropsDuplicate(t *testing.T) {
	st := newFakeStore()
	st.seed(owner, "abc123", "x", time.Now())
	r, _ := newTestReconciler(t, auth.User(owner), &fakeGateway{}, st)
	local := r.StartNewConversation().ID

	r.Reconcile(local, conversation.Remote("abc123"), "")

	snap := r.Snapshot()
	if len(snap.Conversations) != 1 {
		t.Fatalf("expected duplicate to collapse, got %+v", snap.Conversations)
	}
	if snap.ActiveID != conversation.Remote("abc123") {
		t.Errorf("expected active remote id, got %v", snap.ActiveID)
	}
}

func TestSelectModel(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	r, _ := newTestReconciler(t, auth.GuestIdentity(), gw, newFakeStore())
	ctx := context.Background()

	if err := r.SelectModel(ctx, "Friday"); err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	r.SendMessage(ctx, "hi")
	if gw.models[0] != "Friday" {
		t.Errorf("expected send to use Friday, got %q", gw.models[0])
	}
	if err := r.SelectModel(ctx, "HAL"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

// Random intent sequences must never leave a dangling active pointer or two
// entries for the same conversation.
func TestInvariants_RandomSequences(t *testing.T) {
	for _, id := range []auth.Identity{auth.GuestIdentity(), auth.User(owner)} {
		t.Run(id.Kind.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			gw := &fakeGateway{reply: "ok"}
			st := newFakeStore()
			r, _ := newTestReconciler(t, id, gw, st)
			ctx := context.Background()

			for step := 0; step < 300; step++ {
				snap := r.Snapshot()
				switch rng.Intn(5) {
				case 0:
					r.StartNewConversation()
				case 1, 2:
					if rng.Intn(4) == 0 {
						gw.mu.Lock()
						gw.err = fmt.Errorf("flaky")
						gw.mu.Unlock()
					}
					before := 0
					if !snap.ActiveID.IsZero() {
						before = len(snap.Messages)
					}
					c, err := r.SendMessage(ctx, fmt.Sprintf("msg %d", step))
					if err != nil {
						t.Fatalf("step %d: send failed: %v", step, err)
					}
					if len(c.Messages) != before+2 {
						t.Fatalf("step %d: expected %d messages, got %d", step, before+2, len(c.Messages))
					}
					gw.mu.Lock()
					gw.err = nil
					gw.mu.Unlock()
				case 3:
					if len(snap.Conversations) > 0 {
						r.SelectConversation(snap.Conversations[rng.Intn(len(snap.Conversations))].ID)
					}
				case 4:
					if len(snap.Conversations) > 0 {
						r.DeleteConversation(ctx, snap.Conversations[rng.Intn(len(snap.Conversations))].ID)
					}
				}
				checkInvariants(t, step, r.Snapshot())
			}
		})
	}
}

func checkInvariants(t *testing.T, step int, snap Snapshot) {
	t.Helper()
	seen := make(map[conversation.ID]bool)
	activeFound := snap.ActiveID.IsZero()
	for _, c := range snap.Conversations {
		if seen[c.ID] {
			t.Fatalf("step %d: duplicate conversation %v", step, c.ID)
		}
		seen[c.ID] = true
		if c.ID == snap.ActiveID {
			activeFound = true
		}
	}
	if !activeFound {
		t.Fatalf("step %d: active %v not in list", step, snap.ActiveID)
	}
}
