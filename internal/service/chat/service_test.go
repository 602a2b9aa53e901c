package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flightchat/internal/client"
	"flightchat/internal/models"
	"flightchat/internal/worker"
)

// fakeStore records the last snapshot handed to Save.
type fakeStore struct {
	mu       sync.Mutex
	chats    []*models.Chat
	activeID string
	saves    int
}

func (f *fakeStore) Load(ctx context.Context) ([]*models.Chat, string) {
	return f.chats, f.activeID
}

func (f *fakeStore) Save(ctx context.Context, chats []*models.Chat, activeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = chats
	f.activeID = activeID
	f.saves++
	return nil
}

func (f *fakeStore) savedActiveID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeID
}

// scriptedStreamer replays a fixed update sequence per opened stream.
type scriptedStreamer struct {
	mu      sync.Mutex
	updates []client.Update
	err     error
	chatIDs []string
}

func (s *scriptedStreamer) Stream(ctx context.Context, text, chatID string) (<-chan client.Update, error) {
	s.mu.Lock()
	s.chatIDs = append(s.chatIDs, chatID)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan client.Update)
	go func() {
		defer close(ch)
		for _, update := range s.updates {
			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// manualStreamer hands control of the update channel to the test.
type manualStreamer struct {
	ch chan client.Update
}

func (m *manualStreamer) Stream(ctx context.Context, text, chatID string) (<-chan client.Update, error) {
	return m.ch, nil
}

// asyncRunner runs each job on its own goroutine, like the dispatcher does.
type asyncRunner struct {
	wg        sync.WaitGroup
	cancelled []string
}

func (r *asyncRunner) Enqueue(job worker.Job) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		job.Run()
	}()
	return nil
}

func (r *asyncRunner) CancelChat(chatID string) {
	r.cancelled = append(r.cancelled, chatID)
}

func newTestService(agent Streamer) (*Service, *fakeStore, *asyncRunner) {
	store := &fakeStore{}
	runner := &asyncRunner{}
	svc := NewService(context.Background(), agent, store, runner)
	return svc, store, runner
}

func drainTurn(t *testing.T, events <-chan models.Message) []models.Message {
	t.Helper()
	var out []models.Message
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("turn did not finish in time")
		}
	}
}

func TestActiveChatInvariantUnderCreateDelete(t *testing.T) {
	svc, _, _ := newTestService(&scriptedStreamer{})
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		activeID := svc.ActiveChatID()
		if activeID == "" {
			return
		}
		for _, chat := range svc.Chats() {
			if chat.ID == activeID {
				return
			}
		}
		t.Fatalf("%s: active id %q not present in chats", step, activeID)
	}

	a := svc.CreateChat(ctx)
	check("create a")
	b := svc.CreateChat(ctx)
	check("create b")
	c := svc.CreateChat(ctx)
	check("create c")

	if svc.ActiveChatID() != c {
		t.Fatalf("newest chat should be active")
	}

	svc.DeleteChat(ctx, b)
	check("delete inactive")
	svc.DeleteChat(ctx, c)
	check("delete active")
	if svc.ActiveChatID() != a {
		t.Fatalf("expected first remaining chat %q active, got %q", a, svc.ActiveChatID())
	}
	svc.DeleteChat(ctx, "no-such-id")
	check("delete unknown")
	svc.DeleteChat(ctx, a)
	check("delete last")
	if svc.ActiveChatID() != "" {
		t.Fatalf("expected no active chat after deleting everything")
	}
}

func TestDeleteLastChatClearsPersistedActiveID(t *testing.T) {
	svc, store, _ := newTestService(&scriptedStreamer{})
	ctx := context.Background()

	id := svc.CreateChat(ctx)
	if store.savedActiveID() != id {
		t.Fatalf("create did not persist active id")
	}
	svc.DeleteChat(ctx, id)
	if store.savedActiveID() != "" {
		t.Fatalf("delete last chat must clear the persisted active id")
	}
}

func TestFirstMessageSetsTitleOnce(t *testing.T) {
	streamer := &scriptedStreamer{updates: []client.Update{{Role: models.RoleAgent, Content: "sure"}}}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()
	svc.CreateChat(ctx)

	events, err := svc.SendMessage(ctx, "Plan a trip to Tokyo")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	active, ok := svc.ActiveChat()
	if !ok || active.Title != "Plan a trip to Tokyo" {
		t.Fatalf("title should match the first user message, got %q", active.Title)
	}

	events, err = svc.SendMessage(ctx, "make it next week")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	active, _ = svc.ActiveChat()
	if active.Title != "Plan a trip to Tokyo" {
		t.Fatalf("second message must not retitle the chat, got %q", active.Title)
	}
}

func TestToolRunCollapsesToFinalAnswer(t *testing.T) {
	streamer := &scriptedStreamer{updates: []client.Update{
		{Role: models.RoleTool, Content: "Searching flights"},
		{Role: models.RoleTool, Content: "Found 3 options"},
		{Role: models.RoleAgent, Content: "Here are your options"},
	}}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()
	svc.CreateChat(ctx)

	events, err := svc.SendMessage(ctx, "find me a flight")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	msgs := svc.ActiveChatMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected user message and one agent line, got %#v", msgs)
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "find me a flight" {
		t.Fatalf("user message mismatch: %#v", msgs[0])
	}
	if msgs[1].Role != models.RoleAgent || msgs[1].Content != "Here are your options" {
		t.Fatalf("tool notices and placeholder must collapse into the answer, got %#v", msgs[1])
	}
}

func TestMultiPartAnswerKeepsEachPart(t *testing.T) {
	streamer := &scriptedStreamer{updates: []client.Update{
		{Role: models.RoleAgent, Content: "Part 1"},
		{Role: models.RoleAgent, Content: "Part 2"},
	}}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()
	svc.CreateChat(ctx)

	events, err := svc.SendMessage(ctx, "tell me more")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	msgs := svc.ActiveChatMessages()
	if len(msgs) != 3 {
		t.Fatalf("expected user + two answer parts, got %#v", msgs)
	}
	if msgs[1].Content != "Part 1" || msgs[2].Content != "Part 2" {
		t.Fatalf("answer parts mismatch: %#v", msgs)
	}
}

func TestEmptyStreamLeavesPlaceholder(t *testing.T) {
	svc, _, runner := newTestService(&scriptedStreamer{})
	ctx := context.Background()
	svc.CreateChat(ctx)

	events, err := svc.SendMessage(ctx, "hello?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	msgs := svc.ActiveChatMessages()
	if len(msgs) != 2 || !msgs[1].IsPlaceholder() {
		t.Fatalf("placeholder should survive a turn with no updates, got %#v", msgs)
	}
}

func TestStreamOpenFailureKeepsPartialTranscript(t *testing.T) {
	streamer := &scriptedStreamer{err: errors.New("agent offline")}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()
	svc.CreateChat(ctx)

	events, err := svc.SendMessage(ctx, "anyone there?")
	if err != nil {
		t.Fatalf("send itself must not fail: %v", err)
	}
	drainTurn(t, events)
	runner.wg.Wait()

	msgs := svc.ActiveChatMessages()
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || !msgs[1].IsPlaceholder() {
		t.Fatalf("failed turn should leave user message and placeholder, got %#v", msgs)
	}
}

func TestLateUpdatesRouteToOriginChat(t *testing.T) {
	streamer := &manualStreamer{ch: make(chan client.Update)}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()

	chatA := svc.CreateChat(ctx)
	chatB := svc.CreateChat(ctx)
	svc.SetActiveChat(ctx, chatA)

	events, err := svc.SendMessage(ctx, "book from chat A")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// User switches away before the reply lands.
	svc.SetActiveChat(ctx, chatB)
	streamer.ch <- client.Update{Role: models.RoleAgent, Content: "Done for A"}
	close(streamer.ch)
	drainTurn(t, events)
	runner.wg.Wait()

	if msgs := svc.ActiveChatMessages(); len(msgs) != 0 {
		t.Fatalf("chat B must stay untouched, got %#v", msgs)
	}
	svc.SetActiveChat(ctx, chatA)
	msgs := svc.ActiveChatMessages()
	if len(msgs) != 2 || msgs[1].Content != "Done for A" {
		t.Fatalf("reply must land in the chat captured at send time, got %#v", msgs)
	}
}

func TestUpdatesForDeletedChatDiscarded(t *testing.T) {
	streamer := &manualStreamer{ch: make(chan client.Update)}
	svc, _, runner := newTestService(streamer)
	ctx := context.Background()

	doomed := svc.CreateChat(ctx)
	survivor := svc.CreateChat(ctx)
	svc.SetActiveChat(ctx, doomed)

	events, err := svc.SendMessage(ctx, "about to vanish")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	svc.DeleteChat(ctx, doomed)

	select {
	case streamer.ch <- client.Update{Role: models.RoleAgent, Content: "too late"}:
	case <-time.After(time.Second):
		// in-flight stream already cancelled, equally fine
	}
	close(streamer.ch)
	drainTurn(t, events)
	runner.wg.Wait()

	if svc.ActiveChatID() != survivor {
		t.Fatalf("survivor chat should be active")
	}
	for _, chat := range svc.Chats() {
		if chat.ID == doomed {
			t.Fatalf("deleted chat resurrected: %#v", chat)
		}
	}
	if msgs := svc.ActiveChatMessages(); len(msgs) != 0 {
		t.Fatalf("late update leaked into another chat: %#v", msgs)
	}
}

func TestSendValidation(t *testing.T) {
	svc, _, _ := newTestService(&scriptedStreamer{})
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "hi"); !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("expected ErrNoActiveChat, got %v", err)
	}
	svc.CreateChat(ctx)
	if _, err := svc.SendMessage(ctx, "   \n"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestRenameChat(t *testing.T) {
	svc, _, _ := newTestService(&scriptedStreamer{})
	ctx := context.Background()

	id := svc.CreateChat(ctx)
	svc.RenameChat(ctx, id, "Trip planning")
	active, _ := svc.ActiveChat()
	if active.Title != "Trip planning" {
		t.Fatalf("rename did not apply: %q", active.Title)
	}
	svc.RenameChat(ctx, "missing", "nope")
	active, _ = svc.ActiveChat()
	if active.Title != "Trip planning" {
		t.Fatalf("rename of unknown id must be a no-op")
	}
}

func TestAppendMessageWithoutActiveChat(t *testing.T) {
	svc, store, _ := newTestService(&scriptedStreamer{})
	ctx := context.Background()

	before := store.saves
	svc.AppendMessage(ctx, models.Message{Role: models.RoleUser, Content: "lost"})
	if store.saves != before {
		t.Fatalf("append without active chat must not mutate state")
	}
	if len(svc.Chats()) != 0 {
		t.Fatalf("no chat should exist")
	}
}
