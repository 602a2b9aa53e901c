package chat

import (
	"context"
	"log"
	"sync"

	"flightchat/internal/client"
	"flightchat/internal/models"
	"flightchat/internal/worker"
)

// Streamer opens one agent turn and yields decoded transcript updates.
type Streamer interface {
	Stream(ctx context.Context, text, chatID string) (<-chan client.Update, error)
}

// Saver owns the serialized at-rest copy of the session set.
type Saver interface {
	Load(ctx context.Context) ([]*models.Chat, string)
	Save(ctx context.Context, chats []*models.Chat, activeID string) error
}

// Enqueuer schedules turn jobs; worker.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(worker.Job) error
	CancelChat(chatID string)
}

type turnHandle struct {
	chatID string
	cancel context.CancelFunc
}

// Service is the session registry: it exclusively owns the in-memory session
// set, folds stream updates into transcripts, and mirrors every mutation to
// the durable store.
type Service struct {
	agent Streamer
	store Saver
	turns Enqueuer

	mu       sync.RWMutex
	chats    []*models.Chat
	activeID string
	inflight map[*turnHandle]struct{}
}

// NewService builds the registry, seeding it from the durable store.
func NewService(ctx context.Context, agent Streamer, store Saver, turns Enqueuer) *Service {
	chats, activeID := store.Load(ctx)
	return &Service{
		agent:    agent,
		store:    store,
		turns:    turns,
		chats:    chats,
		activeID: activeID,
		inflight: make(map[*turnHandle]struct{}),
	}
}

// Close cancels every in-flight stream. Queued turn jobs are the
// dispatcher's to drop.
func (s *Service) Close() {
	s.mu.Lock()
	handles := make([]*turnHandle, 0, len(s.inflight))
	for h := range s.inflight {
		handles = append(handles, h)
	}
	s.inflight = make(map[*turnHandle]struct{})
	s.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
}

// persistLocked mirrors the current state to storage. Persistence is
// best-effort; a failed write only logs, the in-memory state stays
// authoritative until the next mutation retries.
func (s *Service) persistLocked(ctx context.Context) {
	if err := s.store.Save(ctx, s.chats, s.activeID); err != nil {
		log.Printf("persist session state: %v", err)
	}
}

func (s *Service) findLocked(id string) *models.Chat {
	for _, chat := range s.chats {
		if chat.ID == id {
			return chat
		}
	}
	return nil
}

func (s *Service) registerTurn(h *turnHandle) {
	s.mu.Lock()
	s.inflight[h] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) unregisterTurn(h *turnHandle) {
	s.mu.Lock()
	delete(s.inflight, h)
	s.mu.Unlock()
}

func (s *Service) cancelChatTurnsLocked(chatID string) {
	for h := range s.inflight {
		if h.chatID == chatID {
			h.cancel()
			delete(s.inflight, h)
		}
	}
}
