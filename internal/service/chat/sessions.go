package chat

import (
	"context"

	"github.com/google/uuid"

	"flightchat/internal/models"
)

// CreateChat inserts a fresh empty chat at the end of the collection, makes
// it active and returns its id.
func (s *Service) CreateChat(ctx context.Context) string {
	chat := &models.Chat{
		ID:       uuid.NewString(),
		Title:    models.DefaultChatTitle,
		Messages: []models.Message{},
	}
	s.mu.Lock()
	s.chats = append(s.chats, chat)
	s.activeID = chat.ID
	s.persistLocked(ctx)
	s.mu.Unlock()
	return chat.ID
}

// SetActiveChat selects the chat the next send targets. Callers are expected
// to pass ids taken from Chats.
func (s *Service) SetActiveChat(ctx context.Context, id string) {
	s.mu.Lock()
	s.activeID = id
	s.persistLocked(ctx)
	s.mu.Unlock()
}

// DeleteChat removes the chat and cancels its in-flight streams. Deleting the
// active chat promotes the first remaining chat in display order, or clears
// the selection when none remain.
func (s *Service) DeleteChat(ctx context.Context, id string) {
	s.turns.CancelChat(id)

	s.mu.Lock()
	for i, chat := range s.chats {
		if chat.ID != id {
			continue
		}
		s.chats = append(s.chats[:i], s.chats[i+1:]...)
		if s.activeID == id {
			s.activeID = ""
			if len(s.chats) > 0 {
				s.activeID = s.chats[0].ID
			}
		}
		s.cancelChatTurnsLocked(id)
		break
	}
	s.persistLocked(ctx)
	s.mu.Unlock()
}

// RenameChat replaces the chat title; unknown ids are ignored.
func (s *Service) RenameChat(ctx context.Context, id, title string) {
	s.mu.Lock()
	if chat := s.findLocked(id); chat != nil {
		chat.Title = title
		s.persistLocked(ctx)
	}
	s.mu.Unlock()
}

// AppendMessage appends to the active chat's transcript; a no-op when no
// chat is selected.
func (s *Service) AppendMessage(ctx context.Context, msg models.Message) {
	s.mu.Lock()
	if chat := s.findLocked(s.activeID); chat != nil {
		chat.Messages = append(chat.Messages, msg)
		s.persistLocked(ctx)
	}
	s.mu.Unlock()
}

// Chats returns the chat collection in display order. The returned chats are
// copies; callers cannot mutate registry state through them.
func (s *Service) Chats() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, s.copyLocked(chat))
	}
	return out
}

// ActiveChat returns a copy of the selected chat, if any.
func (s *Service) ActiveChat() (models.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat := s.findLocked(s.activeID)
	if chat == nil {
		return models.Chat{}, false
	}
	return s.copyLocked(chat), true
}

// ActiveChatMessages returns the active transcript, empty when no chat is
// selected.
func (s *Service) ActiveChatMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat := s.findLocked(s.activeID)
	if chat == nil {
		return []models.Message{}
	}
	msgs := make([]models.Message, len(chat.Messages))
	copy(msgs, chat.Messages)
	return msgs
}

// ActiveChatID returns the current selection ("" when none).
func (s *Service) ActiveChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Service) copyLocked(chat *models.Chat) models.Chat {
	out := *chat
	out.Messages = make([]models.Message, len(chat.Messages))
	copy(out.Messages, chat.Messages)
	return out
}
