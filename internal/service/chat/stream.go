package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"flightchat/internal/models"
	"flightchat/internal/worker"
)

var (
	// ErrNoActiveChat is returned when a send arrives with nothing selected.
	ErrNoActiveChat = errors.New("no active chat")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// SendMessage routes the user's text to the active chat: the transcript gets
// the user message plus the provisional placeholder at once, then a turn job
// streams the agent's reply into the chat captured here, regardless of where
// the selection moves later. The returned channel relays the transcript
// updates applied for this turn and closes when the stream ends.
func (s *Service) SendMessage(ctx context.Context, text string) (<-chan models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	chat := s.findLocked(s.activeID)
	if chat == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	// First message names the chat with the verbatim input.
	if len(chat.Messages) == 0 {
		chat.Title = text
	}
	chat.Messages = append(chat.Messages,
		models.Message{Role: models.RoleUser, Content: text},
		models.Message{Role: models.RoleAgent, Content: models.WorkingMarker},
	)
	chatID := chat.ID
	s.persistLocked(ctx)
	s.mu.Unlock()

	turnCtx, cancel := context.WithCancel(context.Background())
	handle := &turnHandle{chatID: chatID, cancel: cancel}
	s.registerTurn(handle)

	events := make(chan models.Message, 32)
	job := worker.Job{
		ChatID: chatID,
		Run: func() {
			defer close(events)
			defer cancel()
			defer s.unregisterTurn(handle)
			s.runTurn(turnCtx, chatID, text, events)
		},
	}
	if err := s.turns.Enqueue(job); err != nil {
		cancel()
		s.unregisterTurn(handle)
		close(events)
		// Transcript keeps the user message and placeholder; the turn
		// simply never produced updates.
		log.Printf("enqueue turn for chat %s: %v", chatID, err)
		return events, err
	}
	return events, nil
}

// runTurn consumes one agent stream and folds each update into the target
// chat in arrival order.
func (s *Service) runTurn(ctx context.Context, chatID, text string, events chan<- models.Message) {
	updates, err := s.agent.Stream(ctx, text, chatID)
	if err != nil {
		log.Printf("open agent stream for chat %s: %v", chatID, err)
		return
	}
	for update := range updates {
		msg := models.Message{Role: update.Role, Content: update.Content}
		if !s.applyStreamUpdate(ctx, chatID, msg) {
			// target chat is gone, late updates are discarded
			return
		}
		// Relay is advisory; the transcript is the source of truth, so a
		// lagging consumer must not stall the fold.
		select {
		case events <- msg:
		default:
		}
	}
}

// applyStreamUpdate is the coalescing fold: the provisional placeholder and
// any trailing tool notice are replaced in place, everything else appends.
// A run of tool events therefore shows only its latest entry, and multi-part
// answers keep one line per part.
func (s *Service) applyStreamUpdate(ctx context.Context, chatID string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return false
	}
	if n := len(chat.Messages); n > 0 {
		last := chat.Messages[n-1]
		if last.IsPlaceholder() || last.Role == models.RoleTool {
			chat.Messages[n-1] = msg
			s.persistLocked(ctx)
			return true
		}
	}
	chat.Messages = append(chat.Messages, msg)
	s.persistLocked(ctx)
	return true
}
