package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"flightchat/internal/models"
)

// Entry names for the two independently stored values.
const (
	chatsKey      = "chats"
	activeChatKey = "activeChatId"
)

// Store persists the session set as two JSON entries in the KV backend.
// The two writes are not transactional; a crash between them can leave the
// stored active id pointing at a chat that no longer exists, which Load
// repairs by treating the id as unset.
type Store struct {
	kv KV
}

// NewStore wraps a KV backend as the session store.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load reads the chat collection and active chat id. Missing or malformed
// entries degrade to an empty collection and an unset id; Load never fails.
func (s *Store) Load(ctx context.Context) ([]*models.Chat, string) {
	var chats []*models.Chat
	raw, err := s.kv.Get(ctx, chatsKey)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &chats); err != nil {
			log.Printf("stored chats unreadable, starting empty: %v", err)
			chats = nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		log.Printf("load chats: %v", err)
	}

	var activeID string
	raw, err = s.kv.Get(ctx, activeChatKey)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &activeID); err != nil {
			log.Printf("stored active chat id unreadable: %v", err)
			activeID = ""
		}
	case errors.Is(err, ErrNotFound):
	default:
		log.Printf("load active chat id: %v", err)
	}

	// Repair a dangling reference before handing state to the registry.
	if activeID != "" {
		found := false
		for _, chat := range chats {
			if chat.ID == activeID {
				found = true
				break
			}
		}
		if !found {
			activeID = ""
		}
	}
	return chats, activeID
}

// Save writes both entries. An unset active id removes the stored entry
// rather than writing an empty value.
func (s *Store) Save(ctx context.Context, chats []*models.Chat, activeID string) error {
	if chats == nil {
		chats = []*models.Chat{}
	}
	data, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}
	if err := s.kv.Set(ctx, chatsKey, string(data)); err != nil {
		return fmt.Errorf("save chats: %w", err)
	}

	if activeID == "" {
		if err := s.kv.Delete(ctx, activeChatKey); err != nil {
			return fmt.Errorf("clear active chat id: %w", err)
		}
		return nil
	}
	data, err = json.Marshal(activeID)
	if err != nil {
		return fmt.Errorf("encode active chat id: %w", err)
	}
	if err := s.kv.Set(ctx, activeChatKey, string(data)); err != nil {
		return fmt.Errorf("save active chat id: %w", err)
	}
	return nil
}
