package models

// Chat groups one independent conversation thread with its own history.
type Chat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// DefaultChatTitle is the placeholder title until the first user message
// names the chat.
const DefaultChatTitle = "New Chat"
