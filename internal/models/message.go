package models

// Role identifies who produced a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Message captures one line of a chat transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// WorkingMarker is the provisional placeholder content appended right after a
// send, before any network data arrives. The first real stream update
// overwrites it in place.
const WorkingMarker = "Working on it..."

// IsPlaceholder reports whether the message is the provisional placeholder.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAgent && m.Content == WorkingMarker
}
